// Package resume defines the ResumeRecord payload extracted from a document
// and the text-normalization helpers shared by the quality policy and the
// auto-correction loop.
package resume

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Experience is one entry in a ResumeRecord's work history.
type Experience struct {
	Company string `json:"company"`
	Title   string `json:"title"`
	Years   string `json:"years"`
}

// Record is the logical payload extracted from a document (spec.md §3).
type Record struct {
	Name            *string      `json:"Name"`
	Email           *string      `json:"Email"`
	Phone           *string      `json:"Phone"`
	CurrentPosition *string      `json:"Current_Position"`
	Skills          []string     `json:"Skills"`
	Experience      []Experience `json:"Experience"`
}

// Template returns a Record with every field null/empty, the shape produced
// when the Structure collaborator's response fails to parse.
func Template() Record {
	return Record{Skills: []string{}, Experience: []Experience{}}
}

// StructureValid requires all of {Name, Email, Phone, Current_Position,
// Skills, Experience} present as keys, Skills a list, and Experience a list
// of objects each having {company, title, years}. The Record type always
// carries the three Experience fields, so validity here reduces to the keys
// a typed decode cannot guarantee: Skills and Experience must be present as
// lists (possibly empty), not absent/null.
func (r Record) StructureValid() bool {
	return r.Skills != nil && r.Experience != nil
}

// FromRaw validates and converts an untyped JSON object (as decoded from
// the Structure collaborator's response) into a Record, reporting whether
// every required key was present with the right shape. This exists because
// a direct json.Unmarshal into Record would silently zero-fill missing
// keys, hiding exactly the signal spec.md's structure_valid rule needs.
func FromRaw(raw map[string]any) (Record, bool) {
	required := []string{"Name", "Email", "Phone", "Current_Position", "Skills", "Experience"}
	for _, key := range required {
		if _, ok := raw[key]; !ok {
			return Template(), false
		}
	}

	skillsRaw, ok := raw["Skills"].([]any)
	if !ok {
		return Template(), false
	}
	expRaw, ok := raw["Experience"].([]any)
	if !ok {
		return Template(), false
	}

	r := Record{
		Name:            stringPtr(raw["Name"]),
		Email:           stringPtr(raw["Email"]),
		Phone:           stringPtr(raw["Phone"]),
		CurrentPosition: stringPtr(raw["Current_Position"]),
		Skills:          make([]string, 0, len(skillsRaw)),
		Experience:      make([]Experience, 0, len(expRaw)),
	}
	for _, s := range skillsRaw {
		if str, ok := s.(string); ok {
			r.Skills = append(r.Skills, str)
		}
	}
	valid := true
	for _, e := range expRaw {
		entry, ok := e.(map[string]any)
		if !ok {
			valid = false
			continue
		}
		for _, field := range []string{"company", "title", "years"} {
			if _, ok := entry[field]; !ok {
				valid = false
			}
		}
		r.Experience = append(r.Experience, Experience{
			Company: stringOf(entry["company"]),
			Title:   stringOf(entry["title"]),
			Years:   stringOf(entry["years"]),
		})
	}

	return r, valid
}

func stringPtr(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// Flatten renders the record's JSON representation for coverage scoring -
// the whole record, not a curated subset, matching
// original_source/extraction/auto_correction.py's json.dumps(json_data).
func (r Record) Flatten() string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

var nonAlphanumeric = regexp.MustCompile(`[^\w\s]`)

// SignificantWords extracts the set of significant words from text:
// lowercased, non-alphanumeric characters stripped, length > 2, not purely
// numeric. Grounded on
// original_source/extraction/auto_correction.py::_extract_significant_words.
func SignificantWords(text string) map[string]struct{} {
	cleaned := nonAlphanumeric.ReplaceAllString(strings.ToLower(text), " ")
	words := make(map[string]struct{})
	for _, w := range strings.Fields(cleaned) {
		if len(w) <= 2 {
			continue
		}
		if _, err := strconv.ParseFloat(w, 64); err == nil {
			continue
		}
		words[w] = struct{}{}
	}
	return words
}

// CoverageScore is the fraction of significant words from text that also
// appear in the record's flattened JSON text.
func CoverageScore(r Record, text string) float64 {
	sourceWords := SignificantWords(text)
	if len(sourceWords) == 0 {
		return 0
	}
	jsonWords := SignificantWords(r.Flatten())

	common := 0
	for w := range sourceWords {
		if _, ok := jsonWords[w]; ok {
			common++
		}
	}
	return float64(common) / float64(len(sourceWords))
}

var phoneRE = regexp.MustCompile(`\d{3}[-.\s]?\d{3}[-.\s]?\d{4}`)

// HasEmailEvidence reports whether text looks like it contains an email
// address.
func HasEmailEvidence(text string) bool {
	return strings.Contains(text, "@")
}

// HasPhoneEvidence reports whether text looks like it contains a phone
// number.
func HasPhoneEvidence(text string) bool {
	return phoneRE.MatchString(text)
}

// FlattenForDataset renders the fixed textual ground-truth representation
// used by the dataset builder (spec.md §4.8 step 2): field lines for
// Name/Email/Phone/Current_Position when present, a "Skills: ..." line, and
// an "Experience:" block. Grounded on
// original_source/training/dataset_builder.py::_format_json_for_donut.
func FlattenForDataset(r Record) string {
	var lines []string

	addField := func(label string, value *string) {
		if value != nil && *value != "" {
			lines = append(lines, label+": "+*value)
		}
	}
	addField("Name", r.Name)
	addField("Email", r.Email)
	addField("Phone", r.Phone)
	addField("Current_Position", r.CurrentPosition)

	if len(r.Skills) > 0 {
		lines = append(lines, "Skills: "+strings.Join(r.Skills, ", "))
	}

	if len(r.Experience) > 0 {
		lines = append(lines, "Experience:")
		for _, exp := range r.Experience {
			lines = append(lines, "  - "+exp.Company+", "+exp.Title+", "+exp.Years)
		}
	}

	return strings.Join(lines, "\n")
}
