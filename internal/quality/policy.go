// Package quality implements the Quality Policy (C5): a pure function that,
// given a document's current state and any new signal, decides which
// issues to raise and whether the document should be flagged for review.
// Grounded in shape on internal/monitoring/trial_monitor.go's
// EvaluateTrialSafety (teacher) — evaluate a snapshot against thresholds,
// accumulate alerts, return a should-act boolean — generalized to
// spec.md §4.4's six ordered rules.
package quality

import (
	"fmt"

	"github.com/Fradkool/skilllab-sub000/internal/docstore"
)

// Thresholds holds the configuration values referenced by the policy
// (spec.md §4.4).
type Thresholds struct {
	MinCoverage           float64
	MaxCorrectionAttempts int
}

// DefaultThresholds matches spec.md §4.4's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MinCoverage: 0.9, MaxCorrectionAttempts: 3}
}

// Input captures everything the policy needs to evaluate for one document.
type Input struct {
	Document docstore.Document

	// Evidence in source text for contact fields (spec.md §4.4 rule 4).
	HasNameEvidence  bool
	HasEmailEvidence bool
	HasPhoneEvidence bool
	NameValue        *string
	EmailValue       *string
	PhoneValue       *string

	// Set when this evaluation follows a structure-validity check (rule 5).
	HasStructureCheck bool
	StructureValid    bool

	// Set when this evaluation follows exhausting correction attempts
	// (rule 6).
	HasCoverageCheck bool
	Coverage         float64
	CorrectionAttemptsExhausted bool
}

// Outcome is the result of evaluating the policy: issues to raise plus a
// should-flag decision.
type Outcome struct {
	Issues    []docstore.Issue
	ShouldFlag bool
}

// Evaluate runs the six ordered rules of spec.md §4.4 and returns the
// issues to raise plus whether the document should be flagged. It is a
// pure function: given the same Input and Thresholds it always returns the
// same Outcome.
func Evaluate(in Input, th Thresholds) Outcome {
	var out Outcome

	raise := func(issueType, details string) {
		out.Issues = append(out.Issues, docstore.Issue{DocID: in.Document.ID, Type: issueType, Details: details})
		out.ShouldFlag = true
	}

	// 1. ocr_confidence < 75
	if in.Document.OCRConfidence != nil && *in.Document.OCRConfidence < 75 {
		raise(docstore.IssueLowOCRConfidence, fmt.Sprintf("Confidence below threshold: %.0f%%", *in.Document.OCRConfidence))
	}

	// 2. json_confidence < 75
	if in.Document.JSONConfidence != nil && *in.Document.JSONConfidence < 75 {
		raise(docstore.IssueLowJSONConfidence, fmt.Sprintf("Confidence below threshold: %.0f%%", *in.Document.JSONConfidence))
	}

	// 3. correction_count >= 3
	if in.Document.CorrectionCount >= th.MaxCorrectionAttempts {
		raise(docstore.IssueMultipleCorrections, fmt.Sprintf("Correction count reached %d", in.Document.CorrectionCount))
	}

	// 4. missing any of {Name, Email, Phone} when evidence exists
	var missing []string
	if in.HasNameEvidence && isEmpty(in.NameValue) {
		missing = append(missing, "Name")
	}
	if in.HasEmailEvidence && isEmpty(in.EmailValue) {
		missing = append(missing, "Email")
	}
	if in.HasPhoneEvidence && isEmpty(in.PhoneValue) {
		missing = append(missing, "Phone")
	}
	if len(missing) > 0 {
		raise(docstore.IssueMissingContact, fmt.Sprintf("Missing fields: %v", missing))
	}

	// 5. structure_valid = false
	if in.HasStructureCheck && !in.StructureValid {
		raise(docstore.IssueSchemaValidation, "Structured record failed schema validation")
	}

	// 6. coverage < min_coverage_threshold after max attempts
	if in.HasCoverageCheck && in.CorrectionAttemptsExhausted && in.Coverage < th.MinCoverage {
		raise(docstore.IssueValidationFailure, fmt.Sprintf("Coverage %.1f%% below threshold", in.Coverage*100))
	}

	return out
}

func isEmpty(s *string) bool {
	return s == nil || *s == ""
}
