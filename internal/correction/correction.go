// Package correction implements the auto-correction loop (C6): given a
// freshly structured resume.Record and its source text, repeatedly asks a
// Regenerator to fix enumerated problems until coverage clears the
// threshold or attempts are exhausted. Grounded line-for-line on
// original_source/extraction/auto_correction.py::check_and_correct_json.
package correction

import (
	"context"
	"fmt"
	"strings"

	"github.com/Fradkool/skilllab-sub000/internal/resume"
)

// Regenerator re-requests structuring given a correction prompt built from
// the current record, the issues found, and the source text. It is the
// seam to internal/structureclient so this package stays free of any HTTP
// concern.
type Regenerator interface {
	Regenerate(ctx context.Context, prompt string) (resume.Record, error)
}

// Result is the outcome of running the auto-correction loop.
type Result struct {
	Record   resume.Record
	Valid    bool
	Attempts int
	Coverage float64
}

// Options configures the loop's thresholds (spec.md §4.4/§6).
type Options struct {
	MinCoverageThreshold float64
	MaxAttempts          int
}

// Run drives the bounded correction loop: on each attempt it scores
// coverage, stops if the threshold is met, otherwise enumerates problems
// and asks the Regenerator for a new record. Grounded on
// check_and_correct_json's while loop.
func Run(ctx context.Context, reg Regenerator, rec resume.Record, sourceText string, opts Options) (Result, error) {
	current := rec
	coverage := 0.0
	attempts := 0

	for attempts < opts.MaxAttempts {
		coverage = resume.CoverageScore(current, sourceText)
		if coverage >= opts.MinCoverageThreshold {
			return Result{Record: current, Valid: true, Attempts: attempts, Coverage: coverage}, nil
		}

		problems := enumerateProblems(current, sourceText, coverage, opts.MinCoverageThreshold)
		prompt := buildCorrectionPrompt(sourceText, current, problems)

		next, err := reg.Regenerate(ctx, prompt)
		if err != nil {
			return Result{Record: current, Valid: false, Attempts: attempts, Coverage: coverage}, fmt.Errorf("correction: regenerate attempt %d: %w", attempts+1, err)
		}
		current = next
		attempts++
	}

	coverage = resume.CoverageScore(current, sourceText)
	return Result{Record: current, Valid: coverage >= opts.MinCoverageThreshold, Attempts: attempts, Coverage: coverage}, nil
}

// enumerateProblems lists the reasons this record needs another pass,
// matching check_and_correct_json's issue list construction exactly
// (coverage gap, a missing Name, a missing Email/Phone only when the source
// text shows evidence of one, thin Skills/Experience on a long document).
func enumerateProblems(rec resume.Record, sourceText string, coverage, threshold float64) []string {
	issues := []string{fmt.Sprintf("Low text coverage (%.2f < %.2f)", coverage, threshold)}

	if rec.Name == nil || *rec.Name == "" {
		issues = append(issues, "Missing Name field")
	}
	if (rec.Email == nil || *rec.Email == "") && resume.HasEmailEvidence(sourceText) {
		issues = append(issues, "Missing Email field")
	}
	if (rec.Phone == nil || *rec.Phone == "") && resume.HasPhoneEvidence(sourceText) {
		issues = append(issues, "Missing Phone field")
	}
	if len(rec.Skills) < 3 && len(sourceText) > 500 {
		issues = append(issues, "Few or no Skills extracted")
	}
	if len(rec.Experience) == 0 && len(sourceText) > 500 {
		issues = append(issues, "No Experience entries extracted")
	}

	if len(issues) == 1 {
		issues = append(issues, "Extract more information from the resume text")
	}
	return issues
}

// buildCorrectionPrompt renders the correction request sent to the
// Structure collaborator, matching _build_correction_prompt's shape and
// guidelines.
func buildCorrectionPrompt(sourceText string, rec resume.Record, issues []string) string {
	var b strings.Builder
	b.WriteString("You are a specialized model focusing on resume data correction.\n")
	b.WriteString("The following JSON was extracted from a resume, but has some issues:\n\n")
	b.WriteString(rec.Flatten())
	b.WriteString("\n\nIssues identified:\n")
	for _, issue := range issues {
		b.WriteString("- " + issue + "\n")
	}
	b.WriteString("\nOriginal resume text:\n")
	b.WriteString(sourceText)
	b.WriteString("\n\nPlease provide a corrected version of the JSON with these guidelines:\n")
	b.WriteString("1. Focus only on factual information present in the text\n")
	b.WriteString("2. Do NOT hallucinate data - use null for missing fields (except Skills and Experience which should be empty lists if missing)\n")
	b.WriteString("3. Extract as many relevant skills as possible from the text\n")
	b.WriteString("4. Ensure Experience entries have company, title, and years fields\n")
	b.WriteString("5. Fix any formatting or structural issues\n")
	b.WriteString("\nOnly return the corrected JSON and nothing else.\n")
	return b.String()
}
