package correction

import (
	"context"
	"testing"

	"github.com/Fradkool/skilllab-sub000/internal/resume"
)

type stubRegenerator struct {
	responses []resume.Record
	calls     int
}

func (s *stubRegenerator) Regenerate(ctx context.Context, prompt string) (resume.Record, error) {
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func TestRunStopsWhenCoverageMeetsThreshold(t *testing.T) {
	name := "Alice"
	rec := resume.Record{Name: &name, Skills: []string{"Go"}, Experience: []resume.Experience{{Company: "Acme", Title: "Eng", Years: "2020"}}}
	text := "Alice Go Acme Eng 2020"

	reg := &stubRegenerator{}
	result, err := Run(context.Background(), reg, rec, text, Options{MinCoverageThreshold: 0.1, MaxAttempts: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Errorf("expected valid result, got %+v", result)
	}
	if result.Attempts != 0 {
		t.Errorf("expected 0 attempts when already above threshold, got %d", result.Attempts)
	}
	if reg.calls != 0 {
		t.Errorf("expected regenerator not called, got %d calls", reg.calls)
	}
}

func TestRunRetriesUntilThresholdMet(t *testing.T) {
	name := "Alice"
	improved := resume.Record{Name: &name, Skills: []string{"Go", "Rust", "Python"}, Experience: []resume.Experience{{Company: "Acme", Title: "Engineer", Years: "2020-2022"}}}
	text := "Alice worked at Acme as an Engineer from 2020-2022 skilled in Go Rust Python."

	reg := &stubRegenerator{responses: []resume.Record{improved}}
	rec := resume.Template()
	result, err := Run(context.Background(), reg, rec, text, Options{MinCoverageThreshold: 0.5, MaxAttempts: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Errorf("expected valid after one correction, got %+v", result)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
}

func TestRunExhaustsAttemptsWithoutMeetingThreshold(t *testing.T) {
	text := "Alice worked at Acme as an Engineer from 2020-2022 skilled in Go Rust Python. Long resume text padding to exceed five hundred characters threshold for experience and skills checks so the enumerated problems include the skills and experience issues as well as missing contact fields email and phone which should appear given the presence of an at sign and a phone number pattern like 555-123-4567 somewhere in this text to trigger those specific branches of the issue enumeration logic in the auto correction loop under test here today."
	reg := &stubRegenerator{responses: []resume.Record{resume.Template(), resume.Template(), resume.Template()}}

	result, err := Run(context.Background(), reg, resume.Template(), text, Options{MinCoverageThreshold: 0.99, MaxAttempts: 3})
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Error("expected invalid result after exhausting attempts")
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if reg.calls != 3 {
		t.Errorf("expected regenerator called 3 times, got %d", reg.calls)
	}
}

func TestEnumerateProblemsFlagsMissingContactWithEvidence(t *testing.T) {
	text := "Contact me at alice@example.com or 555-123-4567."
	problems := enumerateProblems(resume.Template(), text, 0.1, 0.9)

	var hasEmail, hasPhone bool
	for _, p := range problems {
		if p == "Missing Email field" {
			hasEmail = true
		}
		if p == "Missing Phone field" {
			hasPhone = true
		}
	}
	if !hasEmail || !hasPhone {
		t.Errorf("expected missing email/phone problems, got %v", problems)
	}
}
