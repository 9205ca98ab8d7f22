package quality

import (
	"testing"

	"github.com/Fradkool/skilllab-sub000/internal/docstore"
)

func ptr(f float64) *float64 { return &f }

func TestEvaluateLowOCRConfidenceFlags(t *testing.T) {
	in := Input{Document: docstore.Document{ID: "doc1", OCRConfidence: ptr(50)}}
	out := Evaluate(in, DefaultThresholds())
	if !out.ShouldFlag {
		t.Fatal("expected flag")
	}
	if len(out.Issues) != 1 || out.Issues[0].Type != docstore.IssueLowOCRConfidence {
		t.Errorf("unexpected issues: %+v", out.Issues)
	}
}

func TestEvaluateHighConfidenceNoFlag(t *testing.T) {
	in := Input{Document: docstore.Document{ID: "doc1", OCRConfidence: ptr(99), JSONConfidence: ptr(99)}}
	out := Evaluate(in, DefaultThresholds())
	if out.ShouldFlag {
		t.Errorf("expected no flag, got %+v", out.Issues)
	}
}

func TestEvaluateMultipleCorrections(t *testing.T) {
	in := Input{Document: docstore.Document{ID: "doc1", CorrectionCount: 3}}
	out := Evaluate(in, DefaultThresholds())
	found := false
	for _, iss := range out.Issues {
		if iss.Type == docstore.IssueMultipleCorrections {
			found = true
		}
	}
	if !found {
		t.Errorf("expected multiple_corrections issue, got %+v", out.Issues)
	}
}

func TestEvaluateMissingContactWithEvidence(t *testing.T) {
	in := Input{
		Document:         docstore.Document{ID: "doc1"},
		HasEmailEvidence: true,
	}
	out := Evaluate(in, DefaultThresholds())
	if !out.ShouldFlag {
		t.Fatal("expected flag for missing email with evidence")
	}
}

func TestEvaluateStructureInvalid(t *testing.T) {
	in := Input{
		Document:          docstore.Document{ID: "doc1"},
		HasStructureCheck: true,
		StructureValid:    false,
	}
	out := Evaluate(in, DefaultThresholds())
	if !out.ShouldFlag {
		t.Fatal("expected flag for invalid structure")
	}
}

func TestEvaluateCoverageBelowThresholdAfterExhaustion(t *testing.T) {
	in := Input{
		Document:                    docstore.Document{ID: "doc1"},
		HasCoverageCheck:            true,
		Coverage:                    0.5,
		CorrectionAttemptsExhausted: true,
	}
	out := Evaluate(in, DefaultThresholds())
	if !out.ShouldFlag {
		t.Fatal("expected flag for low coverage after exhaustion")
	}
}

func TestEvaluateCoverageBelowThresholdBeforeExhaustionNoFlag(t *testing.T) {
	in := Input{
		Document:                    docstore.Document{ID: "doc1"},
		HasCoverageCheck:            true,
		Coverage:                    0.5,
		CorrectionAttemptsExhausted: false,
	}
	out := Evaluate(in, DefaultThresholds())
	if out.ShouldFlag {
		t.Errorf("expected no flag before correction attempts are exhausted, got %+v", out.Issues)
	}
}
