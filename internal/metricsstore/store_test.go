package metricsstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/Fradkool/skilllab-sub000/internal/docstore"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := tempStore(t)
	if err := s.Register("doc1", "resume.pdf"); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("doc1", "resume.pdf"); err != nil {
		t.Fatalf("re-registering should be a no-op, got %v", err)
	}
	doc, err := s.Get("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != docstore.StatusRegistered {
		t.Errorf("expected status %s, got %s", docstore.StatusRegistered, doc.Status)
	}
}

func TestGetUnknownDocumentReturnsErrUnknownDocument(t *testing.T) {
	s := tempStore(t)
	_, err := s.Get("missing")
	if !errors.Is(err, docstore.ErrUnknownDocument) {
		t.Fatalf("expected ErrUnknownDocument, got %v", err)
	}
}

func TestSetStatusForwardOnly(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "resume.pdf")

	if err := s.SetStatus("doc1", docstore.StatusOCRComplete); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus("doc1", docstore.StatusRegistered); err == nil {
		t.Fatal("expected backward transition to be rejected")
	}
}

func TestSetConfidenceAndBumpCorrectionCount(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "resume.pdf")

	ocr := 92.5
	if err := s.SetConfidence("doc1", &ocr, nil); err != nil {
		t.Fatal(err)
	}
	n, err := s.BumpCorrectionCount("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected correction count 1, got %d", n)
	}

	doc, err := s.Get("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.OCRConfidence == nil || *doc.OCRConfidence != 92.5 {
		t.Errorf("unexpected OCR confidence: %v", doc.OCRConfidence)
	}
}

func TestFlagSetsFlaggedAndCreatesIssue(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "resume.pdf")

	if err := s.Flag("doc1", docstore.IssueLowOCRConfidence, "Confidence below threshold: 50%"); err != nil {
		t.Fatal(err)
	}
	detail, err := s.GetDetail("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if !detail.Document.FlaggedForReview {
		t.Error("expected document flagged for review")
	}
	if len(detail.Issues) != 1 || detail.Issues[0].Type != docstore.IssueLowOCRConfidence {
		t.Errorf("unexpected issues: %+v", detail.Issues)
	}
}

func TestSetReviewStatusTransitions(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "resume.pdf")

	if err := s.SetReviewStatus("doc1", docstore.ReviewPending); err != nil {
		t.Fatal(err)
	}
	if err := s.SetReviewStatus("doc1", docstore.ReviewApproved); err == nil {
		t.Fatal("expected pending -> approved to be rejected")
	}
	if err := s.SetReviewStatus("doc1", docstore.ReviewInProgress); err != nil {
		t.Fatal(err)
	}
	if err := s.SetReviewStatus("doc1", docstore.ReviewApproved); err != nil {
		t.Fatal(err)
	}
}

func TestStatsAggregation(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "a.pdf")
	s.Register("doc2", "b.pdf")
	s.Flag("doc1", docstore.IssueLowOCRConfidence, "low")
	s.SetReviewStatus("doc1", docstore.ReviewPending)

	stats, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocuments != 2 {
		t.Errorf("expected 2 total documents, got %d", stats.TotalDocuments)
	}
	if stats.FlaggedCount != 1 {
		t.Errorf("expected 1 flagged document, got %d", stats.FlaggedCount)
	}
	if stats.ByIssueType[docstore.IssueLowOCRConfidence] != 1 {
		t.Errorf("expected 1 low_ocr_confidence issue, got %d", stats.ByIssueType[docstore.IssueLowOCRConfidence])
	}
}

func TestPipelineRunAndStepTelemetry(t *testing.T) {
	s := tempStore(t)

	runID, err := s.StartRun("ocr", "dataset")
	if err != nil {
		t.Fatal(err)
	}
	stepID, err := s.StartStep(runID, "doc1", "ocr")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FinishStep(stepID, "completed", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(runID, "completed"); err != nil {
		t.Fatal(err)
	}
}

func TestResourceSampleRoundTrip(t *testing.T) {
	s := tempStore(t)
	gpu := 42.0
	if err := s.RecordResourceSample(ResourceSample{CPUPercent: 10, MemPercent: 20, GPUPercent: &gpu}); err != nil {
		t.Fatal(err)
	}
	latest, err := s.LatestResourceSample()
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.CPUPercent != 10 {
		t.Errorf("unexpected latest sample: %+v", latest)
	}
}

func TestRecordMetricPersistsTypeAndDetails(t *testing.T) {
	s := tempStore(t)
	if err := s.RecordMetric("quality", "avg_coverage", 0.87, map[string]any{"docs": 12}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordMetric("resource", "cpu_usage", 5, nil); err != nil {
		t.Fatal(err)
	}

	qualityCount, err := s.CountMetrics("quality")
	if err != nil {
		t.Fatal(err)
	}
	if qualityCount != 1 {
		t.Errorf("expected 1 quality metric, got %d", qualityCount)
	}

	total, err := s.CountMetrics("")
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("expected 2 total metrics, got %d", total)
	}
}
