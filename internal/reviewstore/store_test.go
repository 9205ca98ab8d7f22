package reviewstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Fradkool/skilllab-sub000/internal/docstore"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "review.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	s := tempStore(t)
	doc := docstore.Document{ID: "doc1", Filename: "a.pdf", Status: docstore.StatusRegistered, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.Upsert(doc); err != nil {
		t.Fatal(err)
	}
	doc.Status = docstore.StatusOCRComplete
	if err := s.Upsert(doc); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != docstore.StatusOCRComplete {
		t.Errorf("expected updated status, got %s", got.Status)
	}
}

func TestAddIssueFlagsDocument(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "a.pdf")
	if err := s.AddIssue("doc1", docstore.IssueLowOCRConfidence, "low"); err != nil {
		t.Fatal(err)
	}
	detail, err := s.GetDetail("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if !detail.Document.FlaggedForReview {
		t.Error("expected document flagged")
	}
	if detail.Document.ReviewStatus != docstore.ReviewPending {
		t.Errorf("expected pending review status, got %s", detail.Document.ReviewStatus)
	}
}

func TestListForReviewFiltersByIssueType(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "a.pdf")
	s.Register("doc2", "b.pdf")
	s.AddIssue("doc1", docstore.IssueLowOCRConfidence, "low ocr")
	s.AddIssue("doc2", docstore.IssueMissingContact, "missing")

	all, err := s.ListForReview(AllIssueFilter, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(all))
	}

	filtered, err := s.ListForReview(docstore.IssueMissingContact, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Document.ID != "doc2" {
		t.Errorf("unexpected filtered result: %+v", filtered)
	}
}

func TestSetReviewStatusClearsFlagOnTerminal(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "a.pdf")
	s.AddIssue("doc1", docstore.IssueLowOCRConfidence, "low")

	if err := s.SetReviewStatus("doc1", docstore.ReviewInProgress); err != nil {
		t.Fatal(err)
	}
	if err := s.SetReviewStatus("doc1", docstore.ReviewApproved); err != nil {
		t.Fatal(err)
	}
	doc, err := s.Get("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.FlaggedForReview {
		t.Error("expected flag cleared after terminal review status")
	}
}

func TestRecordFeedbackAndFieldCorrection(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "a.pdf")

	if err := s.RecordFeedback(Feedback{DocID: "doc1", Status: docstore.ReviewApproved, ChangesMade: true, Reviewer: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFieldCorrection("doc1", "Email", "old@x.com", "new@x.com"); err != nil {
		t.Fatal(err)
	}
}

func TestStatsAggregation(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "a.pdf")
	s.AddIssue("doc1", docstore.IssueLowOCRConfidence, "low")

	stats, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocuments != 1 || stats.FlaggedCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestIssueTypes(t *testing.T) {
	s := tempStore(t)
	s.Register("doc1", "a.pdf")
	s.AddIssue("doc1", docstore.IssueLowOCRConfidence, "low")
	s.AddIssue("doc1", docstore.IssueMissingContact, "missing")

	types, err := s.IssueTypes()
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 2 {
		t.Errorf("expected 2 issue types, got %v", types)
	}
}
