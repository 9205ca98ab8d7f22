package review

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/Fradkool/skilllab-sub000/internal/dataset"
	"github.com/Fradkool/skilllab-sub000/internal/docstore"
	"github.com/Fradkool/skilllab-sub000/internal/resume"
	"github.com/Fradkool/skilllab-sub000/internal/reviewstore"
)

func strPtr(s string) *string { return &s }

func newWorkflow(t *testing.T) (*Workflow, string) {
	t.Helper()
	store, err := reviewstore.Open(filepath.Join(t.TempDir(), "review.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	validatedDir := filepath.Join(root, "validated_json")
	ocrDir := filepath.Join(root, "ocr_results")
	datasetDir := filepath.Join(root, "donut_dataset")

	ds := dataset.New(datasetDir, 0.8, "resume", rand.New(rand.NewSource(1)))
	return New(store, validatedDir, ocrDir, ds), root
}

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func seedDocument(t *testing.T, w *Workflow, docID string) {
	t.Helper()
	if err := w.Store.Register(docID, docID+".pdf"); err != nil {
		t.Fatal(err)
	}
	if err := w.Store.AddIssue(docID, docstore.IssueLowJSONConfidence, "low confidence"); err != nil {
		t.Fatal(err)
	}
	if err := w.Store.SetReviewStatus(docID, docstore.ReviewPending); err != nil {
		t.Fatal(err)
	}
}

func TestQueueListsFlaggedDocuments(t *testing.T) {
	w, _ := newWorkflow(t)
	seedDocument(t, w, "doc1")

	docs, err := w.Queue(reviewstore.AllIssueFilter, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Document.ID != "doc1" {
		t.Fatalf("expected doc1 in queue, got %+v", docs)
	}
}

func TestApproveRecordsFeedbackAndClearsFlag(t *testing.T) {
	w, _ := newWorkflow(t)
	seedDocument(t, w, "doc1")
	if err := w.Store.SetReviewStatus("doc1", docstore.ReviewInProgress); err != nil {
		t.Fatal(err)
	}

	if err := w.Approve("doc1", false); err != nil {
		t.Fatal(err)
	}

	doc, err := w.Store.Get("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.ReviewStatus != docstore.ReviewApproved {
		t.Errorf("expected approved, got %s", doc.ReviewStatus)
	}
	if doc.FlaggedForReview {
		t.Error("expected flagged_for_review cleared on terminal status")
	}
}

func TestRejectRequiresReason(t *testing.T) {
	w, _ := newWorkflow(t)
	seedDocument(t, w, "doc1")
	if err := w.Store.SetReviewStatus("doc1", docstore.ReviewInProgress); err != nil {
		t.Fatal(err)
	}

	if err := w.Reject("doc1", ""); err == nil {
		t.Fatal("expected error for empty rejection reason")
	}
	if err := w.Reject("doc1", "garbled text"); err != nil {
		t.Fatal(err)
	}

	doc, err := w.Store.Get("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.ReviewStatus != docstore.ReviewRejected {
		t.Errorf("expected rejected, got %s", doc.ReviewStatus)
	}
}

func TestSaveEditsWritesValidatedJSON(t *testing.T) {
	w, root := newWorkflow(t)
	seedDocument(t, w, "doc1")
	if err := w.Store.SetReviewStatus("doc1", docstore.ReviewInProgress); err != nil {
		t.Fatal(err)
	}

	record := resume.Record{
		Name:  strPtr("Corrected Name"),
		Email: strPtr("fixed@example.com"),
	}
	corrections := []FieldCorrection{{Field: "Name", Original: "Wrong Name", Corrected: "Corrected Name"}}

	if err := w.SaveEdits("doc1", record, corrections); err != nil {
		t.Fatal(err)
	}

	body, err := os.ReadFile(filepath.Join(root, "validated_json", "doc1_validated.json"))
	if err != nil {
		t.Fatal(err)
	}
	var vr validatedRecord
	if err := json.Unmarshal(body, &vr); err != nil {
		t.Fatal(err)
	}
	if vr.JSONData.Name == nil || *vr.JSONData.Name != "Corrected Name" {
		t.Errorf("expected corrected name persisted, got %+v", vr.JSONData)
	}
}

func TestRecycleForTrainingRequiresApproval(t *testing.T) {
	w, root := newWorkflow(t)
	seedDocument(t, w, "doc1")
	imgPath := filepath.Join(root, "images", "doc1.png")
	writeTestPNG(t, imgPath)

	vr := validatedRecord{
		JSONData:   resume.Record{Name: strPtr("Alice"), Skills: []string{"Go"}},
		ImagePaths: []string{imgPath},
	}
	body, _ := json.Marshal(vr)
	os.MkdirAll(filepath.Join(root, "validated_json"), 0o755)
	os.WriteFile(filepath.Join(root, "validated_json", "doc1_validated.json"), body, 0o644)

	if err := w.RecycleForTraining("doc1"); err == nil {
		t.Fatal("expected error recycling a non-approved document")
	}

	if err := w.Store.SetReviewStatus("doc1", docstore.ReviewInProgress); err != nil {
		t.Fatal(err)
	}
	if err := w.Store.SetReviewStatus("doc1", docstore.ReviewApproved); err != nil {
		t.Fatal(err)
	}

	if err := w.RecycleForTraining("doc1"); err != nil {
		t.Fatal(err)
	}

	doc, err := w.Store.Get("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != docstore.StatusRecycledForTraining {
		t.Errorf("expected recycled_for_training status, got %s", doc.Status)
	}

	if _, err := os.Stat(filepath.Join(root, "donut_dataset", "train", "doc1.jpg")); err != nil {
		t.Errorf("expected recycled image in training split: %v", err)
	}
}
