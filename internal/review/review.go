// Package review implements the review workflow (C10): the high-level
// queue/approve/reject/save-edits/recycle operations a reviewer or the web
// UI drives, built on top of internal/reviewstore's projection. Grounded on
// original_source/api/review.py for the operation shapes (get_review_queue,
// approve_document, reject_document, save_document_json,
// recycle_for_training) and original_source/review/db_manager.py for the
// underlying state transitions.
package review

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Fradkool/skilllab-sub000/internal/dataset"
	"github.com/Fradkool/skilllab-sub000/internal/docstore"
	"github.com/Fradkool/skilllab-sub000/internal/resume"
	"github.com/Fradkool/skilllab-sub000/internal/reviewstore"
)

// Workflow drives the review queue against a Review Store projection and
// the on-disk validated_json/ocr_results trees, and can recycle approved
// documents into the training dataset.
type Workflow struct {
	Store         *reviewstore.Store
	ValidatedDir  string
	OCRResultsDir string
	Dataset       *dataset.Builder
}

// New builds a Workflow over the given review store and filesystem roots.
func New(store *reviewstore.Store, validatedDir, ocrResultsDir string, ds *dataset.Builder) *Workflow {
	return &Workflow{Store: store, ValidatedDir: validatedDir, OCRResultsDir: ocrResultsDir, Dataset: ds}
}

// Queue returns documents awaiting review, matching get_review_queue's
// issue_filter/limit contract (reviewstore.AllIssueFilter for "no filter").
func (w *Workflow) Queue(issueFilter string, limit int) ([]docstore.DocumentDetail, error) {
	return w.Store.ListForReview(issueFilter, limit)
}

// validatedRecord is the on-disk shape written by steps.WriteRecordJSON and
// read back for review detail/recycle, matching validated_json/*.json.
type validatedRecord struct {
	ResumeID   string         `json:"resume_id,omitempty"`
	JSONData   resume.Record  `json:"json_data"`
	ImagePaths []string       `json:"image_paths,omitempty"`
	Validation map[string]any `json:"validation,omitempty"`
}

// Detail is a document's review-queue row enriched with its structured
// record, source image paths, and raw OCR text, matching
// get_document_details's merged document/json_data/ocr_text shape.
type Detail struct {
	docstore.DocumentDetail
	Record     resume.Record
	HasRecord  bool
	ImagePaths []string
	OCRText    string
}

// Details fetches a document's review queue row plus its structured record
// (from validated_json/<id>_validated.json, if present) and raw OCR text
// (from ocr_results/<id>_ocr.json, if present).
func (w *Workflow) Details(docID string) (*Detail, error) {
	dd, err := w.Store.GetDetail(docID)
	if err != nil {
		return nil, err
	}
	detail := &Detail{DocumentDetail: *dd}

	if rec, paths, ok := w.readValidated(docID); ok {
		detail.Record = rec
		detail.HasRecord = true
		detail.ImagePaths = paths
	}
	if detail.ImagePaths == nil {
		if paths, ok := w.readOCRImagePaths(docID); ok {
			detail.ImagePaths = paths
		}
	}
	if text, ok := w.readOCRText(docID); ok {
		detail.OCRText = text
	}

	return detail, nil
}

func (w *Workflow) validatedPath(docID string) string {
	return filepath.Join(w.ValidatedDir, docID+"_validated.json")
}

func (w *Workflow) ocrPath(docID string) string {
	return filepath.Join(w.OCRResultsDir, docID+"_ocr.json")
}

func (w *Workflow) readValidated(docID string) (resume.Record, []string, bool) {
	body, err := os.ReadFile(w.validatedPath(docID))
	if err != nil {
		return resume.Record{}, nil, false
	}
	var vr validatedRecord
	if err := json.Unmarshal(body, &vr); err != nil {
		return resume.Record{}, nil, false
	}
	return vr.JSONData, vr.ImagePaths, true
}

type ocrFile struct {
	CombinedText string   `json:"combined_text"`
	ImagePaths   []string `json:"image_paths"`
}

func (w *Workflow) readOCRText(docID string) (string, bool) {
	body, err := os.ReadFile(w.ocrPath(docID))
	if err != nil {
		return "", false
	}
	var f ocrFile
	if err := json.Unmarshal(body, &f); err != nil {
		return "", false
	}
	return f.CombinedText, true
}

func (w *Workflow) readOCRImagePaths(docID string) ([]string, bool) {
	body, err := os.ReadFile(w.ocrPath(docID))
	if err != nil {
		return nil, false
	}
	var f ocrFile
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, false
	}
	return f.ImagePaths, true
}

// FieldCorrection is one field's before/after value, matching the
// `corrections` map save_review_feedback accepts.
type FieldCorrection struct {
	Field     string
	Original  string
	Corrected string
}

// Approve transitions a document to approved, matching approve_document.
func (w *Workflow) Approve(docID string, changesMade bool) error {
	return w.saveFeedback(docID, docstore.ReviewApproved, nil, nil, "", "", changesMade)
}

// Reject transitions a document to rejected, requiring a reason exactly as
// reject_document/save_review_feedback do.
func (w *Workflow) Reject(docID, reason string) error {
	if reason == "" {
		return fmt.Errorf("review: reject requires a reason")
	}
	return w.saveFeedback(docID, docstore.ReviewRejected, nil, nil, reason, "", false)
}

// SaveEdits persists reviewer-edited field values, marking the document
// in_progress, matching save_document_json.
func (w *Workflow) SaveEdits(docID string, record resume.Record, corrections []FieldCorrection) error {
	return w.saveFeedback(docID, docstore.ReviewInProgress, &record, corrections, "", "", true)
}

// saveFeedback is the shared path behind Approve/Reject/SaveEdits, mirroring
// save_review_feedback: transition review status, persist an updated
// validated_json file when a record is supplied, record field corrections,
// then append a review_feedback row.
func (w *Workflow) saveFeedback(docID, status string, record *resume.Record, corrections []FieldCorrection, reason, reviewer string, changesMade bool) error {
	if err := w.Store.SetReviewStatus(docID, status); err != nil {
		return fmt.Errorf("review: set review status: %w", err)
	}

	if record != nil {
		if err := w.writeValidated(docID, *record, status); err != nil {
			return err
		}
	}

	for _, c := range corrections {
		if err := w.Store.RecordFieldCorrection(docID, c.Field, c.Original, c.Corrected); err != nil {
			return fmt.Errorf("review: record field correction: %w", err)
		}
	}

	if reviewer == "" {
		reviewer = "system"
	}
	fieldNames := make([]string, len(corrections))
	for i, c := range corrections {
		fieldNames[i] = c.Field
	}
	fieldsJSON, err := json.Marshal(fieldNames)
	if err != nil {
		return fmt.Errorf("review: marshal corrected fields: %w", err)
	}

	feedback := reviewstore.Feedback{
		DocID:           docID,
		Status:          status,
		Reason:          reason,
		FieldsCorrected: string(fieldsJSON),
		Reviewer:        reviewer,
		ChangesMade:     changesMade || record != nil || len(corrections) > 0,
	}
	if err := w.Store.RecordFeedback(feedback); err != nil {
		return fmt.Errorf("review: record feedback: %w", err)
	}
	return nil
}

func (w *Workflow) writeValidated(docID string, record resume.Record, status string) error {
	imagePaths, _ := w.readOCRImagePaths(docID)
	if _, existingPaths, ok := w.readValidated(docID); ok && len(existingPaths) > 0 {
		imagePaths = existingPaths
	}

	vr := validatedRecord{
		ResumeID:   docID,
		JSONData:   record,
		ImagePaths: imagePaths,
		Validation: map[string]any{
			"is_valid":      true,
			"reviewed":      true,
			"review_status": status,
		},
	}
	body, err := json.MarshalIndent(vr, "", "  ")
	if err != nil {
		return fmt.Errorf("review: marshal validated record %s: %w", docID, err)
	}
	if err := os.MkdirAll(w.ValidatedDir, 0o755); err != nil {
		return fmt.Errorf("review: create %s: %w", w.ValidatedDir, err)
	}
	if err := os.WriteFile(w.validatedPath(docID), body, 0o644); err != nil {
		return fmt.Errorf("review: write %s: %w", w.validatedPath(docID), err)
	}
	return nil
}

// RecycleForTraining appends an approved document's record and images to
// the training split, matching recycle_for_training. It requires the
// document to be approved and to have a structured record on disk.
func (w *Workflow) RecycleForTraining(docID string) error {
	detail, err := w.Details(docID)
	if err != nil {
		return err
	}
	if detail.Document.ReviewStatus != docstore.ReviewApproved {
		return fmt.Errorf("review: %s is not approved", docID)
	}
	if !detail.HasRecord {
		return fmt.Errorf("review: %s has no structured record to recycle", docID)
	}
	if len(detail.ImagePaths) == 0 {
		return fmt.Errorf("review: %s has no source images to recycle", docID)
	}

	sample := dataset.Sample{ID: docID, Record: detail.Record, ImagePaths: detail.ImagePaths}
	if err := w.Dataset.RecycleToTraining(sample); err != nil {
		return fmt.Errorf("review: recycle %s: %w", docID, err)
	}
	return w.Store.SetStatus(docID, docstore.StatusRecycledForTraining)
}

// Stats exposes the review dashboard aggregate (get_dashboard_stats).
func (w *Workflow) Stats() (*reviewstore.DashboardStats, error) {
	return w.Store.Stats()
}
