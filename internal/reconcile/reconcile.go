// Package reconcile implements the Reconciler (C4): importing documents
// discovered on disk into the Metrics Store, and keeping the Metrics Store
// and Review Store projections in agreement. Grounded line-for-line on
// original_source/database/sync.py's sync_databases/sync_review_data for
// the two-directional algorithm, and
// original_source/review/db_manager.py::_load_documents_from_fs for the
// filesystem-import half.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Fradkool/skilllab-sub000/internal/docstore"
	"github.com/Fradkool/skilllab-sub000/internal/metricsstore"
	"github.com/Fradkool/skilllab-sub000/internal/reviewstore"
)

// Reconciler keeps the Metrics Store (canonical), the Review Store
// (projection), and the validated_json/ocr_results filesystem trees
// coherent.
type Reconciler struct {
	Metrics       *metricsstore.Store
	Review        *reviewstore.Store
	ValidatedDir  string
	OCRResultsDir string
	Logger        *slog.Logger
}

// New builds a Reconciler over the given stores and filesystem roots.
func New(metrics *metricsstore.Store, review *reviewstore.Store, validatedDir, ocrResultsDir string, logger *slog.Logger) *Reconciler {
	return &Reconciler{Metrics: metrics, Review: review, ValidatedDir: validatedDir, OCRResultsDir: ocrResultsDir, Logger: logger}
}

type validationBlock struct {
	IsValid            bool    `json:"is_valid"`
	CorrectionAttempts int     `json:"correction_attempts"`
	Coverage           float64 `json:"coverage"`
	OCRConfidence      float64 `json:"ocr_confidence"`
}

type validatedFile struct {
	Validation validationBlock `json:"validation"`
}

type ocrTextElement struct {
	Confidence float64 `json:"confidence"`
}

type ocrPageResult struct {
	TextElements []ocrTextElement `json:"text_elements"`
}

type ocrFile struct {
	PageResults  []ocrPageResult `json:"page_results"`
	OriginalPath string          `json:"original_path"`
}

const maxCorrectionAttempts = 3

// ImportFromFilesystem registers documents found in ValidatedDir and
// OCRResultsDir that the Metrics Store doesn't yet know about and that need
// review (a validated record that is invalid or used the maximum correction
// attempts, or an OCR result with mean confidence below 75%), mirroring
// _load_documents_from_fs's two passes. Other files are skipped. It is
// idempotent: documents already registered are left untouched.
func (r *Reconciler) ImportFromFilesystem() (int, error) {
	imported := 0

	if entries, err := os.ReadDir(r.ValidatedDir); err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), "_validated.json") {
				continue
			}
			docID := strings.TrimSuffix(e.Name(), "_validated.json")
			ok, err := r.importValidated(docID, e.Name())
			if err != nil {
				r.Logger.Error("reconcile: import validated failed", "doc_id", docID, "error", err)
				continue
			}
			if ok {
				imported++
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return imported, fmt.Errorf("reconcile: read %s: %w", r.ValidatedDir, err)
	}

	if entries, err := os.ReadDir(r.OCRResultsDir); err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), "_ocr.json") {
				continue
			}
			docID := strings.TrimSuffix(e.Name(), "_ocr.json")
			ok, err := r.importOCR(docID, e.Name())
			if err != nil {
				r.Logger.Error("reconcile: import ocr failed", "doc_id", docID, "error", err)
				continue
			}
			if ok {
				imported++
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return imported, fmt.Errorf("reconcile: read %s: %w", r.OCRResultsDir, err)
	}

	return imported, nil
}

func (r *Reconciler) alreadyRegistered(docID string) bool {
	_, err := r.Metrics.Get(docID)
	return err == nil
}

func (r *Reconciler) importValidated(docID, filename string) (bool, error) {
	if r.alreadyRegistered(docID) {
		return false, nil
	}

	body, err := os.ReadFile(filepath.Join(r.ValidatedDir, filename))
	if err != nil {
		return false, err
	}
	var vf validatedFile
	if err := json.Unmarshal(body, &vf); err != nil {
		return false, err
	}

	if vf.Validation.IsValid && vf.Validation.CorrectionAttempts < maxCorrectionAttempts {
		return false, nil
	}

	status := docstore.StatusValidated
	if err := r.Metrics.Register(docID, docID+".pdf"); err != nil {
		return false, err
	}
	if err := r.Metrics.SetStatus(docID, status); err != nil {
		return false, err
	}
	ocrConf := vf.Validation.OCRConfidence
	jsonConf := vf.Validation.Coverage * 100
	if err := r.Metrics.SetConfidence(docID, &ocrConf, &jsonConf); err != nil {
		return false, err
	}
	for i := 0; i < vf.Validation.CorrectionAttempts; i++ {
		if _, err := r.Metrics.BumpCorrectionCount(docID); err != nil {
			return false, err
		}
	}

	if !vf.Validation.IsValid {
		if err := r.Metrics.Flag(docID, docstore.IssueValidationFailure,
			fmt.Sprintf("Validation failed with coverage %.1f%%", jsonConf)); err != nil {
			return false, err
		}
	}
	if vf.Validation.CorrectionAttempts >= maxCorrectionAttempts {
		if err := r.Metrics.Flag(docID, docstore.IssueMultipleCorrections,
			fmt.Sprintf("Required %d correction attempts", vf.Validation.CorrectionAttempts)); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *Reconciler) importOCR(docID, filename string) (bool, error) {
	if r.alreadyRegistered(docID) {
		return false, nil
	}

	body, err := os.ReadFile(filepath.Join(r.OCRResultsDir, filename))
	if err != nil {
		return false, err
	}
	var of ocrFile
	if err := json.Unmarshal(body, &of); err != nil {
		return false, err
	}

	var sum float64
	var count int
	for _, page := range of.PageResults {
		for _, el := range page.TextElements {
			sum += el.Confidence
			count++
		}
	}
	var confidence float64
	if count > 0 {
		confidence = sum / float64(count) * 100
	}
	if confidence >= 75 {
		return false, nil
	}

	name := filename
	if of.OriginalPath != "" {
		name = filepath.Base(of.OriginalPath)
	}
	if err := r.Metrics.Register(docID, name); err != nil {
		return false, err
	}
	if err := r.Metrics.SetStatus(docID, docstore.StatusOCRComplete); err != nil {
		return false, err
	}
	if err := r.Metrics.SetConfidence(docID, &confidence, nil); err != nil {
		return false, err
	}
	if err := r.Metrics.Flag(docID, docstore.IssueLowOCRConfidence,
		fmt.Sprintf("OCR confidence score (%.1f%%) below threshold", confidence)); err != nil {
		return false, err
	}
	return true, nil
}

// Stats summarizes a Sync run.
type Stats struct {
	DocumentsSynced int
	IssuesSynced    int
}

// Sync propagates the Metrics Store's flagged, not-yet-reviewed documents
// and their issues into the Review Store (creating missing rows, updating
// changed ones, appending new issues) and propagates the Review Store's terminal review decisions back
// onto the Metrics Store, mirroring sync_databases. Running it twice in a
// row with no intervening writes is a no-op on the second call.
func (r *Reconciler) Sync() (Stats, error) {
	var stats Stats

	metricsDocs, err := r.Metrics.ListAll()
	if err != nil {
		return stats, fmt.Errorf("reconcile: list metrics documents: %w", err)
	}
	reviewDocs, err := r.Review.ListAll()
	if err != nil {
		return stats, fmt.Errorf("reconcile: list review documents: %w", err)
	}

	reviewByID := make(map[string]docstore.DocumentDetail, len(reviewDocs))
	for _, d := range reviewDocs {
		reviewByID[d.Document.ID] = d
	}

	for _, md := range metricsDocs {
		existing, known := reviewByID[md.Document.ID]

		// The Review Store owns review_status once it has seen the
		// document; otherwise metrics data would clobber review
		// decisions made only in the Review Store back to "none".
		upsertDoc := md.Document
		if known {
			upsertDoc.ReviewStatus = existing.Document.ReviewStatus
			upsertDoc.FlaggedForReview = existing.Document.FlaggedForReview
		}

		// Only documents still awaiting review belong in the Review
		// Store's projection; get_review_queue's SQL filters on exactly
		// this condition (flagged_for_review=1 AND review_status not
		// terminal), not on the whole corpus.
		if !upsertDoc.FlaggedForReview || docstore.IsTerminalReviewStatus(upsertDoc.ReviewStatus) {
			continue
		}

		if err := r.Review.Upsert(upsertDoc); err != nil {
			return stats, err
		}
		if !known {
			stats.DocumentsSynced++
		}

		for _, issue := range md.Issues {
			if issuePresent(existing.Issues, issue) {
				continue
			}
			if err := r.Review.AddIssue(md.Document.ID, issue.Type, issue.Details); err != nil {
				return stats, err
			}
			stats.IssuesSynced++
		}
	}

	for _, rd := range reviewDocs {
		if !docstore.IsTerminalReviewStatus(rd.Document.ReviewStatus) {
			continue
		}
		md, err := r.Metrics.Get(rd.Document.ID)
		if err != nil {
			if errors.Is(err, docstore.ErrUnknownDocument) {
				continue
			}
			return stats, err
		}
		if md.ReviewStatus == rd.Document.ReviewStatus {
			continue
		}
		if err := r.Metrics.SyncReviewStatus(rd.Document.ID, rd.Document.ReviewStatus); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func issuePresent(issues []docstore.Issue, issue docstore.Issue) bool {
	for _, existing := range issues {
		if existing.Type == issue.Type && existing.Details == issue.Details {
			return true
		}
	}
	return false
}
