// Package reviewstore is the Review Store (C1 projection, spec.md §3): a
// second SQLite database holding the same Document/Issue shape as the
// Metrics Store plus review-specific append-only tables (ReviewFeedback,
// FieldCorrection). It exists so the review workflow (C10) and its web
// surface can run against a store that never blocks on pipeline writes.
// Grounded on original_source/database/review_db.py for the schema and
// query shapes, reimplemented in internal/metricsstore's
// Open(dbPath)+schema+modernc.org/sqlite idiom (teacher).
package reviewstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Fradkool/skilllab-sub000/internal/docstore"
)

// Store is the Review Store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'registered',
	ocr_confidence REAL,
	json_confidence REAL,
	correction_count INTEGER NOT NULL DEFAULT 0,
	flagged_for_review INTEGER NOT NULL DEFAULT 0,
	review_status TEXT NOT NULL DEFAULT 'none',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS document_issues (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	issue_type TEXT NOT NULL,
	issue_details TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS review_feedback (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	status TEXT NOT NULL,
	changes_made INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	fields_corrected TEXT NOT NULL DEFAULT '',
	reviewer TEXT NOT NULL DEFAULT 'system',
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS field_corrections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	field_name TEXT NOT NULL,
	original_value TEXT NOT NULL DEFAULT '',
	corrected_value TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_document_issues_doc ON document_issues(document_id);
CREATE INDEX IF NOT EXISTS idx_review_feedback_doc ON review_feedback(document_id);
CREATE INDEX IF NOT EXISTS idx_field_corrections_doc ON field_corrections(document_id);
`

// Open creates or opens the Review Store's SQLite database at dbPath and
// ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("reviewstore: open %s: %w", dbPath, err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("reviewstore: create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or updates a document projection row, mirroring
// original_source/database/review_db.py::add_document.
func (s *Store) Upsert(doc docstore.Document) error {
	flagged := 0
	if doc.FlaggedForReview {
		flagged = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO documents (id, filename, status, ocr_confidence, json_confidence, correction_count, flagged_for_review, review_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			status = excluded.status,
			ocr_confidence = excluded.ocr_confidence,
			json_confidence = excluded.json_confidence,
			correction_count = excluded.correction_count,
			flagged_for_review = excluded.flagged_for_review,
			review_status = excluded.review_status,
			updated_at = datetime('now')`,
		doc.ID, doc.Filename, doc.Status, doc.OCRConfidence, doc.JSONConfidence,
		doc.CorrectionCount, flagged, doc.ReviewStatus, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("reviewstore: upsert %s: %w", doc.ID, err)
	}
	return nil
}

// AddIssue appends an issue for a document and marks it pending review,
// mirroring original_source/database/review_db.py::add_document_issue.
func (s *Store) AddIssue(docID, issueType, details string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("reviewstore: add issue %s: %w", docID, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO document_issues (document_id, issue_type, issue_details) VALUES (?, ?, ?)`, docID, issueType, details); err != nil {
		return fmt.Errorf("reviewstore: insert issue for %s: %w", docID, err)
	}
	if _, err := tx.Exec(`UPDATE documents SET flagged_for_review = 1, review_status = ?, updated_at = datetime('now') WHERE id = ?`, docstore.ReviewPending, docID); err != nil {
		return fmt.Errorf("reviewstore: flag document %s: %w", docID, err)
	}
	return tx.Commit()
}

// Register, SetStatus, SetConfidence, BumpCorrectionCount, Flag,
// SetReviewStatus, Get, and GetDetail implement docstore.Store so the
// review workflow (C10) can operate against either store uniformly.

func (s *Store) Register(docID, filename string) error {
	_, err := s.db.Exec(`INSERT INTO documents (id, filename, status) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`, docID, filename, docstore.StatusRegistered)
	if err != nil {
		return fmt.Errorf("reviewstore: register %s: %w", docID, err)
	}
	return nil
}

func (s *Store) SetStatus(docID, status string) error {
	if _, err := s.Get(docID); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE documents SET status = ?, updated_at = datetime('now') WHERE id = ?`, status, docID)
	if err != nil {
		return fmt.Errorf("reviewstore: set status %s: %w", docID, err)
	}
	return nil
}

func (s *Store) SetConfidence(docID string, ocr, jsonConf *float64) error {
	if _, err := s.Get(docID); err != nil {
		return err
	}
	if ocr != nil {
		if _, err := s.db.Exec(`UPDATE documents SET ocr_confidence = ?, updated_at = datetime('now') WHERE id = ?`, *ocr, docID); err != nil {
			return fmt.Errorf("reviewstore: set ocr confidence %s: %w", docID, err)
		}
	}
	if jsonConf != nil {
		if _, err := s.db.Exec(`UPDATE documents SET json_confidence = ?, updated_at = datetime('now') WHERE id = ?`, *jsonConf, docID); err != nil {
			return fmt.Errorf("reviewstore: set json confidence %s: %w", docID, err)
		}
	}
	return nil
}

func (s *Store) BumpCorrectionCount(docID string) (int, error) {
	if _, err := s.Get(docID); err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`UPDATE documents SET correction_count = correction_count + 1, updated_at = datetime('now') WHERE id = ?`, docID); err != nil {
		return 0, fmt.Errorf("reviewstore: bump correction count %s: %w", docID, err)
	}
	doc, err := s.Get(docID)
	if err != nil {
		return 0, err
	}
	return doc.CorrectionCount, nil
}

func (s *Store) Flag(docID, issueType, details string) error {
	return s.AddIssue(docID, issueType, details)
}

func (s *Store) SetReviewStatus(docID, status string) error {
	doc, err := s.Get(docID)
	if err != nil {
		return err
	}
	if !validReviewTransition(doc.ReviewStatus, status) {
		return fmt.Errorf("%w: review %s -> %s", docstore.ErrInvalidState, doc.ReviewStatus, status)
	}
	if _, err := s.db.Exec(`UPDATE documents SET review_status = ?, updated_at = datetime('now') WHERE id = ?`, status, docID); err != nil {
		return fmt.Errorf("reviewstore: set review status %s: %w", docID, err)
	}
	if docstore.IsTerminalReviewStatus(status) {
		if _, err := s.db.Exec(`UPDATE documents SET flagged_for_review = 0 WHERE id = ?`, docID); err != nil {
			return fmt.Errorf("reviewstore: clear flag %s: %w", docID, err)
		}
	}
	return nil
}

func (s *Store) Get(docID string) (*docstore.Document, error) {
	row := s.db.QueryRow(
		`SELECT id, filename, status, ocr_confidence, json_confidence, correction_count,
		        flagged_for_review, review_status, created_at, updated_at
		 FROM documents WHERE id = ?`, docID)
	var doc docstore.Document
	var flagged int
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Status, &doc.OCRConfidence, &doc.JSONConfidence,
		&doc.CorrectionCount, &flagged, &doc.ReviewStatus, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", docstore.ErrUnknownDocument, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("reviewstore: get %s: %w", docID, err)
	}
	doc.FlaggedForReview = flagged != 0
	return &doc, nil
}

func (s *Store) GetDetail(docID string) (*docstore.DocumentDetail, error) {
	doc, err := s.Get(docID)
	if err != nil {
		return nil, err
	}
	issues, err := s.issuesFor(docID)
	if err != nil {
		return nil, err
	}
	return &docstore.DocumentDetail{Document: *doc, Issues: issues}, nil
}

func (s *Store) issuesFor(docID string) ([]docstore.Issue, error) {
	rows, err := s.db.Query(`SELECT id, document_id, issue_type, issue_details FROM document_issues WHERE document_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, fmt.Errorf("reviewstore: issues for %s: %w", docID, err)
	}
	defer rows.Close()

	var issues []docstore.Issue
	for rows.Next() {
		var iss docstore.Issue
		if err := rows.Scan(&iss.ID, &iss.DocID, &iss.Type, &iss.Details); err != nil {
			return nil, fmt.Errorf("reviewstore: scan issue: %w", err)
		}
		issues = append(issues, iss)
	}
	return issues, rows.Err()
}

var reviewTransitions = map[string][]string{
	docstore.ReviewNone:       {docstore.ReviewPending},
	docstore.ReviewPending:    {docstore.ReviewInProgress, docstore.ReviewRejected},
	docstore.ReviewInProgress: {docstore.ReviewApproved, docstore.ReviewRejected},
	docstore.ReviewApproved:   {},
	docstore.ReviewRejected:   {},
	docstore.ReviewCompleted:  {},
}

func validReviewTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, allowed := range reviewTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllIssueFilter is the sentinel meaning "no issue-type filter" (spec.md
// §6 review list), matching original_source's 'All'.
const AllIssueFilter = "All"

// ListForReview returns documents flagged for review and not yet in a
// terminal review state, optionally filtered to one issue type, newest
// first, grounded on
// original_source/database/review_db.py::get_documents_for_review.
func (s *Store) ListForReview(issueFilter string, limit int) ([]docstore.DocumentDetail, error) {
	var rows *sql.Rows
	var err error
	if issueFilter == "" || issueFilter == AllIssueFilter {
		rows, err = s.db.Query(
			`SELECT id, filename, status, ocr_confidence, json_confidence, correction_count,
			        flagged_for_review, review_status, created_at, updated_at
			 FROM documents
			 WHERE flagged_for_review = 1 AND review_status NOT IN (?, ?, ?)
			 ORDER BY created_at DESC LIMIT ?`,
			docstore.ReviewApproved, docstore.ReviewRejected, docstore.ReviewCompleted, limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT DISTINCT d.id, d.filename, d.status, d.ocr_confidence, d.json_confidence, d.correction_count,
			        d.flagged_for_review, d.review_status, d.created_at, d.updated_at
			 FROM documents d
			 JOIN document_issues i ON d.id = i.document_id
			 WHERE d.flagged_for_review = 1 AND d.review_status NOT IN (?, ?, ?) AND i.issue_type = ?
			 ORDER BY d.created_at DESC LIMIT ?`,
			docstore.ReviewApproved, docstore.ReviewRejected, docstore.ReviewCompleted, issueFilter, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("reviewstore: list for review: %w", err)
	}
	defer rows.Close()

	var details []docstore.DocumentDetail
	for rows.Next() {
		var doc docstore.Document
		var flagged int
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Status, &doc.OCRConfidence, &doc.JSONConfidence,
			&doc.CorrectionCount, &flagged, &doc.ReviewStatus, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("reviewstore: scan review row: %w", err)
		}
		doc.FlaggedForReview = flagged != 0
		issues, err := s.issuesFor(doc.ID)
		if err != nil {
			return nil, err
		}
		details = append(details, docstore.DocumentDetail{Document: doc, Issues: issues})
	}
	return details, rows.Err()
}

// ListAll returns every document with its issues regardless of flag/review
// status, used by the reconciler to walk the full set when syncing against
// the Metrics Store.
func (s *Store) ListAll() ([]docstore.DocumentDetail, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, status, ocr_confidence, json_confidence, correction_count,
		        flagged_for_review, review_status, created_at, updated_at
		 FROM documents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("reviewstore: list all: %w", err)
	}
	defer rows.Close()

	var details []docstore.DocumentDetail
	for rows.Next() {
		var doc docstore.Document
		var flagged int
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Status, &doc.OCRConfidence, &doc.JSONConfidence,
			&doc.CorrectionCount, &flagged, &doc.ReviewStatus, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("reviewstore: scan document: %w", err)
		}
		doc.FlaggedForReview = flagged != 0
		issues, err := s.issuesFor(doc.ID)
		if err != nil {
			return nil, err
		}
		details = append(details, docstore.DocumentDetail{Document: doc, Issues: issues})
	}
	return details, rows.Err()
}

// IssueTypes returns the distinct issue types currently present, used to
// populate the review list's filter options.
func (s *Store) IssueTypes() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT issue_type FROM document_issues ORDER BY issue_type`)
	if err != nil {
		return nil, fmt.Errorf("reviewstore: issue types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// Feedback is one recorded review decision (spec.md §4.9 / C10).
type Feedback struct {
	DocID           string
	Status          string
	ChangesMade     bool
	Reason          string
	FieldsCorrected string
	Reviewer        string
}

// RecordFeedback appends a review_feedback row, grounded on
// original_source/database/review_db.py::record_review_feedback.
func (s *Store) RecordFeedback(f Feedback) error {
	changes := 0
	if f.ChangesMade {
		changes = 1
	}
	reviewer := f.Reviewer
	if reviewer == "" {
		reviewer = "system"
	}
	_, err := s.db.Exec(
		`INSERT INTO review_feedback (document_id, status, changes_made, reason, fields_corrected, reviewer)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.DocID, f.Status, changes, f.Reason, f.FieldsCorrected, reviewer,
	)
	if err != nil {
		return fmt.Errorf("reviewstore: record feedback for %s: %w", f.DocID, err)
	}
	return nil
}

// RecordFieldCorrection appends a field_corrections row, grounded on
// original_source/database/review_db.py::record_field_correction.
func (s *Store) RecordFieldCorrection(docID, field, original, corrected string) error {
	_, err := s.db.Exec(
		`INSERT INTO field_corrections (document_id, field_name, original_value, corrected_value) VALUES (?, ?, ?, ?)`,
		docID, field, original, corrected,
	)
	if err != nil {
		return fmt.Errorf("reviewstore: record field correction %s.%s: %w", docID, field, err)
	}
	return nil
}

// DashboardStats mirrors metricsstore.DashboardStats for the review-side
// read model (spec.md §4.2/§6 "review status"/"monitor dashboard").
type DashboardStats struct {
	TotalDocuments int
	FlaggedCount   int
	ReviewedCount  int
	ByStatus       map[string]int
	ByIssueType    map[string]int
}

// Stats computes the dashboard aggregation, grounded on
// original_source/database/review_db.py::get_dashboard_stats.
func (s *Store) Stats() (*DashboardStats, error) {
	stats := &DashboardStats{ByStatus: map[string]int{}, ByIssueType: map[string]int{}}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&stats.TotalDocuments); err != nil {
		return nil, fmt.Errorf("reviewstore: total documents: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE flagged_for_review = 1`).Scan(&stats.FlaggedCount); err != nil {
		return nil, fmt.Errorf("reviewstore: flagged count: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE review_status IN (?, ?, ?)`,
		docstore.ReviewApproved, docstore.ReviewRejected, docstore.ReviewCompleted).Scan(&stats.ReviewedCount); err != nil {
		return nil, fmt.Errorf("reviewstore: reviewed count: %w", err)
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("reviewstore: status histogram: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT issue_type, COUNT(*) FROM document_issues GROUP BY issue_type`)
	if err != nil {
		return nil, fmt.Errorf("reviewstore: issue histogram: %w", err)
	}
	for rows.Next() {
		var issueType string
		var count int
		if err := rows.Scan(&issueType, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByIssueType[issueType] = count
	}
	rows.Close()
	return stats, rows.Err()
}

var _ docstore.Store = (*Store)(nil)
