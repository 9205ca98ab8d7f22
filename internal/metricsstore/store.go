// Package metricsstore is the canonical SQLite-backed implementation of
// docstore.Store (the Metrics Store, C1/C2): it owns Document, Issue,
// PipelineRun, StepExecution, Metric, and ResourceSample (spec.md §3
// "Ownership"). Grounded on internal/store/store.go's Open(dbPath) +
// embedded schema + modernc.org/sqlite pattern (teacher), with schema
// creation isolated from use per spec.md §4.2.
package metricsstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Fradkool/skilllab-sub000/internal/docstore"
)

// Store is the Metrics Store: the system of record for document lifecycle,
// pipeline telemetry, and resource samples.
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

CREATE TABLE IF NOT EXISTS issues (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id TEXT NOT NULL,
	type TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	start_step TEXT NOT NULL,
	end_step TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS step_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	doc_id TEXT NOT NULL DEFAULT '',
	step TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	error TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_type TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	value REAL NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS resource_samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cpu_percent REAL NOT NULL DEFAULT 0,
	mem_percent REAL NOT NULL DEFAULT 0,
	gpu_percent REAL,
	gpu_mem_percent REAL,
	sampled_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_issues_doc ON issues(doc_id);
CREATE INDEX IF NOT EXISTS idx_step_executions_run ON step_executions(run_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_review_status ON documents(review_status);
`

// Open creates or opens the Metrics Store's SQLite database at dbPath and
// ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("metricsstore: open %s: %w", dbPath, err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("metricsstore: create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register inserts a new document at StatusRegistered. Re-registering an
// existing ID is a no-op (idempotent per Testable Property 3).
func (s *Store) Register(docID, filename string) error {
	_, err := s.db.Exec(
		`INSERT INTO documents (id, filename, status) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		docID, filename, docstore.StatusRegistered,
	)
	if err != nil {
		return fmt.Errorf("metricsstore: register %s: %w", docID, err)
	}
	return nil
}

// SetStatus moves a document forward in its status lifecycle. Backward
// transitions return docstore.ErrInvalidState (spec.md §3, forward-only).
func (s *Store) SetStatus(docID, status string) error {
	doc, err := s.Get(docID)
	if err != nil {
		return err
	}
	if !forwardOnly(doc.Status, status) {
		return fmt.Errorf("%w: %s -> %s", docstore.ErrInvalidState, doc.Status, status)
	}
	_, err = s.db.Exec(
		`UPDATE documents SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		status, docID,
	)
	if err != nil {
		return fmt.Errorf("metricsstore: set status %s: %w", docID, err)
	}
	return nil
}

// SetConfidence records OCR and/or JSON confidence scores. A nil pointer
// leaves the corresponding column untouched.
func (s *Store) SetConfidence(docID string, ocr, jsonConf *float64) error {
	if _, err := s.Get(docID); err != nil {
		return err
	}
	if ocr != nil {
		if _, err := s.db.Exec(`UPDATE documents SET ocr_confidence = ?, updated_at = datetime('now') WHERE id = ?`, *ocr, docID); err != nil {
			return fmt.Errorf("metricsstore: set ocr confidence %s: %w", docID, err)
		}
	}
	if jsonConf != nil {
		if _, err := s.db.Exec(`UPDATE documents SET json_confidence = ?, updated_at = datetime('now') WHERE id = ?`, *jsonConf, docID); err != nil {
			return fmt.Errorf("metricsstore: set json confidence %s: %w", docID, err)
		}
	}
	return nil
}

// BumpCorrectionCount increments the document's correction counter and
// returns the new value.
func (s *Store) BumpCorrectionCount(docID string) (int, error) {
	if _, err := s.Get(docID); err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`UPDATE documents SET correction_count = correction_count + 1, updated_at = datetime('now') WHERE id = ?`, docID); err != nil {
		return 0, fmt.Errorf("metricsstore: bump correction count %s: %w", docID, err)
	}
	doc, err := s.Get(docID)
	if err != nil {
		return 0, err
	}
	return doc.CorrectionCount, nil
}

// Flag raises an issue against a document and marks it flagged for review.
func (s *Store) Flag(docID, issueType, details string) error {
	if _, err := s.Get(docID); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("metricsstore: flag %s: %w", docID, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO issues (doc_id, type, details) VALUES (?, ?, ?)`, docID, issueType, details); err != nil {
		return fmt.Errorf("metricsstore: insert issue for %s: %w", docID, err)
	}
	if _, err := tx.Exec(`UPDATE documents SET flagged_for_review = 1, updated_at = datetime('now') WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("metricsstore: flag document %s: %w", docID, err)
	}
	return tx.Commit()
}

// SetReviewStatus applies a review-workflow transition (spec.md §4.1),
// rejecting invalid moves with docstore.ErrInvalidState.
func (s *Store) SetReviewStatus(docID, status string) error {
	doc, err := s.Get(docID)
	if err != nil {
		return err
	}
	if !validReviewTransition(doc.ReviewStatus, status) {
		return fmt.Errorf("%w: review %s -> %s", docstore.ErrInvalidState, doc.ReviewStatus, status)
	}
	_, err = s.db.Exec(`UPDATE documents SET review_status = ?, updated_at = datetime('now') WHERE id = ?`, status, docID)
	if err != nil {
		return fmt.Errorf("metricsstore: set review status %s: %w", docID, err)
	}
	return nil
}

// SyncReviewStatus force-sets review_status without the state-machine
// check SetReviewStatus enforces. The Review Store is the system of record
// for review transitions; the reconciler uses this to propagate its
// terminal decisions back onto the Metrics Store's copy even when the
// Metrics Store never observed the intermediate pending/in_progress steps,
// matching sync.py::sync_databases' raw db.update call.
func (s *Store) SyncReviewStatus(docID, status string) error {
	if _, err := s.Get(docID); err != nil {
		return err
	}
	if _, err := s.db.Exec(`UPDATE documents SET review_status = ?, flagged_for_review = 0, updated_at = datetime('now') WHERE id = ?`, status, docID); err != nil {
		return fmt.Errorf("metricsstore: sync review status %s: %w", docID, err)
	}
	return nil
}

// Get fetches a single document's row, returning docstore.ErrUnknownDocument
// when no such document exists.
func (s *Store) Get(docID string) (*docstore.Document, error) {
	row := s.db.QueryRow(
		`SELECT id, filename, status, ocr_confidence, json_confidence, correction_count,
		        flagged_for_review, review_status, created_at, updated_at
		 FROM documents WHERE id = ?`, docID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", docstore.ErrUnknownDocument, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("metricsstore: get %s: %w", docID, err)
	}
	return doc, nil
}

// GetDetail fetches a document plus its issues.
func (s *Store) GetDetail(docID string) (*docstore.DocumentDetail, error) {
	doc, err := s.Get(docID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT id, doc_id, type, details FROM issues WHERE doc_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: issues for %s: %w", docID, err)
	}
	defer rows.Close()

	var issues []docstore.Issue
	for rows.Next() {
		var iss docstore.Issue
		if err := rows.Scan(&iss.ID, &iss.DocID, &iss.Type, &iss.Details); err != nil {
			return nil, fmt.Errorf("metricsstore: scan issue: %w", err)
		}
		issues = append(issues, iss)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &docstore.DocumentDetail{Document: *doc, Issues: issues}, nil
}

// ListAll returns every document with its issues, ordered by creation time,
// used by the reconciler to walk the full document set (original's
// get_review_queue('All', limit=1000) called with no flagged filter).
func (s *Store) ListAll() ([]docstore.DocumentDetail, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, status, ocr_confidence, json_confidence, correction_count,
		        flagged_for_review, review_status, created_at, updated_at
		 FROM documents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: list all: %w", err)
	}
	defer rows.Close()

	var details []docstore.DocumentDetail
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("metricsstore: scan document: %w", err)
		}
		details = append(details, docstore.DocumentDetail{Document: *doc})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, d := range details {
		issues, err := s.issuesFor(d.Document.ID)
		if err != nil {
			return nil, err
		}
		details[i].Issues = issues
	}
	return details, nil
}

func (s *Store) issuesFor(docID string) ([]docstore.Issue, error) {
	rows, err := s.db.Query(`SELECT id, doc_id, type, details FROM issues WHERE doc_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: issues for %s: %w", docID, err)
	}
	defer rows.Close()

	var issues []docstore.Issue
	for rows.Next() {
		var iss docstore.Issue
		if err := rows.Scan(&iss.ID, &iss.DocID, &iss.Type, &iss.Details); err != nil {
			return nil, fmt.Errorf("metricsstore: scan issue: %w", err)
		}
		issues = append(issues, iss)
	}
	return issues, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*docstore.Document, error) {
	var doc docstore.Document
	var flagged int
	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.Status, &doc.OCRConfidence, &doc.JSONConfidence,
		&doc.CorrectionCount, &flagged, &doc.ReviewStatus, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.FlaggedForReview = flagged != 0
	return &doc, nil
}

var statusOrder = map[string]int{
	docstore.StatusRegistered:          0,
	docstore.StatusOCRComplete:         1,
	docstore.StatusJSONComplete:        2,
	docstore.StatusValidated:           3,
	docstore.StatusRecycledForTraining: 4,
}

func forwardOnly(from, to string) bool {
	fromIdx, fromOK := statusOrder[from]
	toIdx, toOK := statusOrder[to]
	if !fromOK || !toOK {
		return false
	}
	return toIdx >= fromIdx
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

// DashboardStats summarizes the Metrics Store for the monitor dashboard
// (spec.md §4.2/§6 "monitor dashboard").
type DashboardStats struct {
	TotalDocuments int
	FlaggedCount   int
	ReviewedCount  int
	ByStatus       map[string]int
	ByIssueType    map[string]int
}

// Stats computes the dashboard aggregation with one query per figure, grounded
// in style on internal/monitoring/burnin_collector.go's SQL aggregation
// queries (teacher).
func (s *Store) Stats() (*DashboardStats, error) {
	stats := &DashboardStats{ByStatus: map[string]int{}, ByIssueType: map[string]int{}}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&stats.TotalDocuments); err != nil {
		return nil, fmt.Errorf("metricsstore: total documents: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE flagged_for_review = 1`).Scan(&stats.FlaggedCount); err != nil {
		return nil, fmt.Errorf("metricsstore: flagged count: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE review_status IN (?, ?, ?)`,
		docstore.ReviewApproved, docstore.ReviewRejected, docstore.ReviewCompleted).Scan(&stats.ReviewedCount); err != nil {
		return nil, fmt.Errorf("metricsstore: reviewed count: %w", err)
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: status histogram: %w", err)
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

	rows, err = s.db.Query(`SELECT type, COUNT(*) FROM issues GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: issue histogram: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// StartRun records the start of a pipeline run over [startStep, endStep]
// and returns its ID.
func (s *Store) StartRun(startStep, endStep string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO pipeline_runs (start_step, end_step, status) VALUES (?, ?, 'running')`, startStep, endStep)
	if err != nil {
		return 0, fmt.Errorf("metricsstore: start run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun marks a pipeline run as finished with the given terminal status
// ("completed" or "failed").
func (s *Store) FinishRun(runID int64, status string) error {
	_, err := s.db.Exec(`UPDATE pipeline_runs SET status = ?, finished_at = datetime('now') WHERE id = ?`, status, runID)
	if err != nil {
		return fmt.Errorf("metricsstore: finish run %d: %w", runID, err)
	}
	return nil
}

// StartStep records the start of one step execution within a run.
func (s *Store) StartStep(runID int64, docID, step string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO step_executions (run_id, doc_id, step, status) VALUES (?, ?, ?, 'running')`,
		runID, docID, step,
	)
	if err != nil {
		return 0, fmt.Errorf("metricsstore: start step %s: %w", step, err)
	}
	return res.LastInsertId()
}

// FinishStep marks a step execution as finished, recording an error message
// on failure.
func (s *Store) FinishStep(stepID int64, status, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE step_executions SET status = ?, error = ?, finished_at = datetime('now') WHERE id = ?`,
		status, errMsg, stepID,
	)
	if err != nil {
		return fmt.Errorf("metricsstore: finish step %d: %w", stepID, err)
	}
	return nil
}

// RecordMetric appends a general-purpose metric sample, matching
// original_source/monitor/metrics.py::record_metric's (metric_type,
// metric_name, metric_value, details) shape. details may be nil.
func (s *Store) RecordMetric(metricType, name string, value float64, details map[string]any) error {
	var detailsJSON string
	if len(details) > 0 {
		body, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("metricsstore: marshal metric details %s.%s: %w", metricType, name, err)
		}
		detailsJSON = string(body)
	}

	_, err := s.db.Exec(
		`INSERT INTO metrics (metric_type, name, value, details) VALUES (?, ?, ?, ?)`,
		metricType, name, value, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("metricsstore: record metric %s.%s: %w", metricType, name, err)
	}
	return nil
}

// CountMetrics returns how many rows RecordMetric has written for
// metricType ("" matches every row).
func (s *Store) CountMetrics(metricType string) (int, error) {
	var count int
	var err error
	if metricType == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM metrics`).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM metrics WHERE metric_type = ?`, metricType).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("metricsstore: count metrics: %w", err)
	}
	return count, nil
}

// ResourceSample is one point-in-time resource reading (spec.md §3).
type ResourceSample struct {
	CPUPercent    float64
	MemPercent    float64
	GPUPercent    *float64
	GPUMemPercent *float64
	SampledAt     time.Time
}

// RecordResourceSample appends a resource sample.
func (s *Store) RecordResourceSample(sample ResourceSample) error {
	_, err := s.db.Exec(
		`INSERT INTO resource_samples (cpu_percent, mem_percent, gpu_percent, gpu_mem_percent) VALUES (?, ?, ?, ?)`,
		sample.CPUPercent, sample.MemPercent, sample.GPUPercent, sample.GPUMemPercent,
	)
	if err != nil {
		return fmt.Errorf("metricsstore: record resource sample: %w", err)
	}
	return nil
}

// LatestResourceSample returns the most recent resource sample, if any.
func (s *Store) LatestResourceSample() (*ResourceSample, error) {
	row := s.db.QueryRow(`SELECT cpu_percent, mem_percent, gpu_percent, gpu_mem_percent, sampled_at
		FROM resource_samples ORDER BY id DESC LIMIT 1`)
	var sample ResourceSample
	err := row.Scan(&sample.CPUPercent, &sample.MemPercent, &sample.GPUPercent, &sample.GPUMemPercent, &sample.SampledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metricsstore: latest resource sample: %w", err)
	}
	return &sample, nil
}

var _ docstore.Store = (*Store)(nil)
