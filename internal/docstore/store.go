// Package docstore provides the Document Store (C1): the canonical
// per-document record of status, confidences, correction count, and review
// flag/state. It is owned by the Metrics Store in the wider system (spec.md
// §3 "Ownership") but factored into its own package because C5 (quality
// policy) and C10 (review workflow) both operate purely in terms of it.
package docstore

import (
	"errors"
	"time"
)

// Status values, forward-only per spec.md §3.
const (
	StatusRegistered           = "registered"
	StatusOCRComplete          = "ocr_complete"
	StatusJSONComplete         = "json_complete"
	StatusValidated            = "validated"
	StatusRecycledForTraining  = "recycled_for_training"
)

var statusOrder = map[string]int{
	StatusRegistered:          0,
	StatusOCRComplete:         1,
	StatusJSONComplete:        2,
	StatusValidated:           3,
	StatusRecycledForTraining: 4,
}

// Review status values (spec.md §4.1 state machine).
const (
	ReviewNone       = "none"
	ReviewPending    = "pending"
	ReviewInProgress = "in_progress"
	ReviewApproved   = "approved"
	ReviewRejected   = "rejected"
	ReviewCompleted  = "completed" // legacy alias, accepted as either terminal on read
)

// Issue type vocabulary (spec.md §3, closed).
const (
	IssueLowOCRConfidence    = "low_ocr_confidence"
	IssueLowJSONConfidence   = "low_json_confidence"
	IssueMissingContact      = "missing_contact"
	IssueValidationFailure   = "validation_failure"
	IssueMultipleCorrections = "multiple_corrections"
	IssueOCRExtractionFailure = "ocr_extraction_failure"
	IssueLowJSONCompleteness = "low_json_completeness"
	IssueSchemaValidation    = "schema_validation"
)

// Errors per spec.md §7.
var (
	ErrUnknownDocument = errors.New("docstore: unknown document")
	ErrInvalidState    = errors.New("docstore: invalid state transition")
)

// Document is the canonical per-document record (spec.md §3).
type Document struct {
	ID                string
	Filename          string
	Status            string
	OCRConfidence     *float64
	JSONConfidence    *float64
	CorrectionCount   int
	FlaggedForReview  bool
	ReviewStatus      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Issue is an append-only record linked to a Document (spec.md §3).
type Issue struct {
	ID      int64
	DocID   string
	Type    string
	Details string
}

// DocumentDetail is a document row plus its issues, the uniform shape both
// stores expose for per-document detail lookups (spec.md §4.2).
type DocumentDetail struct {
	Document Document
	Issues   []Issue
}

// Store is the capability set for document lifecycle operations (C1),
// implemented by both the Metrics Store (canonical owner, spec.md §3
// "Ownership") and the Review Store (projection). Modeled as a plain
// interface per spec.md §9's redesign hint ("Repository inheritance with
// shared base → plain interfaces: DocumentStore, MetricsStore, ReviewStore
// as capability sets").
type Store interface {
	Register(docID, filename string) error
	SetStatus(docID, status string) error
	SetConfidence(docID string, ocr, json *float64) error
	BumpCorrectionCount(docID string) (int, error)
	Flag(docID, issueType, details string) error
	SetReviewStatus(docID, status string) error
	Get(docID string) (*Document, error)
	GetDetail(docID string) (*DocumentDetail, error)
}

// IsTerminalReviewStatus reports whether status is a terminal review state,
// treating the legacy "completed" value as either terminal per spec.md §9's
// open-question resolution (see DESIGN.md).
func IsTerminalReviewStatus(status string) bool {
	return status == ReviewApproved || status == ReviewRejected || status == ReviewCompleted
}

// forwardOnly reports whether moving from `from` to `to` is a forward status
// transition (or a no-op re-registration of the same status).
func forwardOnly(from, to string) bool {
	fromIdx, fromOK := statusOrder[from]
	toIdx, toOK := statusOrder[to]
	if !fromOK || !toOK {
		return false
	}
	return toIdx >= fromIdx
}

// reviewTransitions encodes the state machine in spec.md §4.1.
var reviewTransitions = map[string][]string{
	ReviewNone:       {ReviewPending},
	ReviewPending:    {ReviewInProgress, ReviewRejected},
	ReviewInProgress: {ReviewApproved, ReviewRejected},
	ReviewApproved:   {},
	ReviewRejected:   {},
	ReviewCompleted:  {},
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

