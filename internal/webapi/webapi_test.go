package webapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Fradkool/skilllab-sub000/internal/dataset"
	"github.com/Fradkool/skilllab-sub000/internal/docstore"
	"github.com/Fradkool/skilllab-sub000/internal/metricsstore"
	"github.com/Fradkool/skilllab-sub000/internal/review"
	"github.com/Fradkool/skilllab-sub000/internal/reviewstore"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T) *Server {
	t.Helper()
	metrics, err := metricsstore.Open(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { metrics.Close() })

	rs, err := reviewstore.Open(filepath.Join(t.TempDir(), "review.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rs.Close() })

	root := t.TempDir()
	ds := dataset.New(filepath.Join(root, "donut_dataset"), 0.8, "resume", rand.New(rand.NewSource(1)))
	wf := review.New(rs, filepath.Join(root, "validated_json"), filepath.Join(root, "ocr_results"), ds)

	if err := rs.Register("doc1", "doc1.pdf"); err != nil {
		t.Fatal(err)
	}
	if err := rs.AddIssue("doc1", docstore.IssueLowOCRConfidence, "low"); err != nil {
		t.Fatal(err)
	}

	return New(":0", metrics, wf, noopLogger())
}

func TestHandleReviewQueueReturnsFlaggedDocuments(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/review/queue", nil)
	s.handleReviewQueue(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var docs []docstore.DocumentDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Document.ID != "doc1" {
		t.Fatalf("expected doc1 in queue response, got %+v", docs)
	}
}

func TestHandleReviewDocumentReturns404ForUnknown(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/review/document/missing", nil)
	s.handleReviewDocument(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleDatasetInfoReportsNotFoundWithoutABuild(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/training/dataset-info", nil)
	s.handleDatasetInfo(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleDatasetInfoReportsStatsAfterBuild(t *testing.T) {
	s := testServer(t)
	s.DatasetStats = &dataset.Stats{TotalFiles: 3, ValidSamples: 3, TrainSamples: 2, ValSamples: 1}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/training/dataset-info", nil)
	s.handleDatasetInfo(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats dataset.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TrainSamples != 2 {
		t.Errorf("expected 2 train samples, got %d", stats.TrainSamples)
	}
}

func TestServerStartRespondsToHealthAndShutsDownOnCancel(t *testing.T) {
	s := testServer(t)
	s.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
