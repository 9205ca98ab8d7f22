// Package webapi provides the read-only JSON API backing `review web` and
// `training web`; its /monitor/dashboard route serves the same read model
// the `monitor dashboard` CLI command prints. Grounded on the teacher's
// internal/api/api.go for the plain net/http.ServeMux, writeJSON/writeError
// helpers, and Server-struct-holding-injected-deps shape, and on
// original_source/review/app.py and original_source/monitor/dashboard.py
// for which aggregations each route serves. There is no write path here
// (spec.md §1 places the interactive review/training UI out of core
// scope), so the teacher's auth middleware has no endpoint to protect and
// is not carried over (see DESIGN.md).
package webapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Fradkool/skilllab-sub000/internal/dataset"
	"github.com/Fradkool/skilllab-sub000/internal/metricsstore"
	"github.com/Fradkool/skilllab-sub000/internal/monitor"
	"github.com/Fradkool/skilllab-sub000/internal/review"
	"github.com/Fradkool/skilllab-sub000/internal/reviewstore"
)

// Server is the read-only JSON API server.
type Server struct {
	Addr     string
	Metrics  *metricsstore.Store
	Workflow *review.Workflow
	Logger   *slog.Logger

	// DatasetStats is the most recent training dataset build's stats, if
	// any has run this process lifetime. The dataset builder keeps no
	// state between runs, so the /training/dataset-info route can only
	// report what this process itself has built.
	DatasetStats *dataset.Stats

	httpServer *http.Server
}

// New builds a Server bound to addr.
func New(addr string, metrics *metricsstore.Store, workflow *review.Workflow, logger *slog.Logger) *Server {
	return &Server{Addr: addr, Metrics: metrics, Workflow: workflow, Logger: logger}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins listening on Addr. It blocks until ctx is canceled, then
// shuts down gracefully, matching the teacher's Start(ctx)/BaseContext
// pattern.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/review/queue", s.handleReviewQueue)
	mux.HandleFunc("/review/document/", s.handleReviewDocument)
	mux.HandleFunc("/review/dashboard", s.handleReviewDashboard)
	mux.HandleFunc("/monitor/dashboard", s.handleMonitorDashboard)
	mux.HandleFunc("/training/dataset-info", s.handleDatasetInfo)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        s.Addr,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.Logger.Info("webapi server starting", "addr", s.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = reviewstore.AllIssueFilter
	}
	limit := 100

	docs, err := s.Workflow.Queue(filter, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, docs)
}

func (s *Server) handleReviewDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Path[len("/review/document/"):]
	if docID == "" {
		writeError(w, http.StatusBadRequest, "document id required")
		return
	}
	detail, err := s.Workflow.Details(docID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, detail)
}

func (s *Server) handleReviewDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Workflow.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleMonitorDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := monitor.BuildDashboard(s.Metrics)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, dash)
}

func (s *Server) handleDatasetInfo(w http.ResponseWriter, r *http.Request) {
	if s.DatasetStats == nil {
		writeError(w, http.StatusNotFound, "no training dataset has been built yet this run")
		return
	}
	writeJSON(w, s.DatasetStats)
}
