package monitor

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Fradkool/skilllab-sub000/internal/metricsstore"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tempMetricsStore(t *testing.T) *metricsstore.Store {
	t.Helper()
	s, err := metricsstore.Open(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeGPU struct {
	gpuPct, memPct float64
}

func (f fakeGPU) Read() (float64, float64, bool) { return f.gpuPct, f.memPct, true }

func TestRunRecordsSamplesUntilCanceled(t *testing.T) {
	store := tempMetricsStore(t)
	m := New(store, fakeGPU{gpuPct: 42, memPct: 10}, 10*time.Millisecond, noopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	sample, err := store.LatestResourceSample()
	if err != nil {
		t.Fatal(err)
	}
	if sample == nil {
		t.Fatal("expected at least one sample recorded")
	}
	if sample.GPUPercent == nil || *sample.GPUPercent != 42 {
		t.Errorf("expected gpu percent 42, got %+v", sample.GPUPercent)
	}

	count, err := store.CountMetrics("resource")
	if err != nil {
		t.Fatal(err)
	}
	if count == 0 {
		t.Error("expected resource metrics recorded alongside resource samples")
	}
}

func TestRunWithNoGPUOmitsGPUFields(t *testing.T) {
	store := tempMetricsStore(t)
	m := New(store, nil, 10*time.Millisecond, noopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	sample, err := store.LatestResourceSample()
	if err != nil {
		t.Fatal(err)
	}
	if sample == nil {
		t.Fatal("expected a sample recorded")
	}
	if sample.GPUPercent != nil {
		t.Errorf("expected nil gpu percent with no GPU reader, got %v", *sample.GPUPercent)
	}
}

func TestBuildDashboardCombinesStatsAndLatestSample(t *testing.T) {
	store := tempMetricsStore(t)
	if err := store.Register("doc1", "doc1.pdf"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordResourceSample(metricsstore.ResourceSample{CPUPercent: 5, MemPercent: 10}); err != nil {
		t.Fatal(err)
	}

	dash, err := BuildDashboard(store)
	if err != nil {
		t.Fatal(err)
	}
	if dash.Stats.TotalDocuments != 1 {
		t.Errorf("expected 1 total document, got %d", dash.Stats.TotalDocuments)
	}
	if dash.Sample == nil || dash.Sample.MemPercent != 10 {
		t.Errorf("expected latest sample with mem_percent 10, got %+v", dash.Sample)
	}
}
