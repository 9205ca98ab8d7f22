// Package monitor implements the resource sampler: a ticking goroutine
// that records CPU/memory/GPU samples into the Metrics Store, plus the
// read models backing `monitor dashboard`. Grounded on
// original_source/utils/gpu_monitor.py for the sample fields (cpu_percent,
// memory, GPU utilization; here one row per tick carrying at most one GPU
// reading) and the teacher's
// internal/monitoring/trial_monitor.go for the ticker + context
// cancellation sampler-goroutine shape (adapted here from a one-shot
// safety-threshold evaluator to a recurring background sampler).
package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/Fradkool/skilllab-sub000/internal/metricsstore"
)

// Sampler is the interface monitor needs from its storage backend.
type Sampler interface {
	RecordResourceSample(sample metricsstore.ResourceSample) error
	LatestResourceSample() (*metricsstore.ResourceSample, error)
	RecordMetric(metricType, name string, value float64, details map[string]any) error
}

// GPUReader reports per-device GPU utilization and memory percent when a
// GPU is available. Production wiring plugs in an nvml-backed reader (no
// such binding exists in this module's dependency set; see DESIGN.md); the
// zero value reports no GPU present, matching gpu_monitor.py's
// has_gpu=False fallback path.
type GPUReader interface {
	Read() (gpuPercent, memPercent float64, ok bool)
}

// NoGPU is a GPUReader that always reports no GPU present.
type NoGPU struct{}

func (NoGPU) Read() (float64, float64, bool) { return 0, 0, false }

// Monitor ticks at Interval, recording one ResourceSample per tick until
// its context is canceled.
type Monitor struct {
	Store    Sampler
	GPU      GPUReader
	Interval time.Duration
	Logger   *slog.Logger
}

// New builds a Monitor. A nil GPUReader defaults to NoGPU.
func New(store Sampler, gpu GPUReader, interval time.Duration, logger *slog.Logger) *Monitor {
	if gpu == nil {
		gpu = NoGPU{}
	}
	return &Monitor{Store: store, GPU: gpu, Interval: interval, Logger: logger}
}

// Run samples once immediately, then every Interval, until ctx is
// canceled — matching trial_monitor.go's ticker+select loop, restructured
// from a one-shot evaluation into a recurring sampler.
func (m *Monitor) Run(ctx context.Context) {
	m.sampleOnce()

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	sample := Sample()

	if gpuPct, memPct, ok := m.GPU.Read(); ok {
		sample.GPUPercent = &gpuPct
		sample.GPUMemPercent = &memPct
	}

	if err := m.Store.RecordResourceSample(sample); err != nil {
		m.Logger.Error("monitor: record sample failed", "error", err)
	}

	// Mirrors record_metric("resource", "cpu_usage"/"memory_usage_percent",
	// ...) alongside the resource_samples row, so dashboards querying the
	// general metrics feed see the same readings.
	if err := m.Store.RecordMetric("resource", "cpu_usage", sample.CPUPercent, nil); err != nil {
		m.Logger.Error("monitor: record cpu metric failed", "error", err)
	}
	if err := m.Store.RecordMetric("resource", "memory_usage_percent", sample.MemPercent, nil); err != nil {
		m.Logger.Error("monitor: record memory metric failed", "error", err)
	}
}

// Sample reads the current process's memory usage via the Go runtime
// (HeapAlloc as a percent of Sys); CPUPercent is always reported as 0.
// There is no portable, dependency-free way to read host-wide CPU percent
// from the standard library; runtime.MemStats gives an honest in-process
// figure without reaching for a platform-specific binding (see
// SPEC_FULL.md §2/DESIGN.md for why no third-party system-stats library
// from the retrieval pack was wired here).
func Sample() metricsstore.ResourceSample {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return metricsstore.ResourceSample{
		CPUPercent: 0,
		MemPercent: memPercentOf(mem),
		SampledAt:  time.Now(),
	}
}

func memPercentOf(mem runtime.MemStats) float64 {
	if mem.Sys == 0 {
		return 0
	}
	return float64(mem.HeapAlloc) / float64(mem.Sys) * 100
}

// Dashboard is the read model backing `monitor dashboard`, combining the
// Metrics Store's pipeline/issue aggregation with the most recent resource
// sample, matching the fields original_source/api/monitoring.py's
// dashboard endpoint assembles.
type Dashboard struct {
	Stats  *metricsstore.DashboardStats
	Sample *metricsstore.ResourceSample
}

// BuildDashboard reads the current aggregate stats and latest resource
// sample from the Metrics Store.
func BuildDashboard(store *metricsstore.Store) (*Dashboard, error) {
	stats, err := store.Stats()
	if err != nil {
		return nil, err
	}
	sample, err := store.LatestResourceSample()
	if err != nil {
		return nil, err
	}
	return &Dashboard{Stats: stats, Sample: sample}, nil
}
