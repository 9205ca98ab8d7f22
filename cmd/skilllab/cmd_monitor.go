package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Fradkool/skilllab-sub000/internal/metricsstore"
	"github.com/Fradkool/skilllab-sub000/internal/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Resource sampling and pipeline status",
}

var monitorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current pipeline status counts",
	RunE:  runMonitorStatus,
}

var monitorMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Sample and record one CPU/memory snapshot",
	RunE:  runMonitorMetrics,
}

var monitorDashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the combined pipeline + resource dashboard",
	RunE:  runMonitorDashboard,
}

func init() {
	monitorCmd.AddCommand(monitorStatusCmd, monitorMetricsCmd, monitorDashboardCmd)
}

func openMetricsStore() (*metricsstore.Store, error) {
	return metricsstore.Open(filepath.Join(cfg.Paths.OutputDir, "metrics.db"))
}

func runMonitorStatus(cmd *cobra.Command, args []string) error {
	store, err := openMetricsStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "total_documents\t%d\n", stats.TotalDocuments)
	fmt.Fprintf(w, "flagged_count\t%d\n", stats.FlaggedCount)
	fmt.Fprintf(w, "reviewed_count\t%d\n", stats.ReviewedCount)
	for status, count := range stats.ByStatus {
		fmt.Fprintf(w, "status.%s\t%d\n", status, count)
	}
	return w.Flush()
}

func runMonitorMetrics(cmd *cobra.Command, args []string) error {
	store, err := openMetricsStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sample := monitor.Sample()
	if err := store.RecordResourceSample(sample); err != nil {
		return err
	}
	if err := store.RecordMetric("resource", "cpu_usage", sample.CPUPercent, nil); err != nil {
		return err
	}
	if err := store.RecordMetric("resource", "memory_usage_percent", sample.MemPercent, nil); err != nil {
		return err
	}
	fmt.Printf("cpu_percent=%.2f mem_percent=%.2f sampled_at=%s\n", sample.CPUPercent, sample.MemPercent, sample.SampledAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

func runMonitorDashboard(cmd *cobra.Command, args []string) error {
	store, err := openMetricsStore()
	if err != nil {
		return err
	}
	defer store.Close()

	dash, err := monitor.BuildDashboard(store)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "total_documents\t%d\n", dash.Stats.TotalDocuments)
	fmt.Fprintf(w, "flagged_count\t%d\n", dash.Stats.FlaggedCount)
	fmt.Fprintf(w, "reviewed_count\t%d\n", dash.Stats.ReviewedCount)
	if dash.Sample != nil {
		fmt.Fprintf(w, "cpu_percent\t%.2f\n", dash.Sample.CPUPercent)
		fmt.Fprintf(w, "mem_percent\t%.2f\n", dash.Sample.MemPercent)
	}
	return w.Flush()
}
