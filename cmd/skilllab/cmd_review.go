package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Fradkool/skilllab-sub000/internal/dataset"
	"github.com/Fradkool/skilllab-sub000/internal/metricsstore"
	"github.com/Fradkool/skilllab-sub000/internal/reconcile"
	"github.com/Fradkool/skilllab-sub000/internal/review"
	"github.com/Fradkool/skilllab-sub000/internal/reviewstore"
	"github.com/Fradkool/skilllab-sub000/internal/webapi"
)

var (
	reviewFilter string
	reviewLimit  int
	webAddr      string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and drive the human review workflow",
}

var reviewStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show review dashboard stats",
	RunE:  runReviewStatus,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents flagged for review",
	RunE:  runReviewList,
}

var reviewSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the Metrics Store and Review Store (and import from disk)",
	RunE:  runReviewSync,
}

var reviewWebCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the read-only review/monitor/training JSON API",
	RunE:  runReviewWeb,
}

func init() {
	reviewListCmd.Flags().StringVar(&reviewFilter, "filter", reviewstore.AllIssueFilter, "issue type filter")
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 50, "maximum documents to list")
	reviewWebCmd.Flags().StringVar(&webAddr, "addr", ":8081", "address to listen on")

	reviewCmd.AddCommand(reviewStatusCmd, reviewListCmd, reviewSyncCmd, reviewWebCmd)
}

func openReviewStore() (*reviewstore.Store, error) {
	return reviewstore.Open(cfg.Review.DBPath)
}

func buildWorkflow(rs *reviewstore.Store) *review.Workflow {
	validatedDir := filepath.Join(cfg.Paths.OutputDir, "validated_json")
	ocrResultsDir := filepath.Join(cfg.Paths.OutputDir, "ocr_results")
	datasetDir := filepath.Join(cfg.Paths.OutputDir, "donut_dataset")
	builder := dataset.New(datasetDir, cfg.Dataset.TrainValSplit, cfg.Dataset.TaskName, rand.New(rand.NewSource(1)))
	return review.New(rs, validatedDir, ocrResultsDir, builder)
}

func runReviewStatus(cmd *cobra.Command, args []string) error {
	rs, err := openReviewStore()
	if err != nil {
		return err
	}
	defer rs.Close()

	stats, err := rs.Stats()
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
	for issueType, count := range stats.ByIssueType {
		fmt.Fprintf(w, "issue.%s\t%d\n", issueType, count)
	}
	return w.Flush()
}

func runReviewList(cmd *cobra.Command, args []string) error {
	rs, err := openReviewStore()
	if err != nil {
		return err
	}
	defer rs.Close()

	docs, err := rs.ListForReview(reviewFilter, reviewLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "DOC_ID\tSTATUS\tREVIEW_STATUS\tISSUES")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", d.Document.ID, d.Document.Status, d.Document.ReviewStatus, len(d.Issues))
	}
	return w.Flush()
}

func runReviewSync(cmd *cobra.Command, args []string) error {
	metrics, err := metricsstore.Open(filepath.Join(cfg.Paths.OutputDir, "metrics.db"))
	if err != nil {
		return err
	}
	defer metrics.Close()

	rs, err := openReviewStore()
	if err != nil {
		return err
	}
	defer rs.Close()

	validatedDir := filepath.Join(cfg.Paths.OutputDir, "validated_json")
	ocrResultsDir := filepath.Join(cfg.Paths.OutputDir, "ocr_results")
	reconciler := reconcile.New(metrics, rs, validatedDir, ocrResultsDir, logger)

	imported, err := reconciler.ImportFromFilesystem()
	if err != nil {
		return err
	}
	logger.Info("review sync: imported from filesystem", "count", imported)

	stats, err := reconciler.Sync()
	if err != nil {
		return err
	}
	logger.Info("review sync complete", "documents_synced", stats.DocumentsSynced, "issues_synced", stats.IssuesSynced)
	return nil
}

func runReviewWeb(cmd *cobra.Command, args []string) error {
	ctx, cancel := rootContext()
	defer cancel()

	metrics, err := metricsstore.Open(filepath.Join(cfg.Paths.OutputDir, "metrics.db"))
	if err != nil {
		return err
	}
	defer metrics.Close()

	rs, err := openReviewStore()
	if err != nil {
		return err
	}
	defer rs.Close()

	workflow := buildWorkflow(rs)
	srv := webapi.New(webAddr, metrics, workflow, logger)
	return srv.Start(ctx)
}
