package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fradkool/skilllab-sub000/internal/dataset"
	"github.com/Fradkool/skilllab-sub000/internal/metricsstore"
	"github.com/Fradkool/skilllab-sub000/internal/review"
	"github.com/Fradkool/skilllab-sub000/internal/reviewstore"
	"github.com/Fradkool/skilllab-sub000/internal/structureclient"
	"github.com/Fradkool/skilllab-sub000/internal/webapi"
)

var trainingCmd = &cobra.Command{
	Use:   "training",
	Short: "Inspect the Structure collaborator and training dataset",
}

var trainingListModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List models available from the Structure collaborator",
	RunE:  runTrainingListModels,
}

var trainingDatasetInfoCmd = &cobra.Command{
	Use:   "dataset-info",
	Short: "Show the last-built training dataset's stats",
	RunE:  runTrainingDatasetInfo,
}

var trainingWebCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the read-only review/monitor/training JSON API",
	RunE:  runTrainingWeb,
}

func init() {
	trainingWebCmd.Flags().StringVar(&webAddr, "addr", ":8081", "address to listen on")
	trainingCmd.AddCommand(trainingListModelsCmd, trainingDatasetInfoCmd, trainingWebCmd)
}

func runTrainingListModels(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := structureclient.New(cfg.Structure.OllamaURL, cfg.Structure.ModelName, cfg.Structure.Timeout.Duration)
	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME")
	for _, m := range models {
		fmt.Fprintln(w, m.Name)
	}
	return w.Flush()
}

// runTrainingDatasetInfo re-derives dataset stats by re-scanning the
// already-built donut_dataset split index files, since a fresh CLI
// invocation has no memory of the process that built them.
func runTrainingDatasetInfo(cmd *cobra.Command, args []string) error {
	datasetDir := filepath.Join(cfg.Paths.OutputDir, "donut_dataset")

	trainCount, err := countIndexEntries(filepath.Join(datasetDir, "train_index.txt"))
	if err != nil {
		return err
	}
	valCount, err := countIndexEntries(filepath.Join(datasetDir, "validation_index.txt"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "train_samples\t%d\n", trainCount)
	fmt.Fprintf(w, "validation_samples\t%d\n", valCount)
	fmt.Fprintf(w, "total_samples\t%d\n", trainCount+valCount)
	return w.Flush()
}

func countIndexEntries(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

func runTrainingWeb(cmd *cobra.Command, args []string) error {
	ctx, cancel := rootContext()
	defer cancel()

	metrics, err := metricsstore.Open(filepath.Join(cfg.Paths.OutputDir, "metrics.db"))
	if err != nil {
		return err
	}
	defer metrics.Close()

	rs, err := reviewstore.Open(cfg.Review.DBPath)
	if err != nil {
		return err
	}
	defer rs.Close()

	datasetDir := filepath.Join(cfg.Paths.OutputDir, "donut_dataset")
	validatedDir := filepath.Join(cfg.Paths.OutputDir, "validated_json")
	ocrResultsDir := filepath.Join(cfg.Paths.OutputDir, "ocr_results")
	builder := dataset.New(datasetDir, cfg.Dataset.TrainValSplit, cfg.Dataset.TaskName, rand.New(rand.NewSource(1)))
	workflow := review.New(rs, validatedDir, ocrResultsDir, builder)

	srv := webapi.New(webAddr, metrics, workflow, logger)
	return srv.Start(ctx)
}
