package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fradkool/skilllab-sub000/internal/correction"
	"github.com/Fradkool/skilllab-sub000/internal/dataset"
	"github.com/Fradkool/skilllab-sub000/internal/metricsstore"
	"github.com/Fradkool/skilllab-sub000/internal/ocrclient"
	"github.com/Fradkool/skilllab-sub000/internal/pipeline"
	"github.com/Fradkool/skilllab-sub000/internal/quality"
	"github.com/Fradkool/skilllab-sub000/internal/steps"
	"github.com/Fradkool/skilllab-sub000/internal/structureclient"
)

var (
	runLimit int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all or part of the document pipeline",
}

var runPipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the full pipeline (ocr -> json -> validate -> dataset)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSlice(cfg.Pipeline.StartStep, cfg.Pipeline.EndStep)
	},
}

var runExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run OCR extraction only",
	RunE:  func(cmd *cobra.Command, args []string) error { return runSlice("ocr", "ocr") },
}

var runStructureCmd = &cobra.Command{
	Use:   "structure",
	Short: "Run structuring and validation (assumes OCR already ran)",
	RunE:  func(cmd *cobra.Command, args []string) error { return runSlice("json", "validate") },
}

var runTrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Build the training dataset (assumes structuring already ran)",
	RunE:  func(cmd *cobra.Command, args []string) error { return runSlice("dataset", "dataset") },
}

func init() {
	runCmd.PersistentFlags().IntVar(&runLimit, "limit", 0, "limit the number of documents processed (0 = no limit)")
	runCmd.AddCommand(runPipelineCmd, runExtractCmd, runStructureCmd, runTrainCmd)
}

// buildEngine wires the pipeline.Engine and its four steps from cfg,
// matching pipeline/executor.py's step registration.
func buildEngine() (*pipeline.Engine, *metricsstore.Store, error) {
	metrics, err := metricsstore.Open(filepath.Join(cfg.Paths.OutputDir, "metrics.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening metrics store: %w", err)
	}

	engine := pipeline.NewEngine(metrics, logger)

	datasetDir := filepath.Join(cfg.Paths.OutputDir, "donut_dataset")
	ocrResultsDir := filepath.Join(cfg.Paths.OutputDir, "ocr_results")
	validatedDir := filepath.Join(cfg.Paths.OutputDir, "validated_json")

	extractStep := &steps.ExtractStep{
		InputDir: cfg.Paths.InputDir,
		Client:   ocrclient.New(cfg.OCR.ServiceURL, 60*time.Second),
		Store:    metrics,
		Logger:   logger,
		Options: ocrclient.Options{
			UseGPU:        false,
			Language:      cfg.OCR.Language,
			MinConfidence: cfg.OCR.MinConfidence,
			DPI:           cfg.OCR.DPI,
		},
		OCRResultsDir: ocrResultsDir,
		Limit:         runLimit,
		Concurrency:   4,
	}

	structureStep := &steps.StructureStep{
		Client: structureclient.New(cfg.Structure.OllamaURL, cfg.Structure.ModelName, cfg.Structure.Timeout.Duration),
		Store:  metrics,
		Logger: logger,
		GenOptions: structureclient.GenerateOptions{
			Temperature: cfg.Structure.Temperature,
			MaxTokens:   cfg.Structure.MaxTokens,
		},
		Correction: correction.Options{
			MinCoverageThreshold: cfg.Correction.MinCoverageThreshold,
			MaxAttempts:          cfg.Correction.MaxCorrectionAttempts,
		},
		OCRResultsDir: ocrResultsDir,
		ValidatedDir:  validatedDir,
	}

	validateStep := &steps.ValidateStep{
		Store:      metrics,
		Thresholds: quality.DefaultThresholds(),
		Logger:     logger,
	}

	builder := dataset.New(datasetDir, cfg.Dataset.TrainValSplit, cfg.Dataset.TaskName, rand.New(rand.NewSource(1)))
	datasetStep := &steps.DatasetStep{Builder: builder, Store: metrics, Logger: logger, ValidatedDir: validatedDir}

	engine.Register("full", []pipeline.Step{extractStep, structureStep, validateStep, datasetStep})

	return engine, metrics, nil
}

func runSlice(start, end string) error {
	ctx, cancel := rootContext()
	defer cancel()

	engine, metrics, err := buildEngine()
	if err != nil {
		return err
	}
	defer metrics.Close()

	pctx := pipeline.NewContext(nil)
	if err := engine.Run(ctx, "full", start, end, pctx); err != nil {
		return err
	}

	printRunSummary(pctx)
	if pctx.HasErrors() {
		os.Exit(1)
	}
	return nil
}

func printRunSummary(pctx *pipeline.Context) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS")
	for _, stepErr := range pctx.Errors() {
		fmt.Fprintf(w, "%s\tfailed: %v\n", stepErr.Step, stepErr.Err)
	}
	fmt.Fprintf(w, "documents_processed\t%d\n", pctx.DocumentsProcessed)
	w.Flush()
}
