package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fradkool/skilllab-sub000/internal/ocrclient"
	"github.com/Fradkool/skilllab-sub000/internal/structureclient"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Health checks for the OCR and Structure collaborators",
}

var healthCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe both external collaborators and report their status",
	RunE:  runHealthCheck,
}

func init() {
	healthCmd.AddCommand(healthCheckCmd)
}

func runHealthCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ocr := ocrclient.New(cfg.OCR.ServiceURL, 5*time.Second)
	ocrHealthy, ocrErr := ocr.CheckHealth(ctx)

	structure := structureclient.New(cfg.Structure.OllamaURL, cfg.Structure.ModelName, cfg.Structure.Timeout.Duration)
	structureHealthy, structureErr := structure.CheckHealth(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "ocr\t%s\n", healthLabel(ocrHealthy, ocrErr))
	fmt.Fprintf(w, "structure\t%s\n", healthLabel(structureHealthy, structureErr))
	if err := w.Flush(); err != nil {
		return err
	}

	if !ocrHealthy || !structureHealthy {
		os.Exit(1)
	}
	return nil
}

func healthLabel(healthy bool, err error) string {
	if err != nil {
		return fmt.Sprintf("unreachable (%v)", err)
	}
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}
