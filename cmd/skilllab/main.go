// Package main is the skilllab CLI: run {pipeline|extract|structure|train},
// review {status|list|sync|web}, monitor {status|metrics|dashboard},
// training {list-models|dataset-info|web}, health check. Grounded on the
// teacher's cmd/cortex/main.go for logger setup and signal-driven
// graceful shutdown, and on codenerd's cmd/nerd/main.go for splitting a
// cobra command tree across cmd_*.go files under one package main.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Fradkool/skilllab-sub000/internal/config"
)

var (
	configPath string
	devLog     bool

	cfg    *config.Config
	logger *slog.Logger
)

func configureLogger(level string, dev bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

var rootCmd = &cobra.Command{
	Use:   "skilllab",
	Short: "SkillLab — resume OCR/structuring pipeline and training dataset builder",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		logger = configureLogger(cfg.Logging.Level, devLog)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "skilllab.toml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "use text log format (default is JSON)")

	rootCmd.AddCommand(runCmd, reviewCmd, monitorCmd, trainingCmd, healthCmd)
}

// rootContext returns a context canceled on SIGINT/SIGTERM, matching the
// teacher's signal-handling shutdown in cmd/cortex/main.go.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
