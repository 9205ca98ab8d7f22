// Package config loads and validates the SkillLab TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root SkillLab configuration, matching spec.md §6 exactly.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Pipeline   Pipeline   `toml:"pipeline"`
	OCR        OCR        `toml:"ocr"`
	Structure  Structure  `toml:"structure"`
	Correction Correction `toml:"correction"`
	Dataset    Dataset    `toml:"dataset"`
	Review     Review     `toml:"review"`
	Monitoring Monitoring `toml:"monitoring"`
	Logging    Logging    `toml:"logging"`
}

// Paths holds filesystem locations. input_dir/output_dir/model_dir/logs_dir
// are auto-created on Load.
type Paths struct {
	InputDir  string `toml:"input_dir"`
	OutputDir string `toml:"output_dir"`
	ModelDir  string `toml:"model_dir"`
	LogsDir   string `toml:"logs_dir"`
}

// Pipeline controls which steps of a run execute.
type Pipeline struct {
	StartStep string `toml:"start_step"` // ocr|json|validate|dataset
	EndStep   string `toml:"end_step"`
	Limit     int    `toml:"limit"`
}

// OCR controls the OCR collaborator call.
type OCR struct {
	Language      string  `toml:"language"`
	DPI           int     `toml:"dpi"`            // 72-600
	MinConfidence float64 `toml:"min_confidence"` // 0-1
	UseService    bool    `toml:"use_service"`
	ServiceURL    string  `toml:"service_url"`
}

// Structure controls the Structure (Ollama) collaborator call.
type Structure struct {
	OllamaURL   string   `toml:"ollama_url"`
	ModelName   string   `toml:"model_name"`
	Temperature float64  `toml:"temperature"` // 0-1
	MaxTokens   int      `toml:"max_tokens"`
	MaxRetries  int      `toml:"max_retries"`
	Timeout     Duration `toml:"timeout"`
}

// Correction controls the auto-correction loop (C6).
type Correction struct {
	MinCoverageThreshold float64 `toml:"min_coverage_threshold"` // 0-1
	MaxCorrectionAttempts int    `toml:"max_correction_attempts"`
}

// Dataset controls the dataset builder (C9).
type Dataset struct {
	TrainValSplit float64 `toml:"train_val_split"` // 0-1 exclusive
	TaskName      string  `toml:"task_name"`
}

// Review controls the review store (C3).
type Review struct {
	Enabled bool   `toml:"enabled"`
	DBPath  string `toml:"db_path"`
}

// Monitoring controls the resource sampler.
type Monitoring struct {
	Enabled        bool     `toml:"enabled"`
	MetricsDB      string   `toml:"metrics_db"`
	UpdateInterval Duration `toml:"update_interval"`
}

// Logging controls the logger configured at the CLI boundary.
type Logging struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	BackupCount int   `toml:"backup_count"`
}

const envPrefix = "SKILLLAB_"

// Load reads and validates a SkillLab TOML configuration file, applying
// defaults first and environment-variable overrides last, matching
// spec.md §7's precedence: environment override > user file > defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg, os.Environ())

	if err := ensureDirs(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Paths: Paths{
			InputDir:  "data/input",
			OutputDir: "data/output",
			ModelDir:  "data/models",
			LogsDir:   "logs",
		},
		Pipeline: Pipeline{
			StartStep: "ocr",
			EndStep:   "dataset",
			Limit:     0,
		},
		OCR: OCR{
			Language:      "en",
			DPI:           300,
			MinConfidence: 0.5,
			UseService:    true,
			ServiceURL:    "http://localhost:8080/v1/ocr/process_pdf",
		},
		Structure: Structure{
			OllamaURL:   "http://localhost:11434/api/generate",
			ModelName:   "llama3",
			Temperature: 0.1,
			MaxTokens:   2048,
			MaxRetries:  3,
			Timeout:     Duration{300 * time.Second},
		},
		Correction: Correction{
			MinCoverageThreshold:  0.9,
			MaxCorrectionAttempts: 3,
		},
		Dataset: Dataset{
			TrainValSplit: 0.8,
			TaskName:      "resume_extraction",
		},
		Review: Review{
			Enabled: true,
			DBPath:  "data/output/review.db",
		},
		Monitoring: Monitoring{
			Enabled:        true,
			MetricsDB:      "data/output/metrics.db",
			UpdateInterval: Duration{5 * time.Second},
		},
		Logging: Logging{
			Level:       "info",
			File:        "logs/skilllab.log",
			MaxSizeMB:   10,
			BackupCount: 5,
		},
	}
}

func ensureDirs(cfg *Config) error {
	for _, dir := range []string{cfg.Paths.InputDir, cfg.Paths.OutputDir, cfg.Paths.ModelDir, cfg.Paths.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.OCR.DPI < 72 || cfg.OCR.DPI > 600 {
		return fmt.Errorf("ocr.dpi must be between 72 and 600, got %d", cfg.OCR.DPI)
	}
	if cfg.OCR.MinConfidence < 0 || cfg.OCR.MinConfidence > 1 {
		return fmt.Errorf("ocr.min_confidence must be between 0 and 1, got %v", cfg.OCR.MinConfidence)
	}
	if cfg.Structure.Temperature < 0 || cfg.Structure.Temperature > 1 {
		return fmt.Errorf("structure.temperature must be between 0 and 1, got %v", cfg.Structure.Temperature)
	}
	if cfg.Correction.MinCoverageThreshold < 0 || cfg.Correction.MinCoverageThreshold > 1 {
		return fmt.Errorf("correction.min_coverage_threshold must be between 0 and 1, got %v", cfg.Correction.MinCoverageThreshold)
	}
	if cfg.Dataset.TrainValSplit <= 0 || cfg.Dataset.TrainValSplit >= 1 {
		return fmt.Errorf("dataset.train_val_split must be strictly between 0 and 1, got %v", cfg.Dataset.TrainValSplit)
	}
	steps := []string{"ocr", "json", "validate", "dataset"}
	if cfg.Pipeline.StartStep != "" && !contains(steps, cfg.Pipeline.StartStep) {
		return fmt.Errorf("pipeline.start_step %q is not one of %v", cfg.Pipeline.StartStep, steps)
	}
	if cfg.Pipeline.EndStep != "" && !contains(steps, cfg.Pipeline.EndStep) {
		return fmt.Errorf("pipeline.end_step %q is not one of %v", cfg.Pipeline.EndStep, steps)
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// applyEnvOverrides mutates cfg in place using SKILLLAB_-prefixed
// environment variables, with "__" as the nested-path separator.
// Grounded on original_source/config/loader.py::_apply_env_overrides.
func applyEnvOverrides(cfg *Config, environ []string) {
	type override struct {
		keys  []string
		value string
	}
	var overrides []override
	for _, kv := range environ {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		configKey := strings.TrimPrefix(key, envPrefix)
		keys := strings.Split(strings.ToLower(configKey), "__")
		overrides = append(overrides, override{keys: keys, value: value})
	}
	// Deterministic application order so repeated Load() calls are stable.
	sort.Slice(overrides, func(i, j int) bool {
		return strings.Join(overrides[i].keys, ".") < strings.Join(overrides[j].keys, ".")
	})

	for _, o := range overrides {
		setField(cfg, o.keys, o.value)
	}
}

// setField applies one override to the known config shape. Unknown paths
// are ignored rather than erroring, matching the original's tolerant merge.
func setField(cfg *Config, keys []string, raw string) {
	if len(keys) != 2 {
		return
	}
	section, field := keys[0], keys[1]

	switch section {
	case "paths":
		switch field {
		case "input_dir":
			cfg.Paths.InputDir = raw
		case "output_dir":
			cfg.Paths.OutputDir = raw
		case "model_dir":
			cfg.Paths.ModelDir = raw
		case "logs_dir":
			cfg.Paths.LogsDir = raw
		}
	case "pipeline":
		switch field {
		case "start_step":
			cfg.Pipeline.StartStep = raw
		case "end_step":
			cfg.Pipeline.EndStep = raw
		case "limit":
			if n, ok := asInt(raw); ok {
				cfg.Pipeline.Limit = n
			}
		}
	case "ocr":
		switch field {
		case "language":
			cfg.OCR.Language = raw
		case "dpi":
			if n, ok := asInt(raw); ok {
				cfg.OCR.DPI = n
			}
		case "min_confidence":
			if f, ok := asFloat(raw); ok {
				cfg.OCR.MinConfidence = f
			}
		case "use_service":
			if b, ok := asBool(raw); ok {
				cfg.OCR.UseService = b
			}
		case "service_url":
			cfg.OCR.ServiceURL = raw
		}
	case "structure":
		switch field {
		case "ollama_url":
			cfg.Structure.OllamaURL = raw
		case "model_name":
			cfg.Structure.ModelName = raw
		case "temperature":
			if f, ok := asFloat(raw); ok {
				cfg.Structure.Temperature = f
			}
		case "max_tokens":
			if n, ok := asInt(raw); ok {
				cfg.Structure.MaxTokens = n
			}
		case "max_retries":
			if n, ok := asInt(raw); ok {
				cfg.Structure.MaxRetries = n
			}
		case "timeout":
			if d, err := time.ParseDuration(raw); err == nil {
				cfg.Structure.Timeout = Duration{d}
			}
		}
	case "correction":
		switch field {
		case "min_coverage_threshold":
			if f, ok := asFloat(raw); ok {
				cfg.Correction.MinCoverageThreshold = f
			}
		case "max_correction_attempts":
			if n, ok := asInt(raw); ok {
				cfg.Correction.MaxCorrectionAttempts = n
			}
		}
	case "dataset":
		switch field {
		case "train_val_split":
			if f, ok := asFloat(raw); ok {
				cfg.Dataset.TrainValSplit = f
			}
		case "task_name":
			cfg.Dataset.TaskName = raw
		}
	case "review":
		switch field {
		case "enabled":
			if b, ok := asBool(raw); ok {
				cfg.Review.Enabled = b
			}
		case "db_path":
			cfg.Review.DBPath = raw
		}
	case "monitoring":
		switch field {
		case "enabled":
			if b, ok := asBool(raw); ok {
				cfg.Monitoring.Enabled = b
			}
		case "metrics_db":
			cfg.Monitoring.MetricsDB = raw
		case "update_interval":
			if d, err := time.ParseDuration(raw); err == nil {
				cfg.Monitoring.UpdateInterval = Duration{d}
			}
		}
	case "logging":
		switch field {
		case "level":
			cfg.Logging.Level = raw
		case "file":
			cfg.Logging.File = raw
		case "max_size_mb":
			if n, ok := asInt(raw); ok {
				cfg.Logging.MaxSizeMB = n
			}
		case "backup_count":
			if n, ok := asInt(raw); ok {
				cfg.Logging.BackupCount = n
			}
		}
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	}
	return false, false
}

func asInt(v string) (int, bool) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func asFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ExpandHome expands a leading "~" in path to the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
