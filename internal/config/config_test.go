package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Correction.MinCoverageThreshold != 0.9 {
		t.Errorf("expected default min_coverage_threshold 0.9, got %v", cfg.Correction.MinCoverageThreshold)
	}
	if cfg.Correction.MaxCorrectionAttempts != 3 {
		t.Errorf("expected default max_correction_attempts 3, got %d", cfg.Correction.MaxCorrectionAttempts)
	}
	if cfg.Dataset.TrainValSplit != 0.8 {
		t.Errorf("expected default train_val_split 0.8, got %v", cfg.Dataset.TrainValSplit)
	}

	for _, dir := range []string{cfg.Paths.InputDir, cfg.Paths.OutputDir, cfg.Paths.ModelDir, cfg.Paths.LogsDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("expected directory %s to be created: %v", dir, err)
		}
	}
}

func TestLoadUserFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skilllab.toml")
	toml := `
[correction]
min_coverage_threshold = 0.75
max_correction_attempts = 5
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Correction.MinCoverageThreshold != 0.75 {
		t.Errorf("expected file override 0.75, got %v", cfg.Correction.MinCoverageThreshold)
	}
	if cfg.Correction.MaxCorrectionAttempts != 5 {
		t.Errorf("expected file override 5, got %d", cfg.Correction.MaxCorrectionAttempts)
	}
	// Unset fields keep their defaults.
	if cfg.Dataset.TrainValSplit != 0.8 {
		t.Errorf("expected default to survive, got %v", cfg.Dataset.TrainValSplit)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skilllab.toml")
	toml := `
[correction]
min_coverage_threshold = 0.75
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	t.Setenv("SKILLLAB_CORRECTION__MIN_COVERAGE_THRESHOLD", "0.5")
	t.Setenv("SKILLLAB_OCR__USE_SERVICE", "false")
	t.Setenv("SKILLLAB_OCR__DPI", "150")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Correction.MinCoverageThreshold != 0.5 {
		t.Errorf("expected env override 0.5 to win over file 0.75, got %v", cfg.Correction.MinCoverageThreshold)
	}
	if cfg.OCR.UseService {
		t.Error("expected env override to disable use_service")
	}
	if cfg.OCR.DPI != 150 {
		t.Errorf("expected env override dpi 150, got %d", cfg.OCR.DPI)
	}
}

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("SKILLLAB_OCR__DPI", "10")
	if _, err := Load(""); err == nil {
		t.Error("expected validation error for dpi=10")
	}
}

func TestDurationTOMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skilllab.toml")
	toml := `
[structure]
timeout = "45s"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Structure.Timeout.Duration.String() != "45s" {
		t.Errorf("expected 45s, got %s", cfg.Structure.Timeout.Duration)
	}
}
