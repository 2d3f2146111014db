package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}

	if cfg.Data.SliceShift != 1 {
		t.Errorf("Expected slice shift 1, got %d", cfg.Data.SliceShift)
	}
	if cfg.CRF.NumLabels != 2 || cfg.CRF.GTProb != 0.7 || cfg.CRF.Iterations != 10 {
		t.Errorf("Unexpected CRF defaults: %+v", cfg.CRF)
	}
	if cfg.Inference.Threshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %g", cfg.Inference.Threshold)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Model.NumFolds != 4 {
		t.Errorf("Expected default fold count 4, got %d", cfg.Model.NumFolds)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Data.SliceShift = 2
	cfg.CRF.Mode = ModeJoint
	cfg.Data.ImageSize = []int{160, 192}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Data.SliceShift != 2 {
		t.Errorf("Expected slice shift 2, got %d", loaded.Data.SliceShift)
	}
	if loaded.CRF.Mode != ModeJoint {
		t.Errorf("Expected joint mode, got %q", loaded.CRF.Mode)
	}
	if loaded.Data.ImageSize[0] != 160 || loaded.Data.ImageSize[1] != 192 {
		t.Errorf("Expected image size [160 192], got %v", loaded.Data.ImageSize)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "inference:\n  threshold: 1.5\ncrf:\n  mode: sideways\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid, got %v", err)
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("data: [unterminated"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("Expected parse error for malformed YAML")
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gisegment.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Config file not created: %v", err)
	}
}
