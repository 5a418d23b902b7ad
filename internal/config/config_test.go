package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Options.MaxDepth != 3 {
		t.Fatalf("MaxDepth = %d, want 3", cfg.Options.MaxDepth)
	}
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	projectFile := filepath.Join(dir, ".webmirror.json")
	if err := os.WriteFile(projectFile, []byte(`{"max_depth": 5, "log_level": "debug"}`), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}
	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Options.MaxDepth != 5 {
		t.Fatalf("MaxDepth = %d, want 5", cfg.Options.MaxDepth)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadProjectConfigYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	projectFile := filepath.Join(dir, ".webmirror.yaml")
	yamlBody := "max_depth: 4\nlog_level: warn\n"
	if err := os.WriteFile(projectFile, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}
	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Options.MaxDepth != 4 {
		t.Fatalf("MaxDepth = %d, want 4", cfg.Options.MaxDepth)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestLoadPrefersYAMLOverJSONWhenBothPresent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".webmirror.yaml"), []byte("max_depth: 2\n"), 0o644); err != nil {
		t.Fatalf("write yaml config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".webmirror.json"), []byte(`{"max_depth": 5}`), 0o644); err != nil {
		t.Fatalf("write json config: %v", err)
	}
	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Options.MaxDepth != 2 {
		t.Fatalf("MaxDepth = %d, want 2 (yaml should win over json)", cfg.Options.MaxDepth)
	}
}

func TestFlagsOverrideEverything(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".webmirror.json"), []byte(`{"max_depth": 5}`), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}
	depth := 1
	cfg, err := Load(dir, &FlagOverrides{MaxDepth: &depth})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Options.MaxDepth != 1 {
		t.Fatalf("MaxDepth = %d, want 1 (flag wins)", cfg.Options.MaxDepth)
	}
}

func TestValidateRejectsMaxDepthAboveFive(t *testing.T) {
	cfg := Defaults()
	cfg.Options.MaxDepth = 6
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for max_depth > 5")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}
