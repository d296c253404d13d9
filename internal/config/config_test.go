// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_Load(t *testing.T) {
	base := filepath.Join(t.TempDir(), "home")
	t.Setenv(HomeEnv, base)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HomeDir == "" {
		t.Error("HomeDir should not be empty")
	}

	if cfg.BaseDir != base {
		t.Errorf("Expected BaseDir %s, got %s", base, cfg.BaseDir)
	}

	for _, dir := range []string{cfg.BaseDir, cfg.LogDir, cfg.ContentPool} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("%s should be created", dir)
		}
	}

	if cfg.DatabasePath != filepath.Join(base, "rewind.db") {
		t.Errorf("Unexpected DatabasePath %s", cfg.DatabasePath)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Tracking.CaptureTiming != "completion" {
		t.Errorf("Expected completion timing, got %s", cfg.Tracking.CaptureTiming)
	}
	if cfg.Tracking.MaxFileSize != 10<<20 {
		t.Errorf("Unexpected MaxFileSize %d", cfg.Tracking.MaxFileSize)
	}
	if !cfg.Tracking.WatchDrift {
		t.Error("WatchDrift should default to true")
	}
}

func TestConfig_ReadsYAML(t *testing.T) {
	base := t.TempDir()
	yaml := "capture_timing: invocation\nmax_file_size: 1024\nignore_dirs: [dist]\nwatch_drift: false\n"
	if err := os.WriteFile(filepath.Join(base, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadFrom(base)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Tracking.CaptureTiming != "invocation" {
		t.Errorf("Expected invocation timing, got %s", cfg.Tracking.CaptureTiming)
	}
	if cfg.Tracking.MaxFileSize != 1024 {
		t.Errorf("Expected MaxFileSize 1024, got %d", cfg.Tracking.MaxFileSize)
	}
	if len(cfg.Tracking.IgnoreDirs) != 1 || cfg.Tracking.IgnoreDirs[0] != "dist" {
		t.Errorf("Unexpected IgnoreDirs %v", cfg.Tracking.IgnoreDirs)
	}
	if cfg.Tracking.WatchDrift {
		t.Error("WatchDrift should be false")
	}
	// Unset keys keep their defaults.
	if cfg.Tracking.CompressionLevel != 3 {
		t.Errorf("Expected default compression level, got %d", cfg.Tracking.CompressionLevel)
	}
}

func TestConfig_RejectsInvalidYAML(t *testing.T) {
	cases := map[string]string{
		"timing":      "capture_timing: sometimes\n",
		"size":        "max_file_size: 0\n",
		"compression": "compression_level: 40\n",
		"syntax":      "capture_timing: [\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			base := t.TempDir()
			if err := os.WriteFile(filepath.Join(base, "config.yaml"), []byte(body), 0644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			if _, err := LoadFrom(base); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	base := t.TempDir()
	cfg, err := LoadFrom(base)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	cfg.Tracking.CaptureTiming = "invocation"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	again, err := LoadFrom(base)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if again.Tracking.CaptureTiming != "invocation" {
		t.Errorf("Expected saved timing, got %s", again.Tracking.CaptureTiming)
	}
}
