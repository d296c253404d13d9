// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HomeEnv overrides the default ~/.rewind base directory.
const HomeEnv = "REWIND_HOME"

// Config holds all application configuration paths
type Config struct {
	HomeDir      string
	BaseDir      string
	DatabasePath string
	LogDir       string
	ContentPool  string

	Tracking Tracking
}

// Tracking is the user-editable part of the configuration, read from
// <base>/config.yaml.
type Tracking struct {
	CaptureTiming    string   `yaml:"capture_timing"`
	MaxFileSize      int64    `yaml:"max_file_size"`
	CompressionLevel int      `yaml:"compression_level"`
	WatchDrift       bool     `yaml:"watch_drift"`
	GitBaseline      bool     `yaml:"git_baseline"`
	IgnoreDirs       []string `yaml:"ignore_dirs"`
	Metrics          bool     `yaml:"metrics"`
	ListenAddr       string   `yaml:"listen_addr"`
}

// DefaultTracking returns the settings used when config.yaml is absent.
func DefaultTracking() Tracking {
	return Tracking{
		CaptureTiming:    "completion",
		MaxFileSize:      10 << 20,
		CompressionLevel: 3,
		WatchDrift:       true,
		GitBaseline:      true,
		IgnoreDirs:       []string{".git", "node_modules", "vendor", ".idea", ".vscode"},
		Metrics:          true,
		ListenAddr:       "127.0.0.1:7457",
	}
}

// Load creates a Config instance with resolved paths
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	baseDir := os.Getenv(HomeEnv)
	if baseDir == "" {
		baseDir = filepath.Join(home, ".rewind")
	}

	cfg, err := LoadFrom(baseDir)
	if err != nil {
		return nil, err
	}
	cfg.HomeDir = home
	return cfg, nil
}

// LoadFrom resolves every path relative to baseDir and reads config.yaml
// from it when present.
func LoadFrom(baseDir string) (*Config, error) {
	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}

	logDir := filepath.Join(baseDir, "logs")
	contentPool := filepath.Join(baseDir, "content_pool")

	// Ensure directories exist
	for _, dir := range []string{baseDir, logDir, contentPool} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		BaseDir:      baseDir,
		DatabasePath: filepath.Join(baseDir, "rewind.db"),
		LogDir:       logDir,
		ContentPool:  contentPool,
		Tracking:     DefaultTracking(),
	}

	data, err := os.ReadFile(cfg.ConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg.Tracking); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", cfg.ConfigPath(), err)
	}
	if err := cfg.Tracking.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", cfg.ConfigPath(), err)
	}
	return cfg, nil
}

// ConfigPath returns the location of config.yaml
func (c *Config) ConfigPath() string {
	return filepath.Join(c.BaseDir, "config.yaml")
}

// LogPath returns the log file the server and CLI append to
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir, "rewind.log")
}

// Save writes the tracking settings back to config.yaml.
func (c *Config) Save() error {
	data, err := yaml.Marshal(&c.Tracking)
	if err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath(), data, 0644)
}

func (t Tracking) validate() error {
	switch t.CaptureTiming {
	case "completion", "invocation":
	default:
		return fmt.Errorf("capture_timing must be completion or invocation, got %q", t.CaptureTiming)
	}
	if t.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	if t.CompressionLevel < 1 || t.CompressionLevel > 22 {
		return fmt.Errorf("compression_level must be between 1 and 22")
	}
	return nil
}
