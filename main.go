package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rewind/internal/config"
)

// --- Global Command Variables ---
var (
	projectDir string
	homeDir    string
	verbose    bool

	app     *App
	logFile *os.File

	rootCmd = &cobra.Command{
		Use:   "rewind",
		Short: "Track file changes made by agent tools and roll them back",
		Long: `rewind records the file effects of Read, Edit, Write and Bash tool calls,
grouped into change units, and restores the project to the state before any unit.`,
		SilenceUsage:      true,
		PersistentPreRunE: startApp,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "project root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "state directory (default: $"+config.HomeEnv+" or ~/.rewind)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "also write logs to stderr")
}

func main() {
	err := rootCmd.Execute()
	stopApp()
	if err != nil {
		os.Exit(1)
	}
}

// startApp loads the configuration, routes logs and starts the App
func startApp(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if homeDir != "" {
		cfg, err = config.LoadFrom(homeDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	serving := cmd.Name() == "serve"
	if err := setupLogging(cfg, serving || verbose); err != nil {
		return err
	}

	if projectDir == "" {
		if projectDir, err = os.Getwd(); err != nil {
			return err
		}
	}
	if projectDir, err = filepath.Abs(projectDir); err != nil {
		return err
	}

	app = NewApp(cfg)
	return app.startup(cmd.Context(), serving)
}

// stopApp shuts the App down whether or not the command succeeded
func stopApp() {
	if app != nil {
		app.shutdown()
		app = nil
	}
	if logFile != nil {
		log.SetOutput(os.Stderr)
		logFile.Close()
		logFile = nil
	}
}

// setupLogging appends the standard logger to <base>/logs/rewind.log and
// optionally to stderr
func setupLogging(cfg *config.Config, toStderr bool) error {
	f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logFile = f

	var out io.Writer = f
	if toStderr {
		out = io.MultiWriter(os.Stderr, f)
	}
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return nil
}
