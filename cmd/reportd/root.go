package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/reportkit/reportkit/internal/config"
)

var (
	configPath string

	// logLevel is shared by the default handler so a config reload can
	// change verbosity without rebuilding the logger.
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:           "reportd",
	Short:         "Scheduled report ingestion with idempotent inserts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
}

// loadConfig reads the config file and applies its log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	setLogLevel(cfg.LogLevel)
	return cfg, nil
}

func setLogLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		slog.Warn("reportd: unknown log level, keeping current", "level", level)
		return
	}
	logLevel.Set(l)
}

func jobOrErr(cfg *config.Config, id string) (config.Job, error) {
	j, ok := cfg.Job(id)
	if !ok {
		return config.Job{}, fmt.Errorf("no job %q in %s", id, configPath)
	}
	return j, nil
}
