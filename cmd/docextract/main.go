package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/internal/common"
)

type rootFlags struct {
	logLevel  string
	logFormat string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "docextract",
		Short:         "Batch structured extraction over converted documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (default LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "json or text (default json for serve, text otherwise)")

	root.AddCommand(
		newServeCmd(flags),
		newRunCmd(flags),
		newWatchCmd(flags),
		newVersionsCmd(flags),
		newCompareCmd(flags),
		newExportCmd(flags),
	)
	return root
}

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

// loadConfig reads the environment and applies the logging flags.
func (f *rootFlags) loadConfig(defaultFormat string) (*common.Config, *slog.Logger) {
	cfg := common.LoadConfig()
	level := cfg.LogLevel
	if f.logLevel != "" {
		level = f.logLevel
	}
	format := defaultFormat
	if f.logFormat != "" {
		format = f.logFormat
	}
	logger := newLogger(level, format)
	slog.SetDefault(logger)
	return cfg, logger
}

func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
