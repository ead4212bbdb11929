package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/config"
)

const version = "0.1.0"

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "goswarm",
		Short:         "Multi-agent delegation runtime",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging(flagLogLevel, flagLogFormat)
		},
	}
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default goswarm.json5, or $GOSWARM_CONFIG)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(runCmd())
	cmd.AddCommand(agentsCmd())
	cmd.AddCommand(delegationsCmd())
	cmd.AddCommand(scheduleCmd())
	cmd.AddCommand(credentialsCmd())
	return cmd
}

// initLogging routes structured logs to stderr so table output on
// stdout stays clean. Any format other than "json" falls back to text.
func initLogging(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if v := os.Getenv("GOSWARM_CONFIG"); v != "" {
		return v
	}
	return "goswarm.json5"
}

func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
