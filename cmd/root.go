package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile  string
	logLevel = new(slog.LevelVar)
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wagate",
		Short: "HTTP gateway for a WhatsApp account",
		Long: "wagate pairs with a WhatsApp account and exposes it over a small REST API:\n" +
			"health, pairing QR, connection control, message sending and chat history.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.LoadDotEnv(".env"); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $WAGATE_CONFIG or ./config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(restartCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath picks the config file: --config, then $WAGATE_CONFIG,
// then ./config.json.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := os.Getenv("WAGATE_CONFIG"); p != "" {
		return p
	}
	return "config.json"
}

// setupLogging installs the default slog logger for cfg.
func setupLogging(cfg config.LogConfig) {
	logLevel.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: logLevel}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wagate %s\n", Version)
		},
	}
}
