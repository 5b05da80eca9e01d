// ABOUTME: Entry point for coven-recall
// ABOUTME: Chat bridge that lets the agent take back messages it already sent

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/coven-recall/internal/app"
	"github.com/2389/coven-recall/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                               _ _
  ___ _____   _____ _ __        _ __ ___  ___ __ _| | |
 / __/ _ \ \ / / _ \ '_ \ _____| '__/ _ \/ __/ _' | | |
| (_| (_) \ V /  __/ | | |_____| | |  __/ (_| (_| | | |
 \___\___/ \_/ \___|_| |_|     |_|  \___|\___\__,_|_|_|
`

// getConfigPath returns the path to the config file.
// Priority: --config flag > COVEN_RECALL_CONFIG env var > XDG_CONFIG_HOME/coven/recall.yaml > ~/.config/coven/recall.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("COVEN_RECALL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "recall.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "recall.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	// Environment for ${VAR} expansion may come from a local .env file
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:     "coven-recall",
		Short:   "Chat bridge with message recall",
		Version: version,
		Long: `coven-recall connects Matrix rooms and Telegram chats to a coven agent
gateway. The agent can take back a message it already sent by emitting the
recall marker, and users can recall the last message with /recall.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd.Context(), getConfigPath(configFlag))
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the bridge (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd.Context(), getConfigPath(configFlag))
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), getConfigPath(configFlag))
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coven-recall %s\n", version)
		},
	})

	return root
}

func runBridge(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)

	dataPath := getDataPath()
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	printStartup(configPath, cfg)

	a, err := app.New(cfg, dataPath, logger)
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}

	logger.Info("starting coven-recall", "config", configPath, "gateway", cfg.Gateway.URL)
	return a.Run(ctx)
}

func printStartup(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-11s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("Gateway", cfg.Gateway.URL)
	line("Marker", cfg.Recall.Marker)
	if cfg.Matrix.Enabled {
		line("Matrix", cfg.Matrix.Homeserver+" as "+cfg.Matrix.Username)
		if cfg.Matrix.RecoveryKey != "" {
			line("Encryption", "enabled")
		}
	}
	if cfg.Telegram.Enabled {
		line("Telegram", "enabled")
	}
	if cfg.Metrics.Enabled {
		line("Metrics", cfg.Metrics.Addr+cfg.Metrics.Path)
	} else {
		green.Print("    ▶ ")
		yellow.Println("Metrics:    disabled")
	}
	fmt.Println()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
