// Package commands implements the DailyClaw CLI commands using cobra.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/copilot"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dailyclaw",
		Short: "DailyClaw - personal assistant for tasks, reminders, workouts and groceries",
		Long: `DailyClaw is a chat assistant that keeps your tasks, reminders,
workout log and grocery list. It runs as a daemon on Telegram, Discord and
WhatsApp, as a terminal chat, or as an MCP server.

Examples:
  dailyclaw serve
  dailyclaw chat "remind me to call mom tomorrow at 6pm"
  dailyclaw tool task_list --chat telegram:123456
  dailyclaw mcp serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newToolCmd(),
		newHistoryCmd(),
		newMCPCmd(version),
		newSetupCmd(),
		newConfigCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}

// loadConfig loads the --config file, or the first standard config file,
// or the defaults.
func loadConfig(cmd *cobra.Command) (*copilot.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, path, err := copilot.LoadConfig(configPath)
	if err != nil {
		if path != "" {
			return nil, path, fmt.Errorf("loading config from %s: %w", path, err)
		}
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger from the logging section. Levels
// below floor are dropped unless --verbose is set.
func newLogger(cmd *cobra.Command, cfg *copilot.Config, w io.Writer, floor slog.Level) *slog.Logger {
	level, ok := parseLevel(cfg.Logging.Level)
	if !ok {
		level = slog.LevelInfo
	}
	if level < floor {
		level = floor
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

// openAssistant loads the configuration and builds the assistant. With
// secrets set it also resolves the API key and channel tokens from the
// vault and the keyring. The caller owns the returned assistant.
func openAssistant(cmd *cobra.Command, logOut io.Writer, floor slog.Level, secrets bool) (*copilot.Assistant, *copilot.Config, *slog.Logger, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cmd, cfg, logOut, floor)
	slog.SetDefault(logger)
	if path != "" {
		logger.Debug("config loaded", "path", path)
	}

	if secrets {
		copilot.AuditSecrets(cfg, logger)
		copilot.ResolveSecrets(cfg, copilot.VaultFile, copilot.VaultPrompt(), logger)
	}

	a, err := copilot.New(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, cfg, logger, nil
}
