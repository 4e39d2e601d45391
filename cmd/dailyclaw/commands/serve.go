package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels/discord"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels/telegram"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels/whatsapp"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/copilot"
)

// newServeCmd creates the `dailyclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with messaging channels",
		Long: `Start DailyClaw as a daemon, connecting to the enabled channels
(Telegram, Discord, WhatsApp), answering messages and delivering reminders.

Examples:
  dailyclaw serve
  dailyclaw serve --channel telegram
  dailyclaw serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord, whatsapp); default: those enabled in config")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	assistant, cfg, logger, err := openAssistant(cmd, os.Stdout, slog.LevelDebug, true)
	if err != nil {
		return err
	}

	filter, _ := cmd.Flags().GetStringSlice("channel")
	for _, ch := range configuredChannels(cfg, filter, logger) {
		if err := assistant.ChannelManager().Register(ch); err != nil {
			logger.Error("failed to register channel", "channel", ch.Name(), "error", err)
		}
	}
	if !assistant.ChannelManager().HasChannels() {
		assistant.Close()
		return fmt.Errorf("no channel enabled; set channels.telegram.enabled (or discord/whatsapp) in config, or TELEGRAM_BOT_TOKEN")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := assistant.Start(ctx); err != nil {
		assistant.Stop()
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("DailyClaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"timezone", cfg.Location().String(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		assistant.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// configuredChannels builds the transports to run. With a --channel filter
// only those are built, whatever their enabled flag says.
func configuredChannels(cfg *copilot.Config, filter []string, logger *slog.Logger) []channels.Channel {
	var out []channels.Channel

	if shouldEnable("telegram", filter, cfg.Channels.Telegram.Enabled) {
		if cfg.Channels.Telegram.Token == "" {
			logger.Warn("telegram enabled without a token, skipping")
		} else {
			out = append(out, telegram.New(cfg.Channels.Telegram, logger))
		}
	}
	if shouldEnable("discord", filter, cfg.Channels.Discord.Enabled) {
		if cfg.Channels.Discord.Token == "" {
			logger.Warn("discord enabled without a token, skipping")
		} else {
			out = append(out, discord.New(cfg.Channels.Discord, logger))
		}
	}
	if shouldEnable("whatsapp", filter, cfg.Channels.WhatsApp.Enabled) {
		out = append(out, whatsapp.New(cfg.Channels.WhatsApp, logger))
	}
	return out
}

// shouldEnable checks if a channel should be enabled.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
