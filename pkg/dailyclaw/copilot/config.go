// Package copilot – config.go defines the configuration of the DailyClaw
// assistant.
package copilot

import (
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels/discord"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels/telegram"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels/whatsapp"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name; in groups it doubles as the wake word.
	Name string `yaml:"name"`

	// Model is the Anthropic model id.
	Model string `yaml:"model"`

	// Instructions are appended to the built-in system prompt.
	Instructions string `yaml:"instructions"`

	// Timezone is the default IANA zone for chats that have not set one.
	Timezone string `yaml:"timezone"`

	// DataDir holds the per-chat documents.
	DataDir string `yaml:"data_dir"`

	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	Agent     AgentConfig     `yaml:"agent"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig configures the LLM endpoint.
type APIConfig struct {
	// BaseURL overrides https://api.anthropic.com.
	BaseURL string `yaml:"base_url"`

	// APIKey is the Anthropic API key. Prefer ${ANTHROPIC_API_KEY}, the
	// keyring or the vault over a literal value.
	APIKey string `yaml:"api_key"`

	MaxTokens int `yaml:"max_tokens"`
}

// DatabaseConfig configures the SQLite database holding conversation
// history and the tool audit log.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig configures how much conversation is replayed to the model.
type HistoryConfig struct {
	// MaxEntries is the number of past exchanges sent as context.
	MaxEntries int `yaml:"max_entries"`
}

// SchedulerConfig configures the reminder loop.
type SchedulerConfig struct {
	// PollIntervalSeconds caps how long the loop sleeps between checks.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// ResyncIntervalSeconds re-reads scheduled entries from the store, so
	// reminders written by another process (MCP server, CLI) are picked
	// up. 0 disables it.
	ResyncIntervalSeconds int `yaml:"resync_interval_seconds"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Format is "json" or "text".
	Format string `yaml:"format"`

	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Name:     "Claudia",
		Model:    "claude-sonnet-4-5-20250929",
		Timezone: "Europe/Paris",
		DataDir:  "./data",
		API: APIConfig{
			BaseURL:   defaultAnthropicBaseURL,
			MaxTokens: defaultMaxTokens,
		},
		Database: DatabaseConfig{Path: "./data/dailyclaw.db"},
		History:  HistoryConfig{MaxEntries: 20},
		Agent: AgentConfig{
			MaxTurns:           DefaultMaxTurns,
			TurnTimeoutSeconds: int(DefaultTurnTimeout.Seconds()),
			RunTimeoutSeconds:  300,
		},
		Scheduler: SchedulerConfig{PollIntervalSeconds: 30, ResyncIntervalSeconds: 60},
		Channels: ChannelsConfig{
			Telegram: telegram.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
			WhatsApp: whatsapp.DefaultConfig(),
		},
		Logging: LoggingConfig{Format: "json", Level: "info"},
	}
}
