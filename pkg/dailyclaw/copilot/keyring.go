// Package copilot – keyring.go stores credentials in the operating system
// keyring.
//
// Secrets resolve in this order:
//  1. Encrypted vault (.dailyclaw.vault, requires the master password)
//  2. OS keyring
//  3. Environment variable (ANTHROPIC_API_KEY, loaded .env files included)
//  4. config.yaml value
package copilot

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	keyringService = "dailyclaw"

	// KeyAPIKey names the Anthropic API key in the keyring and the vault.
	KeyAPIKey = "api_key"

	// KeyTelegramToken names the Telegram bot token.
	KeyTelegramToken = "telegram_token"

	// KeyDiscordToken names the Discord bot token.
	KeyDiscordToken = "discord_token"
)

// VaultPasswordEnv holds the vault password for non-interactive runs
// (systemd, Docker).
const VaultPasswordEnv = "DAILYCLAW_VAULT_PASSWORD"

// SecretKeys lists every secret the resolver looks up.
var SecretKeys = []string{KeyAPIKey, KeyTelegramToken, KeyDiscordToken}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring returns a secret from the OS keyring, or "" when absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__dailyclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// VaultPrompt returns the password source for ResolveSecrets: the
// DAILYCLAW_VAULT_PASSWORD variable, else an interactive prompt when stdin
// is a terminal. nil means no password can be obtained.
func VaultPrompt() func(string) (string, error) {
	if pw := os.Getenv(VaultPasswordEnv); pw != "" {
		return func(string) (string, error) { return pw, nil }
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return ReadPassword
	}
	return nil
}

// ResolveSecrets fills cfg's secrets from the vault, then the keyring.
// Values already resolved from the environment or the file are kept when
// neither holds the key. prompt reads the vault password; nil skips a
// locked vault.
func ResolveSecrets(cfg *Config, vaultPath string, prompt func(string) (string, error), logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	found := make(map[string]string)

	vault := NewVault(vaultPath)
	if vault.Exists() && prompt != nil {
		password, err := prompt("Vault password: ")
		if err != nil {
			logger.Warn("failed to read vault password", "error", err)
		} else if err := vault.Unlock(password); err != nil {
			logger.Warn("failed to unlock vault", "error", err)
		}
		if vault.IsUnlocked() {
			for _, key := range SecretKeys {
				if val, err := vault.Get(key); err == nil && val != "" {
					found[key] = val
				}
			}
			vault.Lock()
		}
	}

	for _, key := range SecretKeys {
		if _, ok := found[key]; ok {
			continue
		}
		if val := GetKeyring(key); val != "" {
			found[key] = val
		}
	}

	if v, ok := found[KeyAPIKey]; ok {
		cfg.API.APIKey = v
	}
	if v, ok := found[KeyTelegramToken]; ok {
		cfg.Channels.Telegram.Token = v
	}
	if v, ok := found[KeyDiscordToken]; ok {
		cfg.Channels.Discord.Token = v
	}

	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		logger.Warn("no API key found. Set one with: dailyclaw config set-key or dailyclaw config vault-set")
	}
}

// MigrateKeyToKeyring stores a secret in the OS keyring.
func MigrateKeyToKeyring(key, value string, logger *slog.Logger) error {
	if err := StoreKeyring(key, value); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("secret stored in OS keyring",
		"service", keyringService,
		"key", key,
		"hint", "you can now remove it from .env and config.yaml")
	return nil
}
