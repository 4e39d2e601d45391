package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/copilot"
)

// newSetupCmd creates the `dailyclaw setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the assistant name, time zone, model and bot tokens. Secrets go to
an encrypted vault (AES-256-GCM) or the OS keyring, never into config.yaml.

Examples:
  dailyclaw setup
  dailyclaw setup --output ./configs/config.yaml`,
		RunE: runSetup,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "file to write")
	return cmd
}

// storageMethod tracks where secrets were stored during setup.
type storageMethod string

const (
	storageNone    storageMethod = "none"
	storageVault   storageMethod = "vault"
	storageKeyring storageMethod = "keyring"
)

// setupAnswers collects the wizard fields.
type setupAnswers struct {
	name          string
	timezone      string
	model         string
	apiKey        string
	telegramToken string
	discordToken  string
	whatsapp      bool
	storage       string
	overwrite     bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	target, _ := cmd.Flags().GetString("output")
	cfg := copilot.DefaultConfig()

	ans := setupAnswers{
		name:     cfg.Name,
		timezone: cfg.Timezone,
		model:    cfg.Model,
		storage:  string(storageVault),
	}

	fmt.Println(panelStyle.Render(headerStyle.Render("DailyClaw - Setup Wizard")))

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Description("Also the wake word in group chats.").
				Value(&ans.name).
				Validate(notBlank("name")),
			huh.NewInput().
				Title("Time zone").
				Description("IANA name, e.g. Europe/Paris or America/New_York.").
				Value(&ans.timezone).
				Validate(func(s string) error {
					if _, err := time.LoadLocation(strings.TrimSpace(s)); err != nil {
						return fmt.Errorf("unknown time zone %q", s)
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Model").
				Options(
					huh.NewOption("Claude Sonnet 4.5 (balanced, default)", "claude-sonnet-4-5-20250929"),
					huh.NewOption("Claude Haiku 4.5 (fast, cheap)", "claude-haiku-4-5-20251001"),
					huh.NewOption("Claude Opus 4.1 (most capable)", "claude-opus-4-1-20250805"),
				).
				Value(&ans.model),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Anthropic API key").
				Description("Leave empty to set it later.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.apiKey),
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather. Leave empty to skip Telegram.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.telegramToken),
			huh.NewInput().
				Title("Discord bot token").
				Description("Leave empty to skip Discord.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.discordToken),
			huh.NewConfirm().
				Title("Enable WhatsApp?").
				Description("Pairs by QR code on first start.").
				Value(&ans.whatsapp),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should secrets be stored?").
				Options(
					huh.NewOption("Encrypted vault (master password)", string(storageVault)),
					huh.NewOption("OS keyring", string(storageKeyring)),
					huh.NewOption("Nowhere, I use environment variables", string(storageNone)),
				).
				Value(&ans.storage),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	if _, err := os.Stat(target); err == nil {
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", target)).
			Value(&ans.overwrite).
			Run(); err != nil || !ans.overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	cfg.Name = strings.TrimSpace(ans.name)
	cfg.Timezone = strings.TrimSpace(ans.timezone)
	cfg.Model = ans.model
	cfg.Channels.Telegram.Enabled = ans.telegramToken != ""
	cfg.Channels.Discord.Enabled = ans.discordToken != ""
	cfg.Channels.WhatsApp.Enabled = ans.whatsapp

	secrets := map[string]string{
		copilot.KeyAPIKey:        strings.TrimSpace(ans.apiKey),
		copilot.KeyTelegramToken: strings.TrimSpace(ans.telegramToken),
		copilot.KeyDiscordToken:  strings.TrimSpace(ans.discordToken),
	}
	stored := storeSecrets(storageMethod(ans.storage), secrets)

	// config.yaml never contains the real secrets.
	cfg.API.APIKey = "${ANTHROPIC_API_KEY}"
	cfg.Channels.Telegram.Token = ""
	cfg.Channels.Discord.Token = ""

	if err := copilot.SaveConfigToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Println(okStyle.Render(target + " created."))
	switch stored {
	case storageVault:
		fmt.Println("  Secrets encrypted in " + copilot.VaultFile + ". Set " + copilot.VaultPasswordEnv + " for unattended runs.")
	case storageKeyring:
		fmt.Println("  Secrets stored in the OS keyring.")
	default:
		fmt.Println("  No secrets stored. Export ANTHROPIC_API_KEY and TELEGRAM_BOT_TOKEN, or run: dailyclaw config vault-set")
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  dailyclaw chat      talk to " + cfg.Name + " from this terminal")
	fmt.Println("  dailyclaw serve     start the bot")
	return nil
}

// storeSecrets saves the non-empty secrets with the chosen method, falling
// back to the keyring when the vault cannot be created. It returns the
// method actually used.
func storeSecrets(method storageMethod, secrets map[string]string) storageMethod {
	var hasSecret bool
	for _, v := range secrets {
		if v != "" {
			hasSecret = true
		}
	}
	if !hasSecret || method == storageNone {
		return storageNone
	}

	if method == storageVault {
		err := setupVault(secrets)
		if err == nil {
			return storageVault
		}
		fmt.Println(errorStyle.Render("  vault: " + err.Error()))
		if !copilot.KeyringAvailable() {
			return storageNone
		}
		fmt.Println("  Trying OS keyring as fallback...")
	}

	for key, value := range secrets {
		if value == "" {
			continue
		}
		if err := copilot.StoreKeyring(key, value); err != nil {
			fmt.Println(errorStyle.Render("  keyring: " + err.Error()))
			return storageNone
		}
	}
	return storageKeyring
}

// setupVault creates a fresh vault protected by a new master password and
// stores the secrets in it.
func setupVault(secrets map[string]string) error {
	var password, confirm string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Vault master password").
			Description("Minimum 8 characters. It is never stored.").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(func(s string) error {
				if len(s) < 8 {
					return errors.New("password too short")
				}
				return nil
			}),
		huh.NewInput().
			Title("Confirm password").
			EchoMode(huh.EchoModePassword).
			Value(&confirm),
	)).Run()
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords don't match")
	}

	if _, err := os.Stat(copilot.VaultFile); err == nil {
		if err := os.Remove(copilot.VaultFile); err != nil {
			return fmt.Errorf("removing old vault: %w", err)
		}
	}
	vault := copilot.NewVault(copilot.VaultFile)
	if err := vault.Create(password); err != nil {
		return err
	}
	defer vault.Lock()

	for key, value := range secrets {
		if value == "" {
			continue
		}
		if err := vault.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

func notBlank(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
