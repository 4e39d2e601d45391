package commands

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/copilot"
)

// newConfigCmd creates the `dailyclaw config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and secrets",
		Long: `Manage the DailyClaw configuration and where its secrets live.

Secrets resolve in this order: encrypted vault, OS keyring, environment
variable, config.yaml.

Examples:
  dailyclaw config show
  dailyclaw config set-key --key telegram_token
  dailyclaw config vault-init
  dailyclaw config vault-set --key api_key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigVaultInitCmd(),
		newConfigVaultSetCmd(),
		newConfigVaultListCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, _ := cmd.Flags().GetString("output")
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists", target)
			}
			cfg := copilot.DefaultConfig()
			cfg.API.APIKey = "${ANTHROPIC_API_KEY}"
			if err := copilot.SaveConfigToFile(cfg, target); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("Configuration written to " + target))
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "file to write")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.API.APIKey = maskSecret(cfg.API.APIKey)
			cfg.Channels.Telegram.Token = maskSecret(cfg.Channels.Telegram.Token)
			cfg.Channels.Discord.Token = maskSecret(cfg.Channels.Discord.Token)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			if path == "" {
				path = "defaults"
			}
			fmt.Println(mutedStyle.Render("# " + path))
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store a secret in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := secretKeyFlag(cmd)
			if err != nil {
				return err
			}
			if !copilot.KeyringAvailable() {
				return fmt.Errorf("OS keyring not available; use 'dailyclaw config vault-set' instead")
			}
			value, err := copilot.ReadPassword(fmt.Sprintf("%s (hidden input): ", key))
			if err != nil {
				return err
			}
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("empty value")
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			return copilot.MigrateKeyToKeyring(key, strings.TrimSpace(value), logger)
		},
	}
	addSecretKeyFlag(cmd)
	return cmd
}

func newConfigVaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vault-init",
		Short: "Create the encrypted vault",
		RunE: func(_ *cobra.Command, _ []string) error {
			vault := copilot.NewVault(copilot.VaultFile)
			if vault.Exists() {
				return fmt.Errorf("vault %s already exists", vault.Path())
			}
			password, err := copilot.ReadPassword("Master password: ")
			if err != nil {
				return err
			}
			if len(password) < 8 {
				return fmt.Errorf("password too short (minimum 8 characters)")
			}
			confirm, err := copilot.ReadPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords don't match")
			}
			if err := vault.Create(password); err != nil {
				return err
			}
			vault.Lock()
			fmt.Println(okStyle.Render("Vault created at " + vault.Path()))
			return nil
		},
	}
}

func newConfigVaultSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault-set",
		Short: "Store a secret in the encrypted vault",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := secretKeyFlag(cmd)
			if err != nil {
				return err
			}
			vault, err := unlockVault()
			if err != nil {
				return err
			}
			defer vault.Lock()

			value, err := copilot.ReadPassword(fmt.Sprintf("%s (hidden input): ", key))
			if err != nil {
				return err
			}
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("empty value")
			}
			if err := vault.Set(key, strings.TrimSpace(value)); err != nil {
				return err
			}
			fmt.Println(okStyle.Render(key + " stored in the vault."))
			return nil
		},
	}
	addSecretKeyFlag(cmd)
	return cmd
}

func newConfigVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vault-list",
		Short: "List the secret names held in the vault",
		RunE: func(_ *cobra.Command, _ []string) error {
			vault, err := unlockVault()
			if err != nil {
				return err
			}
			defer vault.Lock()

			keys, err := vault.Keys()
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Println(mutedStyle.Render("The vault is empty."))
				return nil
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

func unlockVault() (*copilot.Vault, error) {
	vault := copilot.NewVault(copilot.VaultFile)
	if !vault.Exists() {
		return nil, fmt.Errorf("no vault at %s; run 'dailyclaw config vault-init' first", vault.Path())
	}
	password := os.Getenv(copilot.VaultPasswordEnv)
	if password == "" {
		var err error
		if password, err = copilot.ReadPassword("Vault password: "); err != nil {
			return nil, err
		}
	}
	if err := vault.Unlock(password); err != nil {
		return nil, err
	}
	return vault, nil
}

func addSecretKeyFlag(cmd *cobra.Command) {
	cmd.Flags().String("key", copilot.KeyAPIKey, "secret name: "+strings.Join(copilot.SecretKeys, ", "))
}

func secretKeyFlag(cmd *cobra.Command) (string, error) {
	key, _ := cmd.Flags().GetString("key")
	if !slices.Contains(copilot.SecretKeys, key) {
		return "", fmt.Errorf("unknown secret %q (want one of %s)", key, strings.Join(copilot.SecretKeys, ", "))
	}
	return key, nil
}
