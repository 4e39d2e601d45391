package copilot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestVaultRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), VaultFile)
	v := NewVault(path)

	if err := v.Create("hunter2"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := v.Set(KeyAPIKey, "sk-ant-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sk-ant-123") {
		t.Fatal("secret stored in plaintext")
	}

	reopened := NewVault(path)
	if _, err := reopened.Get(KeyAPIKey); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Get on locked vault: %v", err)
	}
	if err := reopened.Unlock("wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Unlock with wrong password: %v", err)
	}
	if err := reopened.Unlock("hunter2"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	got, err := reopened.Get(KeyAPIKey)
	if err != nil || got != "sk-ant-123" {
		t.Errorf("Get = %q, %v", got, err)
	}
	keys, _ := reopened.Keys()
	if len(keys) != 1 || keys[0] != KeyAPIKey {
		t.Errorf("Keys = %v", keys)
	}

	if err := reopened.Delete(KeyAPIKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := reopened.Get(KeyAPIKey); got != "" {
		t.Errorf("deleted secret still readable: %q", got)
	}

	reopened.Lock()
	if reopened.IsUnlocked() {
		t.Error("vault still unlocked after Lock")
	}
	if err := NewVault(path).Create("again"); err == nil {
		t.Error("Create overwrote an existing vault")
	}
}

func TestResolveSecrets(t *testing.T) {
	keyring.MockInit()

	dir := t.TempDir()
	path := filepath.Join(dir, VaultFile)
	v := NewVault(path)
	if err := v.Create("pw"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := v.Set(KeyAPIKey, "sk-ant-vault"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := StoreKeyring(KeyAPIKey, "sk-ant-keyring"); err != nil {
		t.Fatalf("StoreKeyring: %v", err)
	}
	if err := StoreKeyring(KeyTelegramToken, "123:abc"); err != nil {
		t.Fatalf("StoreKeyring: %v", err)
	}

	cfg := DefaultConfig()
	cfg.API.APIKey = "${ANTHROPIC_API_KEY}"
	ResolveSecrets(cfg, path, func(string) (string, error) { return "pw", nil }, quietLogger())

	if cfg.API.APIKey != "sk-ant-vault" {
		t.Errorf("api key = %q, want the vault value", cfg.API.APIKey)
	}
	if cfg.Channels.Telegram.Token != "123:abc" {
		t.Errorf("telegram token = %q, want the keyring value", cfg.Channels.Telegram.Token)
	}

	// Without a password prompt the vault is skipped.
	cfg = DefaultConfig()
	ResolveSecrets(cfg, path, nil, quietLogger())
	if cfg.API.APIKey != "sk-ant-keyring" {
		t.Errorf("api key = %q, want the keyring value", cfg.API.APIKey)
	}

	if err := DeleteKeyring(KeyAPIKey); err != nil {
		t.Fatalf("DeleteKeyring: %v", err)
	}
	if got := GetKeyring(KeyAPIKey); got != "" {
		t.Errorf("deleted keyring value = %q", got)
	}
}
