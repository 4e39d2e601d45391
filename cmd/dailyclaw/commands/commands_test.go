package commands

import (
	"log/slog"
	"testing"
)

func TestShouldEnable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		filter []string
		def    bool
		want   bool
	}{
		{"telegram", nil, true, true},
		{"telegram", nil, false, false},
		{"telegram", []string{"telegram"}, false, true},
		{"discord", []string{"telegram"}, true, false},
	}
	for _, tt := range tests {
		if got := shouldEnable(tt.name, tt.filter, tt.def); got != tt.want {
			t.Errorf("shouldEnable(%q, %v, %v) = %v", tt.name, tt.filter, tt.def, got)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                     "",
		"${ANTHROPIC_API_KEY}": "${ANTHROPIC_API_KEY}",
		"short":                "****",
		"sk-ant-abcdef123456":  "****3456",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if lvl, ok := parseLevel(" WARNING "); !ok || lvl != slog.LevelWarn {
		t.Errorf("parseLevel(WARNING) = %v, %v", lvl, ok)
	}
	if _, ok := parseLevel("loud"); ok {
		t.Error("parseLevel accepted an unknown level")
	}
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()
	root := NewRootCmd("test")
	for _, path := range [][]string{
		{"serve"}, {"chat"}, {"tool"}, {"history", "audit"}, {"mcp", "serve"},
		{"setup"}, {"config", "vault-set"}, {"completion"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}
