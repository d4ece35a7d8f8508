package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OnslaughtSnail/caravel/kernel/extension/mcpext"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caravel.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "smart_approve" {
		t.Fatalf("mode = %q", cfg.Mode)
	}
	if cfg.History.Backend != "sqlite" {
		t.Fatalf("backend = %q", cfg.History.Backend)
	}
	if cfg.MaxTurns != defaultMaxTurns {
		t.Fatalf("max_turns = %d", cfg.MaxTurns)
	}
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
mode = "approve"
model = "anthropic"
max_turns = 16
system_prompt = "be brief"

[selector]
strategy = "ranked"
top_k = 5

[history]
backend = "memory"

[providers.anthropic]
model = "claude-sonnet-4-5"
api_key_env = "ANTHROPIC_API_KEY"
max_tokens = 2048

[extensions.files]
command = "mcp-files"
args = ["--root", "."]
call_timeout_seconds = 30

[extensions.web]
url = "https://mcp.example.com/stream"
include_tools = ["fetch"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "approve" || cfg.MaxTurns != 16 {
		t.Fatalf("unexpected top level %+v", cfg)
	}
	name, provider, err := cfg.Provider()
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if name != "anthropic" || provider.Model != "claude-sonnet-4-5" || provider.MaxTokens != 2048 {
		t.Fatalf("unexpected provider %q %+v", name, provider)
	}

	exts, err := cfg.ExtensionConfigs()
	if err != nil {
		t.Fatalf("extensions: %v", err)
	}
	if len(exts) != 2 {
		t.Fatalf("expected 2 extensions, got %d", len(exts))
	}
	// Sorted by name: files, web.
	if exts[0].Name != "files" || exts[0].Transport != mcpext.TransportStdio {
		t.Fatalf("files extension %+v", exts[0])
	}
	if exts[0].CallTimeout != 30*time.Second {
		t.Fatalf("call timeout %v", exts[0].CallTimeout)
	}
	if exts[1].Name != "web" || exts[1].Transport != mcpext.TransportStreamable {
		t.Fatalf("web extension %+v", exts[1])
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, `mode = "yolo"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLoadRejectsUnboundModel(t *testing.T) {
	path := writeConfig(t, `model = "missing"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for model without provider section")
	}
}

func TestProviderRequiresSingleWhenUnset(t *testing.T) {
	path := writeConfig(t, `
[providers.anthropic]
model = "claude-sonnet-4-5"
api_key_env = "ANTHROPIC_API_KEY"

[providers.gemini]
model = "gemini-2.5-flash"
api_key_env = "GEMINI_API_KEY"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, _, err := cfg.Provider(); err == nil {
		t.Fatal("expected error for ambiguous provider choice")
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("CARAVEL_TEST_KEY", "secret")
	p := ProviderConfig{APIKeyEnv: "CARAVEL_TEST_KEY"}
	key, err := p.APIKey()
	if err != nil {
		t.Fatalf("api key: %v", err)
	}
	if key != "secret" {
		t.Fatalf("key = %q", key)
	}
	if _, err := (ProviderConfig{APIKeyEnv: "CARAVEL_TEST_UNSET"}).APIKey(); err == nil {
		t.Fatal("expected error for unset env variable")
	}
}

func TestResolvePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	resolved, err := ResolvePath("~/x/config.toml")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != filepath.Join(home, "x", "config.toml") {
		t.Fatalf("resolved = %q", resolved)
	}
}
