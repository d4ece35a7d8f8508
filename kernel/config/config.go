// Package config loads the runtime configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/OnslaughtSnail/caravel/kernel/extension/mcpext"
	"github.com/OnslaughtSnail/caravel/kernel/permission"
	"github.com/OnslaughtSnail/caravel/kernel/selector"
)

const (
	defaultMaxTurns = 64
	defaultDataDir  = "~/.caravel"
)

// Config is the parsed configuration file.
type Config struct {
	// Mode is the default permission mode: auto, approve or smart_approve.
	Mode string `toml:"mode"`
	// Model selects the provider section used for generation.
	Model        string `toml:"model"`
	MaxTurns     int    `toml:"max_turns"`
	SystemPrompt string `toml:"system_prompt"`

	Selector    SelectorConfig             `toml:"selector"`
	History     HistoryConfig              `toml:"history"`
	Permissions PermissionsConfig          `toml:"permissions"`
	Providers   map[string]ProviderConfig  `toml:"providers"`
	Extensions  map[string]ExtensionConfig `toml:"extensions"`
}

// SelectorConfig configures tool selection.
type SelectorConfig struct {
	Strategy string `toml:"strategy"`
	TopK     int    `toml:"top_k"`
}

// HistoryConfig configures conversation persistence.
type HistoryConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// PermissionsConfig configures the permission override store.
type PermissionsConfig struct {
	Path string `toml:"path"`
}

// ProviderConfig configures one model provider.
type ProviderConfig struct {
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	BaseURL   string `toml:"base_url"`
	MaxTokens int    `toml:"max_tokens"`
}

// ExtensionConfig configures one MCP server.
type ExtensionConfig struct {
	Transport          string            `toml:"transport"`
	Command            string            `toml:"command"`
	Args               []string          `toml:"args"`
	Env                map[string]string `toml:"env"`
	WorkDir            string            `toml:"workdir"`
	URL                string            `toml:"url"`
	IncludeTools       []string          `toml:"include_tools"`
	Instructions       string            `toml:"instructions"`
	CallTimeoutSeconds int               `toml:"call_timeout_seconds"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mode:     string(permission.ModeSmartApprove),
		MaxTurns: defaultMaxTurns,
		Selector: SelectorConfig{Strategy: string(selector.StrategyAll)},
		History: HistoryConfig{
			Backend: "sqlite",
			Path:    defaultDataDir + "/history.db",
		},
		Permissions: PermissionsConfig{
			Path: defaultDataDir + "/permissions.toml",
		},
	}
}

// Load reads the file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path %q: %w", path, err)
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %q: %w", resolved, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", resolved, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.Mode = strings.TrimSpace(strings.ToLower(c.Mode))
	switch permission.Mode(c.Mode) {
	case permission.ModeAuto, permission.ModeApprove, permission.ModeSmartApprove:
	case "":
		c.Mode = string(permission.ModeSmartApprove)
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}

	c.Selector.Strategy = strings.TrimSpace(strings.ToLower(c.Selector.Strategy))
	switch selector.Strategy(c.Selector.Strategy) {
	case selector.StrategyAll, selector.StrategyRanked:
	case "":
		c.Selector.Strategy = string(selector.StrategyAll)
	default:
		return fmt.Errorf("config: unknown selector strategy %q", c.Selector.Strategy)
	}

	c.History.Backend = strings.TrimSpace(strings.ToLower(c.History.Backend))
	switch c.History.Backend {
	case "sqlite", "memory":
	case "":
		c.History.Backend = "sqlite"
	default:
		return fmt.Errorf("config: unknown history backend %q", c.History.Backend)
	}

	if c.MaxTurns <= 0 {
		c.MaxTurns = defaultMaxTurns
	}

	c.Model = strings.TrimSpace(strings.ToLower(c.Model))
	if c.Model != "" {
		if _, ok := c.Providers[c.Model]; !ok {
			return fmt.Errorf("config: model %q has no providers section", c.Model)
		}
	}
	return nil
}

// Provider returns the active provider section and its name.
func (c *Config) Provider() (string, ProviderConfig, error) {
	name := c.Model
	if name == "" {
		if len(c.Providers) != 1 {
			return "", ProviderConfig{}, fmt.Errorf("config: model is unset and %d providers are configured", len(c.Providers))
		}
		for only := range c.Providers {
			name = only
		}
	}
	p, ok := c.Providers[name]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("config: provider %q not configured", name)
	}
	return name, p, nil
}

// APIKey resolves the provider key from its configured environment variable.
func (p ProviderConfig) APIKey() (string, error) {
	env := strings.TrimSpace(p.APIKeyEnv)
	if env == "" {
		return "", fmt.Errorf("config: api_key_env is empty")
	}
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		return "", fmt.Errorf("config: environment variable %s is empty", env)
	}
	return key, nil
}

// ExtensionConfigs converts the extensions table to MCP provider configs,
// sorted by name.
func (c *Config) ExtensionConfigs() ([]mcpext.Config, error) {
	names := make([]string, 0, len(c.Extensions))
	for name := range c.Extensions {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("config: extensions table has empty key")
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]mcpext.Config, 0, len(names))
	for _, name := range names {
		ext := c.Extensions[name]
		transport := strings.TrimSpace(strings.ToLower(ext.Transport))
		if transport == "" {
			switch {
			case strings.TrimSpace(ext.Command) != "":
				transport = string(mcpext.TransportStdio)
			case strings.TrimSpace(ext.URL) != "":
				transport = string(mcpext.TransportStreamable)
			}
		}
		item := mcpext.Config{
			Name:         name,
			Transport:    mcpext.TransportType(transport),
			Command:      strings.TrimSpace(ext.Command),
			Args:         append([]string(nil), ext.Args...),
			Env:          ext.Env,
			URL:          strings.TrimSpace(ext.URL),
			IncludeTools: append([]string(nil), ext.IncludeTools...),
			Instructions: ext.Instructions,
		}
		if ext.WorkDir != "" {
			workDir, err := ResolvePath(ext.WorkDir)
			if err != nil {
				return nil, fmt.Errorf("config: resolve workdir for extensions.%s: %w", name, err)
			}
			item.WorkDir = workDir
		}
		if ext.CallTimeoutSeconds > 0 {
			item.CallTimeout = time.Duration(ext.CallTimeoutSeconds) * time.Second
		}
		out = append(out, item)
	}
	return out, nil
}

// ResolvePath expands a leading ~/ and makes the path absolute.
func ResolvePath(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(input, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		input = filepath.Join(home, strings.TrimPrefix(input, "~/"))
	}
	if !filepath.IsAbs(input) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		input = filepath.Join(cwd, input)
	}
	return filepath.Clean(input), nil
}
