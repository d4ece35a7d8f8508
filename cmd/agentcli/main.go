// Command agentcli is the interactive console for the caravel runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OnslaughtSnail/caravel/internal/envload"
	"github.com/OnslaughtSnail/caravel/internal/version"
	"github.com/OnslaughtSnail/caravel/kernel/config"
	"github.com/OnslaughtSnail/caravel/kernel/extension"
	"github.com/OnslaughtSnail/caravel/kernel/extension/mcpext"
	"github.com/OnslaughtSnail/caravel/kernel/history"
	historymem "github.com/OnslaughtSnail/caravel/kernel/history/inmemory"
	"github.com/OnslaughtSnail/caravel/kernel/history/sqlitestore"
	"github.com/OnslaughtSnail/caravel/kernel/loop"
	"github.com/OnslaughtSnail/caravel/kernel/modelprov"
	"github.com/OnslaughtSnail/caravel/kernel/permission"
	"github.com/OnslaughtSnail/caravel/kernel/selector"
)

const defaultConfigLocation = "~/.caravel/caravel.toml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "agentcli: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("agentcli", flag.ContinueOnError)
	configPath := flags.String("config", defaultConfigLocation, "path to the configuration file")
	sessionID := flags.String("session", "", "resume the session with this id")
	modeFlag := flags.String("mode", "", "permission mode override: auto, approve or smart_approve")
	prompt := flags.String("prompt", "", "run a single prompt and exit")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	// API keys may live in a project .env next to the workspace.
	if _, err := envload.LoadNearest(); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	mode := permission.Mode(cfg.Mode)
	if *modeFlag != "" {
		switch permission.Mode(*modeFlag) {
		case permission.ModeAuto, permission.ModeApprove, permission.ModeSmartApprove:
			mode = permission.Mode(*modeFlag)
		default:
			return fmt.Errorf("unknown mode %q", *modeFlag)
		}
	}

	ctx := context.Background()

	perms, err := buildPermissions(cfg)
	if err != nil {
		return err
	}
	sel, err := selector.New(selector.Config{
		Strategy: selector.Strategy(cfg.Selector.Strategy),
		TopK:     cfg.Selector.TopK,
	})
	if err != nil {
		return err
	}
	store, err := buildHistory(cfg)
	if err != nil {
		return err
	}

	registry := extension.NewRegistry()
	extConfigs, err := cfg.ExtensionConfigs()
	if err != nil {
		return err
	}
	for _, extCfg := range extConfigs {
		provider, err := mcpext.New(extCfg)
		if err != nil {
			return fmt.Errorf("extension %s: %w", extCfg.Name, err)
		}
		// A broken server must not keep the console from starting.
		if _, err := registry.Add(ctx, provider); err != nil {
			fmt.Fprintf(os.Stderr, "agentcli: extension %s unavailable: %v\n", extCfg.Name, err)
			continue
		}
		name := provider.Name()
		provider.OnCapabilitiesChanged(func(ctx context.Context) {
			if err := registry.Refresh(ctx, name); err != nil {
				fmt.Fprintf(os.Stderr, "agentcli: refresh %s: %v\n", name, err)
			}
		})
	}

	model, err := buildModel(ctx, cfg)
	if err != nil {
		return err
	}

	l, err := loop.New(loop.Config{
		Registry:     registry,
		Permissions:  perms,
		Selector:     sel,
		Model:        model,
		SystemPrompt: cfg.SystemPrompt,
		Mode:         mode,
		MaxTurns:     cfg.MaxTurns,
	})
	if err != nil {
		return err
	}

	c, err := newConsole(consoleConfig{
		Loop:        l,
		Registry:    registry,
		Permissions: perms,
		Selector:    sel,
		History:     store,
		SessionID:   *sessionID,
		HistoryFile: lineHistoryPath(cfg),
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if strings.TrimSpace(*prompt) != "" {
		return c.RunOnce(ctx, *prompt)
	}
	return c.RunInteractive(ctx)
}

func buildPermissions(cfg *config.Config) (*permission.Manager, error) {
	path, err := config.ResolvePath(cfg.Permissions.Path)
	if err != nil {
		return nil, fmt.Errorf("permission store path: %w", err)
	}
	store, err := permission.NewFileStore(path)
	if err != nil {
		return nil, err
	}
	return permission.NewManager(store)
}

func buildHistory(cfg *config.Config) (history.Store, error) {
	if cfg.History.Backend == "memory" {
		return historymem.New(), nil
	}
	path, err := config.ResolvePath(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("history path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return sqlitestore.Open(path)
}

func buildModel(ctx context.Context, cfg *config.Config) (loop.ModelProvider, error) {
	name, provider, err := cfg.Provider()
	if err != nil {
		return nil, err
	}
	key, err := provider.APIKey()
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	switch name {
	case "anthropic":
		return modelprov.NewAnthropic(modelprov.AnthropicConfig{
			APIKey:    key,
			BaseURL:   provider.BaseURL,
			Model:     provider.Model,
			MaxTokens: provider.MaxTokens,
		})
	case "gemini":
		return modelprov.NewGemini(ctx, modelprov.GeminiConfig{
			APIKey: key,
			Model:  provider.Model,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func lineHistoryPath(cfg *config.Config) string {
	path, err := config.ResolvePath(cfg.Permissions.Path)
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(path), "input.history")
}
