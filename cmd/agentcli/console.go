package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/OnslaughtSnail/caravel/kernel/extension"
	"github.com/OnslaughtSnail/caravel/kernel/history"
	"github.com/OnslaughtSnail/caravel/kernel/loop"
	"github.com/OnslaughtSnail/caravel/kernel/message"
	"github.com/OnslaughtSnail/caravel/kernel/permission"
	"github.com/OnslaughtSnail/caravel/kernel/selector"
)

var consoleCommands = []string{
	"help", "tools", "extensions", "refresh", "mode", "strategy",
	"allow", "ask", "never", "clearrule",
	"sessions", "session", "new", "quit",
}

type consoleConfig struct {
	Loop        *loop.Loop
	Registry    *extension.Registry
	Permissions *permission.Manager
	Selector    *selector.Selector
	History     history.Store
	SessionID   string
	HistoryFile string
}

type console struct {
	loop        *loop.Loop
	registry    *extension.Registry
	permissions *permission.Manager
	selector    *selector.Selector
	store       history.Store

	editor    lineEditor
	render    *renderer
	sessionID string
	convo     *message.Conversation
	mode      permission.Mode
}

func newConsole(cfg consoleConfig) (*console, error) {
	editor, err := newLineEditor(lineEditorConfig{
		HistoryFile: cfg.HistoryFile,
		Commands:    consoleCommands,
	})
	if err != nil {
		return nil, err
	}
	c := &console{
		loop:        cfg.Loop,
		registry:    cfg.Registry,
		permissions: cfg.Permissions,
		selector:    cfg.Selector,
		store:       cfg.History,
		editor:      editor,
		render:      newRenderer(editor.Output()),
	}
	if err := c.openSession(context.Background(), cfg.SessionID); err != nil {
		editor.Close()
		return nil, err
	}
	return c, nil
}

func (c *console) Close() error {
	return c.editor.Close()
}

// openSession loads the given session or creates a fresh one.
func (c *console) openSession(ctx context.Context, id string) error {
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := c.store.GetOrCreate(ctx, id); err != nil {
		return err
	}
	convo, err := c.store.LoadConversation(ctx, id)
	if err != nil {
		return err
	}
	c.sessionID = id
	c.convo = convo
	return nil
}

// RunOnce executes a single prompt and exits.
func (c *console) RunOnce(ctx context.Context, text string) error {
	return c.runTurn(ctx, text)
}

// RunInteractive is the read-eval loop. It exits on /quit or EOF.
func (c *console) RunInteractive(ctx context.Context) error {
	c.render.Notice(fmt.Sprintf("session %s (/help for commands)", c.sessionID))
	for {
		line, err := c.editor.ReadLine("> ")
		if err != nil {
			if errors.Is(err, errInputInterrupt) {
				continue
			}
			if errors.Is(err, errInputEOF) {
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := c.handleCommand(ctx, line)
			if err != nil {
				c.render.Error(err.Error())
			}
			if quit {
				return nil
			}
			continue
		}
		if err := c.runTurn(ctx, line); err != nil {
			c.render.Error(err.Error())
		}
	}
}

// runTurn appends the user message, drives one loop invocation to its
// terminal event and persists whatever the run committed. Ctrl-C cancels
// the run without exiting the console.
func (c *console) runTurn(ctx context.Context, text string) error {
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT)
	defer stop()

	before := c.convo.Len()
	c.convo.Append(message.NewUser().AppendText(text))

	for ev, err := range c.loop.Run(runCtx, loop.RunRequest{Conversation: c.convo, Mode: c.mode}) {
		if err != nil {
			return err
		}
		switch ev.Kind {
		case loop.EventMessage:
			c.render.Message(ev.Message)
		case loop.EventConfirmationNeeded:
			c.resolveConfirmation(ev.Confirmation)
		case loop.EventError:
			c.render.Error(fmt.Sprintf("%s: %s", ev.ErrKind, ev.ErrDetail))
		case loop.EventCancelled:
			c.render.Notice("cancelled")
		}
	}

	messages := c.convo.Messages()
	if len(messages) > before {
		if err := c.store.AppendMessages(ctx, c.sessionID, messages[before:]...); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}
	c.maybeTitle(ctx, text)
	return nil
}

// resolveConfirmation prompts until the parked call has an answer. The
// always/never choices persist a permission rule before resolving.
func (c *console) resolveConfirmation(conf *loop.Confirmation) {
	c.render.Confirmation(conf)
	for {
		answer, err := c.editor.ReadLine("allow? [y/n/always/never] ")
		if err != nil {
			c.loop.Deny(conf.ID)
			return
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			c.loop.Approve(conf.ID)
			return
		case "n", "no":
			c.loop.Deny(conf.ID)
			return
		case "always":
			if err := c.permissions.SetOverride(conf.ToolName, permission.Auto); err != nil {
				c.render.Error(err.Error())
			}
			c.loop.Approve(conf.ID)
			return
		case "never":
			if err := c.permissions.SetOverride(conf.ToolName, permission.Never); err != nil {
				c.render.Error(err.Error())
			}
			c.loop.Deny(conf.ID)
			return
		}
	}
}

func (c *console) maybeTitle(ctx context.Context, text string) {
	sessions, err := c.store.Sessions(ctx)
	if err != nil {
		return
	}
	for _, s := range sessions {
		if s.ID == c.sessionID && s.Title == "" {
			title := text
			if len(title) > 64 {
				title = title[:64]
			}
			c.store.SetTitle(ctx, c.sessionID, title)
			return
		}
	}
}

func (c *console) handleCommand(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		c.render.Help()
	case "quit", "exit":
		return true, nil
	case "tools":
		filter := ""
		if len(args) > 0 {
			filter = args[0]
		}
		c.render.Tools(c.registry.ListTools(filter))
	case "extensions":
		c.render.Extensions(c.registry.Handles())
	case "refresh":
		names := args
		if len(names) == 0 {
			for _, h := range c.registry.Handles() {
				names = append(names, h.Name)
			}
		}
		if len(names) == 0 {
			c.render.Notice("no extensions")
			break
		}
		for _, name := range names {
			if err := c.registry.Refresh(ctx, name); err != nil {
				return false, err
			}
		}
		c.render.Notice("refreshed: " + strings.Join(names, ", "))
	case "mode":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /mode <auto|approve|smart_approve>")
		}
		switch m := permission.Mode(args[0]); m {
		case permission.ModeAuto, permission.ModeApprove, permission.ModeSmartApprove:
			c.mode = m
			c.render.Notice("mode: " + args[0])
		default:
			return false, fmt.Errorf("unknown mode %q", args[0])
		}
	case "strategy":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /strategy <all|ranked>")
		}
		if err := c.selector.UpdateStrategy(selector.Strategy(args[0]), true, c.registry.ListTools("")); err != nil {
			return false, err
		}
		c.render.Notice("strategy: " + args[0])
	case "allow", "ask", "never":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /%s <tool>", cmd)
		}
		level := map[string]permission.Decision{
			"allow": permission.Auto,
			"ask":   permission.AskBefore,
			"never": permission.Never,
		}[cmd]
		if err := c.permissions.SetOverride(args[0], level); err != nil {
			return false, err
		}
		c.render.Notice(fmt.Sprintf("%s: %s", args[0], level))
	case "clearrule":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /clearrule <tool>")
		}
		if err := c.permissions.ClearOverride(args[0]); err != nil {
			return false, err
		}
		c.render.Notice("cleared: " + args[0])
	case "sessions":
		sessions, err := c.store.Sessions(ctx)
		if err != nil {
			return false, err
		}
		c.render.Sessions(sessions, c.sessionID)
	case "session":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /session <id>")
		}
		if err := c.openSession(ctx, args[0]); err != nil {
			return false, err
		}
		c.render.Notice("session: " + c.sessionID)
	case "new":
		if err := c.openSession(ctx, ""); err != nil {
			return false, err
		}
		c.render.Notice("session: " + c.sessionID)
	default:
		return false, fmt.Errorf("unknown command /%s", cmd)
	}
	return false, nil
}
