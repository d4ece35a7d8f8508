package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/OnslaughtSnail/caravel/kernel/extension"
	"github.com/OnslaughtSnail/caravel/kernel/history"
	"github.com/OnslaughtSnail/caravel/kernel/loop"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

type renderer struct {
	out io.Writer

	assistant *color.Color
	tool      *color.Color
	result    *color.Color
	notice    *color.Color
	errc      *color.Color
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:       out,
		assistant: color.New(color.FgCyan),
		tool:      color.New(color.FgYellow),
		result:    color.New(color.FgGreen),
		notice:    color.New(color.Faint),
		errc:      color.New(color.FgRed),
	}
}

// Message renders one run-stream message. User messages carrying tool
// responses are runtime output; plain user text is the echo of the prompt
// and stays silent.
func (r *renderer) Message(m *message.Message) {
	for _, item := range m.Content {
		switch c := item.(type) {
		case message.TextContent:
			if m.Role == message.RoleAssistant && strings.TrimSpace(c.Text) != "" {
				r.assistant.Fprintf(r.out, "* %s\n", strings.TrimSpace(c.Text))
			}
		case message.ToolRequest:
			if c.Call == nil {
				r.errc.Fprintf(r.out, "# invalid tool call %s: %s\n", c.ID, c.Err)
				continue
			}
			r.tool.Fprintf(r.out, "# %s %s\n", c.Call.Name, summarizeArgs(c.Call.Args))
		case message.ToolResponse:
			if c.Err != "" {
				r.errc.Fprintf(r.out, "= %s error: %s\n", c.ID, c.Err)
				continue
			}
			r.result.Fprintf(r.out, "= %s %s\n", c.ID, summarizeResult(c.Result))
		case message.FrontendToolRequest:
			if c.Call != nil {
				r.tool.Fprintf(r.out, "@ %s %s (frontend)\n", c.Call.Name, summarizeArgs(c.Call.Args))
			}
		case message.ContextLengthExceeded:
			r.errc.Fprintf(r.out, "! context length exceeded: %s\n", c.Msg)
		}
	}
}

func (r *renderer) Confirmation(conf *loop.Confirmation) {
	r.tool.Fprintf(r.out, "? %s %s\n", conf.ToolName, summarizeArgs(conf.Arguments))
}

func (r *renderer) Notice(text string) {
	r.notice.Fprintf(r.out, "%s\n", text)
}

func (r *renderer) Error(text string) {
	r.errc.Fprintf(r.out, "! %s\n", text)
}

func (r *renderer) Tools(tools []extension.Tool) {
	if len(tools) == 0 {
		r.Notice("no tools")
		return
	}
	for _, tool := range tools {
		marker := ""
		if tool.ReadOnly {
			marker = " (read-only)"
		}
		fmt.Fprintf(r.out, "%s%s\n", tool.Name, marker)
		if tool.Description != "" {
			r.notice.Fprintf(r.out, "  %s\n", firstLine(tool.Description))
		}
	}
}

func (r *renderer) Extensions(handles []*extension.Handle) {
	if len(handles) == 0 {
		r.Notice("no extensions")
		return
	}
	for _, h := range handles {
		fmt.Fprintf(r.out, "%s [%s] %d tool(s)\n", h.Name, h.State, len(h.Capabilities.Tools))
	}
}

func (r *renderer) Sessions(sessions []*history.Session, current string) {
	for _, s := range sessions {
		marker := " "
		if s.ID == current {
			marker = "*"
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(r.out, "%s %s  %s  %s\n", marker, s.ID, s.Updated.Format("2006-01-02 15:04"), title)
	}
}

func (r *renderer) Help() {
	fmt.Fprint(r.out, `/tools [filter]     list available tools
/extensions         list connected extensions
/refresh [ext]      re-list extension capabilities
/mode <m>           set permission mode: auto, approve, smart_approve
/strategy <s>       set tool selection: all, ranked
/allow <tool>       always run the tool without asking
/ask <tool>         always ask before running the tool
/never <tool>       refuse the tool
/clearrule <tool>   drop the stored rule for the tool
/sessions           list stored sessions
/session <id>       switch to a session
/new                start a fresh session
/quit               exit
`)
}

func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{…}"
	}
	return truncate(string(raw), 120)
}

func summarizeResult(items []message.Content) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, message.Describe(item))
	}
	return truncate(strings.Join(parts, " "), 200)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
