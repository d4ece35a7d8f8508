// Package mcpext exposes an MCP server as an extension provider.
package mcpext

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/OnslaughtSnail/caravel/kernel/extension"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

// TransportType is MCP transport type.
type TransportType string

const (
	TransportStdio      TransportType = "stdio"
	TransportSSE        TransportType = "sse"
	TransportStreamable TransportType = "streamable"
)

// Config configures one MCP server endpoint.
type Config struct {
	Name string

	Transport TransportType

	// Stdio transport.
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string

	// HTTP transport (sse/streamable).
	URL string

	// Optional allowlist for original MCP tool names.
	IncludeTools []string

	// Instructions is operator-supplied guidance advertised with the
	// extension's capabilities.
	Instructions string

	// CallTimeout bounds each tool call. <=0 means caller context only.
	CallTimeout time.Duration
}

// Provider is an extension.Provider backed by one MCP session. The session
// is established lazily on first use and reused afterwards.
type Provider struct {
	cfg   Config
	allow map[string]struct{}

	mu       sync.Mutex
	client   *mcp.Client
	session  *mcp.ClientSession
	onChange func(context.Context)
}

// New validates config and creates a disconnected provider.
func New(cfg Config) (*Provider, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("mcpext: name is required")
	}
	cfg.Name = name
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	switch cfg.Transport {
	case TransportStdio:
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, fmt.Errorf("mcpext: server %q command is required for stdio transport", name)
		}
	case TransportSSE, TransportStreamable:
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("mcpext: server %q url is required for %s transport", name, cfg.Transport)
		}
	default:
		return nil, fmt.Errorf("mcpext: server %q unsupported transport %q", name, cfg.Transport)
	}
	allow := map[string]struct{}{}
	for _, item := range cfg.IncludeTools {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		allow[item] = struct{}{}
	}
	p := &Provider{cfg: cfg, allow: allow}
	p.client = mcp.NewClient(&mcp.Implementation{
		Name:    "caravel",
		Version: "0.1.0",
	}, &mcp.ClientOptions{
		ToolListChangedHandler: func(ctx context.Context, req *mcp.ToolListChangedRequest) {
			p.notifyCapabilitiesChanged(ctx)
		},
	})
	return p, nil
}

// OnCapabilitiesChanged registers fn to run whenever the server signals a
// tool-list change. The registry hooks this up to re-list the provider's
// capabilities.
func (p *Provider) OnCapabilitiesChanged(fn func(context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *Provider) notifyCapabilitiesChanged(ctx context.Context) {
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

func (p *Provider) Name() string {
	return p.cfg.Name
}

// Close tears down the MCP session if one is open.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	if err != nil {
		return fmt.Errorf("mcpext: close %s: %w", p.cfg.Name, err)
	}
	return nil
}

func (p *Provider) getSession(ctx context.Context) (*mcp.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session, nil
	}
	transport, err := buildTransport(p.cfg)
	if err != nil {
		return nil, err
	}
	session, err := p.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpext: connect %s: %w", p.cfg.Name, err)
	}
	p.session = session
	return session, nil
}

func buildTransport(cfg Config) (mcp.Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		cmd := exec.Command(strings.TrimSpace(cfg.Command), cfg.Args...)
		if strings.TrimSpace(cfg.WorkDir) != "" {
			cmd.Dir = strings.TrimSpace(cfg.WorkDir)
		}
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				k = strings.TrimSpace(k)
				if k == "" {
					continue
				}
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case TransportSSE:
		return &mcp.SSEClientTransport{Endpoint: strings.TrimSpace(cfg.URL)}, nil
	case TransportStreamable:
		return &mcp.StreamableClientTransport{Endpoint: strings.TrimSpace(cfg.URL)}, nil
	default:
		return nil, fmt.Errorf("mcpext: unsupported transport %q", cfg.Transport)
	}
}

// ListCapabilities lists the server's tools, prompts and resources.
func (p *Provider) ListCapabilities(ctx context.Context) (extension.Capabilities, error) {
	session, err := p.getSession(ctx)
	if err != nil {
		return extension.Capabilities{}, err
	}
	caps := extension.Capabilities{Instructions: p.cfg.Instructions}
	for mt, iterErr := range session.Tools(ctx, nil) {
		if iterErr != nil {
			return extension.Capabilities{}, fmt.Errorf("mcpext: list tools from %s: %w", p.cfg.Name, iterErr)
		}
		if mt == nil || strings.TrimSpace(mt.Name) == "" {
			continue
		}
		name := strings.TrimSpace(mt.Name)
		if len(p.allow) > 0 {
			if _, ok := p.allow[name]; !ok {
				continue
			}
		}
		readOnly := false
		if mt.Annotations != nil {
			readOnly = mt.Annotations.ReadOnlyHint
		}
		caps.Tools = append(caps.Tools, extension.ToolInfo{
			Name:        name,
			Description: strings.TrimSpace(mt.Description),
			InputSchema: normalizeSchema(mt.InputSchema),
			ReadOnly:    readOnly,
		})
	}
	prompts, err := p.ListPrompts(ctx)
	if err != nil {
		return extension.Capabilities{}, err
	}
	caps.Prompts = prompts
	resources, err := p.ListResources(ctx)
	if err != nil {
		return extension.Capabilities{}, err
	}
	caps.Resources = resources
	return caps, nil
}

// CallTool invokes one tool by its original MCP name.
func (p *Provider) CallTool(ctx context.Context, name string, args map[string]any) ([]message.Content, error) {
	session, err := p.getSession(ctx)
	if err != nil {
		return nil, err
	}
	callCtx := ctx
	cancel := func() {}
	if p.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
	}
	defer cancel()

	res, err := session.CallTool(callCtx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcpext: call %s/%s: %w", p.cfg.Name, name, err)
	}
	if res == nil {
		return nil, nil
	}
	content := convertContent(res.Content)
	if res.IsError {
		msg := concatText(content)
		if msg == "" {
			msg = "tool returned an error"
		}
		return nil, &extension.ToolError{Tool: name, Msg: msg}
	}
	return content, nil
}

// ListResources lists the server's resources.
func (p *Provider) ListResources(ctx context.Context) ([]extension.ResourceInfo, error) {
	session, err := p.getSession(ctx)
	if err != nil {
		return nil, err
	}
	var out []extension.ResourceInfo
	for res, iterErr := range session.Resources(ctx, nil) {
		if iterErr != nil {
			// Resource listing is optional server capability.
			if isMethodNotSupported(iterErr) {
				return nil, nil
			}
			return nil, fmt.Errorf("mcpext: list resources from %s: %w", p.cfg.Name, iterErr)
		}
		if res == nil {
			continue
		}
		out = append(out, extension.ResourceInfo{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MimeType:    res.MIMEType,
		})
	}
	return out, nil
}

// ReadResource reads one resource by uri.
func (p *Provider) ReadResource(ctx context.Context, uri string) ([]message.Content, error) {
	session, err := p.getSession(ctx)
	if err != nil {
		return nil, err
	}
	res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, fmt.Errorf("mcpext: read resource %s from %s: %w", uri, p.cfg.Name, err)
	}
	var out []message.Content
	for _, contents := range res.Contents {
		if contents == nil {
			continue
		}
		if contents.Text != "" {
			out = append(out, message.TextContent{Text: message.SanitizeText(contents.Text)})
			continue
		}
		if len(contents.Blob) > 0 {
			out = append(out, message.ImageContent{
				Data:     base64.StdEncoding.EncodeToString(contents.Blob),
				MimeType: contents.MIMEType,
			})
		}
	}
	return out, nil
}

// ListPrompts lists the server's prompts.
func (p *Provider) ListPrompts(ctx context.Context) ([]extension.PromptInfo, error) {
	session, err := p.getSession(ctx)
	if err != nil {
		return nil, err
	}
	var out []extension.PromptInfo
	for prompt, iterErr := range session.Prompts(ctx, nil) {
		if iterErr != nil {
			if isMethodNotSupported(iterErr) {
				return nil, nil
			}
			return nil, fmt.Errorf("mcpext: list prompts from %s: %w", p.cfg.Name, iterErr)
		}
		if prompt == nil || strings.TrimSpace(prompt.Name) == "" {
			continue
		}
		out = append(out, extension.PromptInfo{
			Name:        prompt.Name,
			Description: prompt.Description,
		})
	}
	return out, nil
}

// GetPrompt renders one prompt into messages.
func (p *Provider) GetPrompt(ctx context.Context, name string) ([]*message.Message, error) {
	session, err := p.getSession(ctx)
	if err != nil {
		return nil, err
	}
	res, err := session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name})
	if err != nil {
		return nil, fmt.Errorf("mcpext: get prompt %s from %s: %w", name, p.cfg.Name, err)
	}
	var out []*message.Message
	for _, pm := range res.Messages {
		if pm == nil {
			continue
		}
		var msg *message.Message
		if pm.Role == "assistant" {
			msg = message.NewAssistant()
		} else {
			msg = message.NewUser()
		}
		for _, item := range convertContent([]mcp.Content{pm.Content}) {
			msg.Append(item)
		}
		out = append(out, msg)
	}
	return out, nil
}

func convertContent(items []mcp.Content) []message.Content {
	out := make([]message.Content, 0, len(items))
	for _, c := range items {
		switch value := c.(type) {
		case *mcp.TextContent:
			out = append(out, message.TextContent{Text: message.SanitizeText(value.Text)})
		case *mcp.ImageContent:
			out = append(out, message.ImageContent{
				Data:     base64.StdEncoding.EncodeToString(value.Data),
				MimeType: value.MIMEType,
			})
		case *mcp.EmbeddedResource:
			if value.Resource == nil {
				continue
			}
			if value.Resource.Text != "" {
				out = append(out, message.TextContent{Text: message.SanitizeText(value.Resource.Text)})
			} else if len(value.Resource.Blob) > 0 {
				out = append(out, message.TextContent{
					Text: fmt.Sprintf("[binary resource %s: %d bytes]", value.Resource.URI, len(value.Resource.Blob)),
				})
			}
		default:
			raw, err := json.Marshal(value)
			if err == nil {
				text := strings.TrimSpace(string(raw))
				if text != "" && text != "{}" {
					out = append(out, message.TextContent{Text: message.SanitizeText(text)})
				}
			}
		}
	}
	return out
}

func concatText(items []message.Content) string {
	parts := make([]string, 0, len(items))
	for _, c := range items {
		if t, ok := c.(message.TextContent); ok && strings.TrimSpace(t.Text) != "" {
			parts = append(parts, strings.TrimSpace(t.Text))
		}
	}
	return strings.Join(parts, "\n")
}

func isMethodNotSupported(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "method not found") || strings.Contains(text, "not supported")
}

func normalizeSchema(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok && len(m) > 0 {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || len(out) == 0 {
		return map[string]any{"type": "object"}
	}
	return out
}
