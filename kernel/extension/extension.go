package extension

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/OnslaughtSnail/caravel/kernel/message"
)

// Provider is the tool-provider contract. Concrete providers are swappable
// implementations over any framed request/response channel; the registry
// never depends on the transport.
type Provider interface {
	Name() string
	ListCapabilities(ctx context.Context) (Capabilities, error)
	CallTool(ctx context.Context, name string, args map[string]any) ([]message.Content, error)
	ListResources(ctx context.Context) ([]ResourceInfo, error)
	ReadResource(ctx context.Context, uri string) ([]message.Content, error)
	ListPrompts(ctx context.Context) ([]PromptInfo, error)
	GetPrompt(ctx context.Context, name string) ([]*message.Message, error)
}

// Capabilities is one provider's advertised surface.
type Capabilities struct {
	Tools        []ToolInfo
	Prompts      []PromptInfo
	Resources    []ResourceInfo
	Instructions string
}

// ToolInfo describes one tool as advertised by its provider.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]any
	// ReadOnly mirrors the provider's read-only annotation and feeds the
	// smart-approve permission heuristic.
	ReadOnly bool
}

// PromptInfo describes one provider prompt.
type PromptInfo struct {
	Name        string
	Description string
}

// ResourceInfo describes one provider resource.
type ResourceInfo struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// ConnectionState is the registry's view of one provider connection.
type ConnectionState string

const (
	StateConnected ConnectionState = "connected"
	StateFailed    ConnectionState = "failed"
)

// Tool is one namespaced entry in the aggregated tool list.
type Tool struct {
	// Name is the stable namespaced identifier used for permission lookups
	// and dispatch routing.
	Name         string
	OriginalName string
	Extension    string
	Description  string
	InputSchema  map[string]any
	ReadOnly     bool
}

const maxToolNameLen = 64

// ToolIdentifier builds the namespaced identifier for one provider tool.
// Two providers exposing the same short name never collide. Identifiers
// are capped at 64 bytes with a hash suffix to stay model-safe.
func ToolIdentifier(providerName, toolName string) string {
	prefix := sanitizeName(providerName)
	original := sanitizeName(toolName)
	if prefix == "" {
		prefix = "ext"
	}
	if original == "" {
		original = "tool"
	}
	name := prefix + "__" + original
	if len(name) <= maxToolNameLen {
		return name
	}
	sum := sha1.Sum([]byte(name))
	suffix := hex.EncodeToString(sum[:4])
	maxPrefix := maxToolNameLen - 2 - len(suffix)
	if len(name) > maxPrefix {
		name = name[:maxPrefix]
	}
	name = strings.Trim(name, "_")
	if name == "" {
		name = "ext"
	}
	return name + "__" + suffix
}

// SplitIdentifier returns the provider prefix of one namespaced identifier.
func SplitIdentifier(identifier string) (provider, tool string, ok bool) {
	idx := strings.Index(identifier, "__")
	if idx <= 0 {
		return "", "", false
	}
	return identifier[:idx], identifier[idx+2:], true
}

func sanitizeName(input string) string {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return ""
	}
	var b strings.Builder
	prevUnderscore := false
	for _, r := range input {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		if ok {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
