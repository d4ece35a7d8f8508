package extension

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/OnslaughtSnail/caravel/kernel/message"
)

type stubProvider struct {
	name         string
	tools        []ToolInfo
	instructions string
	listErr      error
	callErr      error
	calls        []string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) ListCapabilities(ctx context.Context) (Capabilities, error) {
	if p.listErr != nil {
		return Capabilities{}, p.listErr
	}
	return Capabilities{Tools: p.tools, Instructions: p.instructions}, nil
}

func (p *stubProvider) CallTool(ctx context.Context, name string, args map[string]any) ([]message.Content, error) {
	p.calls = append(p.calls, name)
	if p.callErr != nil {
		return nil, p.callErr
	}
	return []message.Content{message.TextContent{Text: "ok:" + name}}, nil
}

func (p *stubProvider) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	return nil, nil
}

func (p *stubProvider) ReadResource(ctx context.Context, uri string) ([]message.Content, error) {
	return nil, nil
}

func (p *stubProvider) ListPrompts(ctx context.Context) ([]PromptInfo, error) {
	return nil, nil
}

func (p *stubProvider) GetPrompt(ctx context.Context, name string) ([]*message.Message, error) {
	return nil, nil
}

func TestRegistry_AddDuplicate(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Add(context.Background(), &stubProvider{name: "fetch"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := reg.Add(context.Background(), &stubProvider{name: "fetch"})
	if !errors.Is(err, ErrDuplicateExtension) {
		t.Fatalf("expected ErrDuplicateExtension, got %v", err)
	}
}

func TestRegistry_ListToolsNamespacedAndSorted(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	if _, err := reg.Add(ctx, &stubProvider{name: "zeta", tools: []ToolInfo{{Name: "get"}}}); err != nil {
		t.Fatalf("add zeta: %v", err)
	}
	if _, err := reg.Add(ctx, &stubProvider{name: "alpha", tools: []ToolInfo{{Name: "get"}, {Name: "put"}}}); err != nil {
		t.Fatalf("add alpha: %v", err)
	}
	tools := reg.ListTools("")
	want := []string{"alpha__get", "alpha__put", "zeta__get"}
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for i, name := range want {
		if tools[i].Name != name {
			t.Fatalf("tool %d: expected %q, got %q", i, name, tools[i].Name)
		}
	}

	filtered := reg.ListTools("alpha")
	if len(filtered) != 2 {
		t.Fatalf("expected 2 alpha tools, got %d", len(filtered))
	}
}

func TestRegistry_ResolveAndRemove(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	if _, err := reg.Add(ctx, &stubProvider{name: "fs", tools: []ToolInfo{{Name: "read", ReadOnly: true}}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	handle, err := reg.Resolve("fs__read")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if handle.Name != "fs" {
		t.Fatalf("unexpected owner %q", handle.Name)
	}
	if err := reg.Remove("fs"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := reg.Resolve("fs__read"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if err := reg.Remove("fs"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestRegistry_RefreshReplacesToolList(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	stub := &stubProvider{name: "fs", tools: []ToolInfo{{Name: "read"}}, instructions: "read only"}
	if _, err := reg.Add(ctx, stub); err != nil {
		t.Fatalf("add: %v", err)
	}

	stub.tools = []ToolInfo{{Name: "write"}}
	stub.instructions = "now writable"
	if err := reg.Refresh(ctx, "fs"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := reg.Resolve("fs__write"); err != nil {
		t.Fatalf("resolve new tool: %v", err)
	}
	if _, err := reg.Resolve("fs__read"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected dropped tool to be gone, got %v", err)
	}
	if got := reg.Instructions(); got != "now writable" {
		t.Fatalf("instructions = %q", got)
	}
	if state := reg.Handles()[0].State; state != StateConnected {
		t.Fatalf("state = %q", state)
	}

	if err := reg.Refresh(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown extension, got %v", err)
	}
}

func TestRegistry_RefreshFailureKeepsLastToolList(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	stub := &stubProvider{name: "fs", tools: []ToolInfo{{Name: "read"}}}
	if _, err := reg.Add(ctx, stub); err != nil {
		t.Fatalf("add: %v", err)
	}

	stub.listErr = fmt.Errorf("pipe closed")
	if err := reg.Refresh(ctx, "fs"); err == nil {
		t.Fatal("expected refresh error")
	}
	if state := reg.Handles()[0].State; state != StateFailed {
		t.Fatalf("state = %q", state)
	}
	if _, err := reg.Resolve("fs__read"); err != nil {
		t.Fatalf("last known tool must stay dispatchable: %v", err)
	}

	stub.listErr = nil
	if err := reg.Refresh(ctx, "fs"); err != nil {
		t.Fatalf("recovering refresh: %v", err)
	}
	if state := reg.Handles()[0].State; state != StateConnected {
		t.Fatalf("state after recovery = %q", state)
	}
}

func TestRegistry_RefreshConcurrentWithReads(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	stub := &stubProvider{name: "fs", tools: []ToolInfo{{Name: "read"}}, instructions: "careful"}
	if _, err := reg.Add(ctx, stub); err != nil {
		t.Fatalf("add: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := reg.Refresh(ctx, "fs"); err != nil {
				t.Errorf("refresh: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			reg.Instructions()
			for _, h := range reg.Handles() {
				_ = h.State
				_ = len(h.Capabilities.Tools)
			}
			reg.ListTools("")
		}()
	}
	wg.Wait()

	if _, err := reg.Resolve("fs__read"); err != nil {
		t.Fatalf("resolve after concurrent refreshes: %v", err)
	}
}

func TestRegistry_DispatchForwardsResult(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	stub := &stubProvider{name: "fetch", tools: []ToolInfo{{Name: "get"}}}
	if _, err := reg.Add(ctx, stub); err != nil {
		t.Fatalf("add: %v", err)
	}
	result, err := reg.Dispatch(ctx, "fetch__get", map[string]any{"url": "https://example.com"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected one content item, got %d", len(result))
	}
	if len(stub.calls) != 1 || stub.calls[0] != "get" {
		t.Fatalf("provider saw calls %v, expected original name", stub.calls)
	}
}

func TestRegistry_DispatchTransportFailure(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	stub := &stubProvider{name: "fetch", tools: []ToolInfo{{Name: "get"}}, callErr: fmt.Errorf("pipe closed")}
	if _, err := reg.Add(ctx, stub); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := reg.Dispatch(ctx, "fetch__get", nil)
	if !IsProviderUnavailable(err) {
		t.Fatalf("expected provider-unavailable error, got %v", err)
	}
}

func TestRegistry_DispatchToolLevelError(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	stub := &stubProvider{name: "fetch", tools: []ToolInfo{{Name: "get"}}, callErr: &ToolError{Tool: "get", Msg: "bad url"}}
	if _, err := reg.Add(ctx, stub); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := reg.Dispatch(ctx, "fetch__get", nil)
	if IsProviderUnavailable(err) {
		t.Fatal("tool-level error must not be classified as provider unavailable")
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected tool error, got %v", err)
	}
}

func TestToolIdentifier_SanitizesAndCaps(t *testing.T) {
	if got := ToolIdentifier("Fetch Server", "Get-URL"); got != "fetch_server__get_url" {
		t.Fatalf("unexpected identifier %q", got)
	}
	long := ToolIdentifier("extension_with_a_very_long_name", "tool_with_an_equally_long_name_indeed")
	if len(long) > 64 {
		t.Fatalf("identifier too long: %d bytes", len(long))
	}
	again := ToolIdentifier("extension_with_a_very_long_name", "tool_with_an_equally_long_name_indeed")
	if long != again {
		t.Fatal("identifier derivation must be stable")
	}
}
