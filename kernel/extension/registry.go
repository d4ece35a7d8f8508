package extension

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/OnslaughtSnail/caravel/kernel/message"
)

var (
	// ErrDuplicateExtension reports a second Add with an already-registered name.
	ErrDuplicateExtension = errors.New("extension: duplicate extension name")
	// ErrNotFound reports an unknown extension or tool identifier.
	ErrNotFound = errors.New("extension: not found")
)

// ProviderUnavailableError wraps a transport-level dispatch failure so the
// agent loop can surface it as a normal tool-response error instead of
// aborting the turn.
type ProviderUnavailableError struct {
	Extension string
	Err       error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("extension: provider %q unavailable: %v", e.Extension, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

// IsProviderUnavailable reports whether err is a transport-level dispatch failure.
func IsProviderUnavailable(err error) bool {
	var target *ProviderUnavailableError
	return errors.As(err, &target)
}

// Handle is the registry's record of one connected provider. A handle is
// immutable once published; Refresh swaps in a replacement instead of
// mutating fields, so handles obtained from any read path are safe to use
// without locking.
type Handle struct {
	Name         string
	Capabilities Capabilities
	Instructions string
	State        ConnectionState

	provider Provider
}

// Provider returns the underlying provider implementation.
func (h *Handle) Provider() Provider {
	return h.provider
}

type toolBinding struct {
	handle       *Handle
	originalName string
	info         ToolInfo
}

// Registry is the single source of truth for connected tool providers.
// Reads are concurrent; mutations take the write lock. No lock is held
// across provider I/O issued by Dispatch.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	tools   map[string]toolBinding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: map[string]*Handle{},
		tools:   map[string]toolBinding{},
	}
}

// Add connects one provider: its capabilities are listed once and its tools
// become visible to listing and dispatch immediately. Fails with
// ErrDuplicateExtension when the name is taken.
func (r *Registry) Add(ctx context.Context, p Provider) (*Handle, error) {
	if p == nil {
		return nil, fmt.Errorf("extension: provider is nil")
	}
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return nil, fmt.Errorf("extension: provider name is empty")
	}

	r.mu.RLock()
	_, exists := r.handles[name]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateExtension, name)
	}

	caps, err := p.ListCapabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("extension: list capabilities of %q: %w", name, err)
	}
	handle := &Handle{
		Name:         name,
		Capabilities: caps,
		Instructions: caps.Instructions,
		State:        StateConnected,
		provider:     p,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateExtension, name)
	}
	r.handles[name] = handle
	r.indexToolsLocked(handle)
	return handle, nil
}

// Refresh re-lists one provider's capabilities, picking up tool-list
// changes signaled by the provider. A failed re-listing marks the handle
// failed but keeps the last known tool list dispatchable.
func (r *Registry) Refresh(ctx context.Context, name string) error {
	r.mu.RLock()
	current, ok := r.handles[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: extension %q", ErrNotFound, name)
	}
	caps, err := current.provider.ListCapabilities(ctx)
	if err != nil {
		r.publish(&Handle{
			Name:         name,
			Capabilities: current.Capabilities,
			Instructions: current.Instructions,
			State:        StateFailed,
			provider:     current.provider,
		})
		return fmt.Errorf("extension: refresh %q: %w", name, err)
	}
	r.publish(&Handle{
		Name:         name,
		Capabilities: caps,
		Instructions: caps.Instructions,
		State:        StateConnected,
		provider:     current.provider,
	})
	return nil
}

// publish swaps in a replacement handle and re-indexes its tools. An
// extension removed while its refresh was in flight stays removed.
func (r *Registry) publish(next *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[next.Name]; !ok {
		return
	}
	r.handles[next.Name] = next
	r.dropToolsLocked(next.Name)
	r.indexToolsLocked(next)
}

// Remove deregisters one provider. In-flight dispatches already issued run
// to completion or fail on their own; they are not cancelled here.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[name]; !ok {
		return fmt.Errorf("%w: extension %q", ErrNotFound, name)
	}
	delete(r.handles, name)
	r.dropToolsLocked(name)
	return nil
}

// Handles returns all registered handles sorted by extension name.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Instructions returns the concatenated instructions of all connected
// providers, ordered by extension name.
func (r *Registry) Instructions() string {
	parts := make([]string, 0, 4)
	for _, h := range r.Handles() {
		if text := strings.TrimSpace(h.Instructions); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ListTools returns the aggregated namespaced tool list in lexicographic
// order. A non-empty filter restricts the list to one extension.
func (r *Registry) ListTools(filter string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for identifier, binding := range r.tools {
		if filter != "" && binding.handle.Name != filter {
			continue
		}
		out = append(out, Tool{
			Name:         identifier,
			OriginalName: binding.originalName,
			Extension:    binding.handle.Name,
			Description:  binding.info.Description,
			InputSchema:  binding.info.InputSchema,
			ReadOnly:     binding.info.ReadOnly,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve returns the handle owning one namespaced tool identifier.
func (r *Registry) Resolve(identifier string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	binding, ok := r.tools[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: tool %q", ErrNotFound, identifier)
	}
	return binding.handle, nil
}

// Dispatch forwards one tool call to the owning provider and returns its
// result unchanged. Transport failures come back as ProviderUnavailableError.
func (r *Registry) Dispatch(ctx context.Context, identifier string, args map[string]any) ([]message.Content, error) {
	r.mu.RLock()
	binding, ok := r.tools[identifier]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tool %q", ErrNotFound, identifier)
	}
	result, err := binding.handle.provider.CallTool(ctx, binding.originalName, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, err
		}
		return nil, &ProviderUnavailableError{Extension: binding.handle.Name, Err: err}
	}
	return result, nil
}

// ToolError is a tool-level failure reported by the provider itself, as
// opposed to a transport failure reaching it.
type ToolError struct {
	Tool string
	Msg  string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("extension: tool %q failed: %s", e.Tool, e.Msg)
}

func (r *Registry) indexToolsLocked(handle *Handle) {
	for _, info := range handle.Capabilities.Tools {
		identifier := ToolIdentifier(handle.Name, info.Name)
		r.tools[identifier] = toolBinding{
			handle:       handle,
			originalName: info.Name,
			info:         info,
		}
	}
}

func (r *Registry) dropToolsLocked(name string) {
	for identifier, binding := range r.tools {
		if binding.handle.Name == name {
			delete(r.tools, identifier)
		}
	}
}
