// Package loop drives the model-tool conversation state machine: it calls
// the model provider, gates requested tool calls through permissions,
// dispatches them through the extension registry and streams the run as a
// lazy event sequence with suspend/resume confirmation semantics.
package loop

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OnslaughtSnail/caravel/kernel/extension"
	"github.com/OnslaughtSnail/caravel/kernel/message"
	"github.com/OnslaughtSnail/caravel/kernel/permission"
	"github.com/OnslaughtSnail/caravel/kernel/selector"
)

const defaultMaxTurns = 64

// ErrorKindTurnLimit terminates runs whose model keeps requesting tools
// past the configured turn budget.
const ErrorKindTurnLimit ErrorKind = "turn_limit"

// Config configures a Loop.
type Config struct {
	Registry    *extension.Registry
	Permissions *permission.Manager
	Selector    *selector.Selector
	Model       ModelProvider

	SystemPrompt string
	Mode         permission.Mode
	// MaxTurns bounds model round-trips per run. <=0 uses the default.
	MaxTurns int
	// DispatchTimeout bounds each tool dispatch. <=0 leaves dispatches
	// bounded by the run context only.
	DispatchTimeout time.Duration
}

// Loop orchestrates runs over one shared registry, permission manager and
// selector. Runs of distinct conversations may execute concurrently; the
// caller must not run two turns of the same conversation at once.
type Loop struct {
	cfg           Config
	confirmations *confirmationBroker
}

// New creates a loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("loop: registry is nil")
	}
	if cfg.Permissions == nil {
		return nil, fmt.Errorf("loop: permission manager is nil")
	}
	if cfg.Selector == nil {
		return nil, fmt.Errorf("loop: selector is nil")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("loop: model provider is nil")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.Mode == "" {
		cfg.Mode = permission.ModeApprove
	}
	return &Loop{cfg: cfg, confirmations: newConfirmationBroker()}, nil
}

// Approve resolves one parked confirmation as allowed.
func (l *Loop) Approve(id string) error {
	return l.confirmations.resolve(id, true)
}

// Deny resolves one parked confirmation as refused.
func (l *Loop) Deny(id string) error {
	return l.confirmations.resolve(id, false)
}

// RunRequest defines one loop invocation.
type RunRequest struct {
	Conversation *message.Conversation
	// Mode overrides the configured permission mode for this run.
	Mode permission.Mode
}

type toolOutcome struct {
	id      string
	content []message.Content
	err     error
}

type parkedCall struct {
	req message.ToolRequest
	ch  <-chan bool
}

// Run executes the loop until a terminal condition. The returned stream is
// lazy, finite and non-restartable; it ends with exactly one of a final
// assistant message, an error event or a cancellation event. A turn's
// messages are committed to the conversation only once every tool call of
// that turn has resolved, so an aborted turn never leaves a request
// without its response.
func (l *Loop) Run(ctx context.Context, req RunRequest) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if ctx == nil {
			ctx = context.Background()
		}
		convo := req.Conversation
		if convo == nil {
			yield(nil, fmt.Errorf("loop: conversation is nil"))
			return
		}
		mode := req.Mode
		if mode == "" {
			mode = l.cfg.Mode
		}

		for turn := 0; ; turn++ {
			if turn >= l.cfg.MaxTurns {
				yield(errorEvent(ErrorKindTurnLimit, fmt.Sprintf("loop: turn limit %d reached", l.cfg.MaxTurns)), nil)
				return
			}
			if ctx.Err() != nil {
				yield(cancelledEvent(), nil)
				return
			}

			allTools := l.cfg.Registry.ListTools("")
			advertised := l.cfg.Selector.Select(allTools, convo)

			assistant, err := l.cfg.Model.Generate(ctx, &ModelRequest{
				System:   l.systemPrompt(),
				Messages: convo.Messages(),
				Tools:    advertised,
			})
			if err != nil {
				if ctx.Err() != nil {
					yield(cancelledEvent(), nil)
					return
				}
				l.yieldProviderFailure(convo, err, yield)
				return
			}
			if assistant == nil {
				yield(errorEvent(ErrorKindProvider, "loop: empty model response"), nil)
				return
			}
			assistant.Role = message.RoleAssistant

			if !assistant.HasToolRequest() {
				// Terminal: final content, or frontend tool requests the
				// caller executes itself before starting the next run.
				convo.Append(assistant)
				yield(messageEvent(assistant), nil)
				return
			}

			if !l.runToolTurn(ctx, convo, assistant, allTools, mode, yield) {
				return
			}
		}
	}
}

// runToolTurn gates, dispatches and reconciles one turn's tool calls. It
// returns false when the stream terminated inside the turn.
func (l *Loop) runToolTurn(
	ctx context.Context,
	convo *message.Conversation,
	assistant *message.Message,
	allTools []extension.Tool,
	mode permission.Mode,
	yield func(*Event, error) bool,
) bool {
	staged := []*message.Message{assistant}
	if !yield(messageEvent(assistant), nil) {
		return false
	}

	toolset := make(map[string]extension.Tool, len(allTools))
	for _, tool := range allTools {
		toolset[tool.Name] = tool
	}

	var autos []message.ToolRequest
	var parked []parkedCall
	seen := map[string]struct{}{}

	emitResponse := func(id string, content []message.Content, errText string) bool {
		resp := message.ToolResponse{ID: id, Result: content, Err: errText}
		m := message.NewUser().Append(resp)
		staged = append(staged, m)
		return yield(messageEvent(m), nil)
	}

	for _, item := range assistant.Content {
		call, ok := item.(message.ToolRequest)
		if !ok {
			continue
		}
		if _, dup := seen[call.ID]; dup {
			if !emitResponse(call.ID, nil, fmt.Sprintf("duplicate tool call id %q", call.ID)) {
				return false
			}
			continue
		}
		seen[call.ID] = struct{}{}

		if call.Call == nil || call.Err != "" {
			detail := call.Err
			if detail == "" {
				detail = "missing tool call payload"
			}
			if !emitResponse(call.ID, nil, "invalid tool call: "+detail) {
				return false
			}
			continue
		}
		tool, known := toolset[call.Call.Name]
		if !known {
			if !emitResponse(call.ID, nil, fmt.Sprintf("unknown tool %q", call.Call.Name)) {
				return false
			}
			continue
		}

		switch l.cfg.Permissions.Decide(call.Call.Name, mode, permission.Hint{ReadOnly: tool.ReadOnly}) {
		case permission.Auto:
			autos = append(autos, call)
		case permission.Never:
			if !emitResponse(call.ID, nil, "execution denied by policy") {
				return false
			}
		default:
			ch, err := l.confirmations.register(call.ID)
			if err != nil {
				if !emitResponse(call.ID, nil, err.Error()) {
					return false
				}
				continue
			}
			if !yield(confirmationEvent(Confirmation{
				ID:        call.ID,
				ToolName:  call.Call.Name,
				Arguments: call.Call.Args,
				Prompt:    fmt.Sprintf("Allow tool %q to run?", call.Call.Name),
			}), nil) {
				l.confirmations.abandon(call.ID)
				return false
			}
			parked = append(parked, parkedCall{req: call, ch: ch})
		}
	}

	abandonParked := func() {
		for _, p := range parked {
			l.confirmations.abandon(p.req.ID)
		}
	}

	// Auto calls dispatch concurrently across providers; calls aimed at
	// the same provider stay serialized on its connection. Dispatches are
	// detached from run cancellation: a cancelled run lets them finish in
	// the background without awaiting or appending their results.
	results := make(chan toolOutcome, len(autos))
	if len(autos) > 0 {
		dispatchCtx := context.WithoutCancel(ctx)
		group := new(errgroup.Group)
		for _, batch := range groupByExtension(autos, toolset) {
			group.Go(func() error {
				for _, call := range batch {
					results <- l.dispatch(dispatchCtx, call)
				}
				return nil
			})
		}
	}
	for completed := 0; completed < len(autos); completed++ {
		select {
		case <-ctx.Done():
			abandonParked()
			yield(cancelledEvent(), nil)
			return false
		case outcome := <-results:
			if !emitOutcome(outcome, emitResponse) {
				return false
			}
		}
	}

	for i, p := range parked {
		select {
		case <-ctx.Done():
			for _, rest := range parked[i:] {
				l.confirmations.abandon(rest.req.ID)
			}
			yield(cancelledEvent(), nil)
			return false
		case approved := <-p.ch:
			if !approved {
				if !emitResponse(p.req.ID, nil, "execution denied by user") {
					return false
				}
				continue
			}
			outcome := l.dispatch(context.WithoutCancel(ctx), p.req)
			if !emitOutcome(outcome, emitResponse) {
				return false
			}
		}
	}

	// Every call of this turn has a response: commit the turn.
	for _, m := range staged {
		convo.Append(m)
	}
	return true
}

func emitOutcome(outcome toolOutcome, emitResponse func(string, []message.Content, string) bool) bool {
	if outcome.err != nil {
		return emitResponse(outcome.id, nil, outcome.err.Error())
	}
	return emitResponse(outcome.id, outcome.content, "")
}

func (l *Loop) dispatch(ctx context.Context, call message.ToolRequest) toolOutcome {
	callCtx := ctx
	cancel := func() {}
	if l.cfg.DispatchTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, l.cfg.DispatchTimeout)
	}
	defer cancel()
	content, err := l.cfg.Registry.Dispatch(callCtx, call.Call.Name, call.Call.Args)
	return toolOutcome{id: call.ID, content: content, err: err}
}

func groupByExtension(calls []message.ToolRequest, toolset map[string]extension.Tool) [][]message.ToolRequest {
	byExt := map[string][]message.ToolRequest{}
	order := make([]string, 0, 2)
	for _, call := range calls {
		ext := toolset[call.Call.Name].Extension
		if _, exists := byExt[ext]; !exists {
			order = append(order, ext)
		}
		byExt[ext] = append(byExt[ext], call)
	}
	out := make([][]message.ToolRequest, 0, len(order))
	for _, ext := range order {
		out = append(out, byExt[ext])
	}
	return out
}

func (l *Loop) yieldProviderFailure(convo *message.Conversation, err error, yield func(*Event, error) bool) {
	if IsContextLength(err) {
		note := message.NewAssistant().Append(message.ContextLengthExceeded{Msg: err.Error()})
		convo.Append(note)
		if !yield(messageEvent(note), nil) {
			return
		}
		yield(errorEvent(ErrorKindContextLength, err.Error()), nil)
		return
	}
	yield(errorEvent(ErrorKindProvider, err.Error()), nil)
}

func (l *Loop) systemPrompt() string {
	parts := make([]string, 0, 2)
	if text := strings.TrimSpace(l.cfg.SystemPrompt); text != "" {
		parts = append(parts, text)
	}
	if text := strings.TrimSpace(l.cfg.Registry.Instructions()); text != "" {
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}
