package loop

import (
	"context"
	"errors"
	"fmt"

	"github.com/OnslaughtSnail/caravel/kernel/extension"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

// ModelRequest is one model-provider invocation.
type ModelRequest struct {
	System   string
	Messages []*message.Message
	Tools    []extension.Tool
}

// ModelProvider is the language-model contract. Generate returns an
// assistant message that either carries only final content or one or more
// tool requests. Implementations keep no hidden state between calls.
type ModelProvider interface {
	Name() string
	Generate(ctx context.Context, req *ModelRequest) (*message.Message, error)
}

// ProviderError is a turn-level model failure: network, auth, rate limit or
// context length. It terminates the current loop invocation.
type ProviderError struct {
	// ContextLength marks a conversation that no longer fits the model
	// context window.
	ContextLength bool
	Err           error
}

func (e *ProviderError) Error() string {
	if e.ContextLength {
		return fmt.Sprintf("loop: model context length exceeded: %v", e.Err)
	}
	return fmt.Sprintf("loop: model provider failed: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsContextLength reports whether err is a context-length provider failure.
func IsContextLength(err error) bool {
	var target *ProviderError
	return errors.As(err, &target) && target.ContextLength
}
