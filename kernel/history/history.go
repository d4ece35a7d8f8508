// Package history persists conversations across runs.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/OnslaughtSnail/caravel/kernel/message"
)

var ErrSessionNotFound = errors.New("history: session not found")

// Session identifies one stored conversation thread.
type Session struct {
	ID      string
	Title   string
	Created time.Time
	Updated time.Time
}

// Store provides session and message persistence. Implementations must be
// safe for concurrent use.
type Store interface {
	// GetOrCreate returns the session with the given id, creating it when
	// absent.
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	// AppendMessages appends messages to an existing session in order.
	AppendMessages(ctx context.Context, id string, msgs ...*message.Message) error
	// LoadConversation rebuilds the stored conversation.
	LoadConversation(ctx context.Context, id string) (*message.Conversation, error)
	// SetTitle updates the session title.
	SetTitle(ctx context.Context, id, title string) error
	// Sessions lists all sessions, most recently updated first.
	Sessions(ctx context.Context) ([]*Session, error)
	// Delete removes a session and its messages.
	Delete(ctx context.Context, id string) error
}
