package loop

import "github.com/OnslaughtSnail/caravel/kernel/message"

// EventKind identifies one event in the run stream.
type EventKind string

const (
	// EventMessage carries a message produced during the run: the final
	// assistant message, an assistant message with tool requests, or a
	// tool-response message.
	EventMessage EventKind = "message"
	// EventConfirmationNeeded asks the caller to approve or deny one
	// parked tool call by id.
	EventConfirmationNeeded EventKind = "confirmation_needed"
	// EventError is a terminal turn-level failure.
	EventError EventKind = "error"
	// EventCancelled acknowledges cancellation; nothing follows it.
	EventCancelled EventKind = "cancelled"
)

// ErrorKind classifies a terminal error event.
type ErrorKind string

const (
	ErrorKindProvider      ErrorKind = "provider_error"
	ErrorKindContextLength ErrorKind = "context_length_exceeded"
)

// Confirmation describes one parked tool call awaiting user resolution.
type Confirmation struct {
	ID        string
	ToolName  string
	Arguments map[string]any
	Prompt    string
}

// Event is one element of the run's lazy, finite event stream. Exactly one
// terminal event (final EventMessage, EventError or EventCancelled) ends
// every stream.
type Event struct {
	Kind         EventKind
	Message      *message.Message
	Confirmation *Confirmation
	ErrKind      ErrorKind
	ErrDetail    string
}

func messageEvent(m *message.Message) *Event {
	return &Event{Kind: EventMessage, Message: m}
}

func confirmationEvent(c Confirmation) *Event {
	return &Event{Kind: EventConfirmationNeeded, Confirmation: &c}
}

func errorEvent(kind ErrorKind, detail string) *Event {
	return &Event{Kind: EventError, ErrKind: kind, ErrDetail: detail}
}

func cancelledEvent() *Event {
	return &Event{Kind: EventCancelled}
}
