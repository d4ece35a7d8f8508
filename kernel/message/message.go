package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversational turn. It is owned by the conversation that
// holds it and must not be mutated after it is appended; sanitization of
// text happens at construction and deserialization, never later.
type Message struct {
	ID      string    `json:"id,omitempty"`
	Role    Role      `json:"role"`
	Created time.Time `json:"created"`
	Content []Content `json:"content"`
}

// NewUser creates an empty user message with a fresh id and the current time.
func NewUser() *Message {
	return &Message{ID: uuid.NewString(), Role: RoleUser, Created: time.Now()}
}

// NewAssistant creates an empty assistant message with a fresh id and the
// current time.
func NewAssistant() *Message {
	return &Message{ID: uuid.NewString(), Role: RoleAssistant, Created: time.Now()}
}

// WithID sets the message id.
func (m *Message) WithID(id string) *Message {
	m.ID = id
	return m
}

// Append adds one content item.
func (m *Message) Append(c Content) *Message {
	m.Content = append(m.Content, c)
	return m
}

// AppendText adds one text item, sanitizing it as boundary input.
func (m *Message) AppendText(text string) *Message {
	return m.Append(TextContent{Text: SanitizeText(text)})
}

// ConcatText joins the bodies of all text items with newlines. Non-text
// items are ignored.
func (m *Message) ConcatText() string {
	parts := make([]string, 0, len(m.Content))
	for _, c := range m.Content {
		if t, ok := c.(TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasToolRequest reports whether the message carries a tool call.
func (m *Message) HasToolRequest() bool {
	for _, c := range m.Content {
		if _, ok := c.(ToolRequest); ok {
			return true
		}
	}
	return false
}

// HasToolResponse reports whether the message carries a tool response.
func (m *Message) HasToolResponse() bool {
	for _, c := range m.Content {
		if _, ok := c.(ToolResponse); ok {
			return true
		}
	}
	return false
}

// TextOnly reports whether every content item is plain text.
func (m *Message) TextOnly() bool {
	for _, c := range m.Content {
		if _, ok := c.(TextContent); !ok {
			return false
		}
	}
	return true
}

// ToolRequestIDs returns the set of ids carried by tool requests.
func (m *Message) ToolRequestIDs() map[string]struct{} {
	out := map[string]struct{}{}
	for _, c := range m.Content {
		if req, ok := c.(ToolRequest); ok {
			out[req.ID] = struct{}{}
		}
	}
	return out
}

// ToolResponseIDs returns the set of ids carried by tool responses.
func (m *Message) ToolResponseIDs() map[string]struct{} {
	out := map[string]struct{}{}
	for _, c := range m.Content {
		if resp, ok := c.(ToolResponse); ok {
			out[resp.ID] = struct{}{}
		}
	}
	return out
}

// ToolIDs returns the union of request and response ids in the message.
func (m *Message) ToolIDs() map[string]struct{} {
	out := m.ToolRequestIDs()
	for id := range m.ToolResponseIDs() {
		out[id] = struct{}{}
	}
	return out
}
