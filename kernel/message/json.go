package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire format: each content item is a JSON object tagged with a "type"
// field. Text items are sanitized during decoding, which is the single
// boundary where untrusted serialized history enters the data model.

func marshalContent(c Content) (json.RawMessage, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = c.contentKind()
	return json.Marshal(fields)
}

func unmarshalContent(raw json.RawMessage) (Content, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("message: decode content tag: %w", err)
	}
	switch tag.Type {
	case "text":
		var v TextContent
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		v.Text = SanitizeText(v.Text)
		return v, nil
	case "image":
		var v ImageContent
		err := json.Unmarshal(raw, &v)
		return v, err
	case "toolRequest":
		var v ToolRequest
		err := json.Unmarshal(raw, &v)
		return v, err
	case "toolResponse":
		var v ToolResponse
		err := json.Unmarshal(raw, &v)
		return v, err
	case "toolConfirmationRequest":
		var v ToolConfirmationRequest
		err := json.Unmarshal(raw, &v)
		return v, err
	case "frontendToolRequest":
		var v FrontendToolRequest
		err := json.Unmarshal(raw, &v)
		return v, err
	case "thinking":
		var v ThinkingContent
		err := json.Unmarshal(raw, &v)
		return v, err
	case "redactedThinking":
		var v RedactedThinkingContent
		err := json.Unmarshal(raw, &v)
		return v, err
	case "contextLengthExceeded":
		var v ContextLengthExceeded
		err := json.Unmarshal(raw, &v)
		return v, err
	case "summarizationRequested":
		var v SummarizationRequested
		err := json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("message: unknown content type %q", tag.Type)
	}
}

// MarshalJSON encodes the tool response with type-tagged result items.
func (r ToolResponse) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, 0, len(r.Result))
	for _, item := range r.Result {
		raw, err := marshalContent(item)
		if err != nil {
			return nil, err
		}
		items = append(items, raw)
	}
	return json.Marshal(struct {
		ID     string            `json:"id"`
		Result []json.RawMessage `json:"toolResult,omitempty"`
		Err    string            `json:"error,omitempty"`
	}{ID: r.ID, Result: items, Err: r.Err})
}

// UnmarshalJSON decodes the tool response, decoding result items by tag.
func (r *ToolResponse) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID     string            `json:"id"`
		Result []json.RawMessage `json:"toolResult"`
		Err    string            `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.ID = wire.ID
	r.Err = wire.Err
	r.Result = nil
	for _, raw := range wire.Result {
		item, err := unmarshalContent(raw)
		if err != nil {
			return err
		}
		r.Result = append(r.Result, item)
	}
	return nil
}

type messageWire struct {
	ID      string            `json:"id,omitempty"`
	Role    Role              `json:"role"`
	Created time.Time         `json:"created"`
	Content []json.RawMessage `json:"content"`
}

// MarshalJSON encodes the message with type-tagged content items.
func (m *Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{ID: m.ID, Role: m.Role, Created: m.Created}
	for _, item := range m.Content {
		raw, err := marshalContent(item)
		if err != nil {
			return nil, err
		}
		wire.Content = append(wire.Content, raw)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes and sanitizes one serialized message.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("message: unknown role %q", wire.Role)
	}
	m.ID = wire.ID
	m.Role = wire.Role
	m.Created = wire.Created
	m.Content = nil
	for _, raw := range wire.Content {
		item, err := unmarshalContent(raw)
		if err != nil {
			return err
		}
		m.Content = append(m.Content, item)
	}
	return nil
}
