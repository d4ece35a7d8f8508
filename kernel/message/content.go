package message

import "fmt"

// ToolCall is a model-emitted tool invocation request.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// Content is one item inside a message. The set of implementations is
// closed: every consumer switches exhaustively over the concrete types
// below, so adding a kind is a compile-time, all-call-sites change.
type Content interface {
	contentKind() string
}

// TextContent is plain text authored by the user or the model.
type TextContent struct {
	Text string `json:"text"`
}

// ImageContent is inline base64 image data.
type ImageContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// ToolRequest is a model-issued request to run one tool. Call holds the
// parsed invocation; Err holds the parse or validation failure when the
// model produced an unusable call.
type ToolRequest struct {
	ID   string    `json:"id"`
	Call *ToolCall `json:"toolCall,omitempty"`
	Err  string    `json:"error,omitempty"`
}

// ToolResponse answers exactly one earlier ToolRequest by id. Result holds
// the tool output items; Err holds the dispatch or execution failure.
type ToolResponse struct {
	ID     string    `json:"id"`
	Result []Content `json:"toolResult,omitempty"`
	Err    string    `json:"error,omitempty"`
}

// ToolConfirmationRequest parks one tool call until the caller resolves it.
type ToolConfirmationRequest struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
	Prompt    string         `json:"prompt,omitempty"`
}

// FrontendToolRequest is a tool call the caller executes itself instead of
// the runtime dispatching it to an extension.
type FrontendToolRequest struct {
	ID   string    `json:"id"`
	Call *ToolCall `json:"toolCall,omitempty"`
	Err  string    `json:"error,omitempty"`
}

// ThinkingContent is provider reasoning text with its validation signature.
type ThinkingContent struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}

// RedactedThinkingContent is opaque provider reasoning data.
type RedactedThinkingContent struct {
	Data string `json:"data"`
}

// ContextLengthExceeded signals that the conversation no longer fits the
// model context window and needs truncation or summarization by the caller.
type ContextLengthExceeded struct {
	Msg string `json:"msg"`
}

// SummarizationRequested marks a caller-initiated summarization point.
type SummarizationRequested struct {
	Msg string `json:"msg"`
}

func (TextContent) contentKind() string             { return "text" }
func (ImageContent) contentKind() string            { return "image" }
func (ToolRequest) contentKind() string             { return "toolRequest" }
func (ToolResponse) contentKind() string            { return "toolResponse" }
func (ToolConfirmationRequest) contentKind() string { return "toolConfirmationRequest" }
func (FrontendToolRequest) contentKind() string     { return "frontendToolRequest" }
func (ThinkingContent) contentKind() string         { return "thinking" }
func (RedactedThinkingContent) contentKind() string { return "redactedThinking" }
func (ContextLengthExceeded) contentKind() string   { return "contextLengthExceeded" }
func (SummarizationRequested) contentKind() string  { return "summarizationRequested" }

// Describe returns a short human-readable form of one content item.
func Describe(c Content) string {
	switch v := c.(type) {
	case TextContent:
		return v.Text
	case ImageContent:
		return fmt.Sprintf("[image: %s]", v.MimeType)
	case ToolRequest:
		if v.Call != nil {
			return fmt.Sprintf("[tool request %s: %s]", v.ID, v.Call.Name)
		}
		return fmt.Sprintf("[tool request %s: invalid: %s]", v.ID, v.Err)
	case ToolResponse:
		if v.Err != "" {
			return fmt.Sprintf("[tool response %s: error: %s]", v.ID, v.Err)
		}
		return fmt.Sprintf("[tool response %s: %d item(s)]", v.ID, len(v.Result))
	case ToolConfirmationRequest:
		return fmt.Sprintf("[confirmation %s: %s]", v.ID, v.ToolName)
	case FrontendToolRequest:
		if v.Call != nil {
			return fmt.Sprintf("[frontend tool request %s: %s]", v.ID, v.Call.Name)
		}
		return fmt.Sprintf("[frontend tool request %s: invalid: %s]", v.ID, v.Err)
	case ThinkingContent:
		return "[thinking]"
	case RedactedThinkingContent:
		return "[redacted thinking]"
	case ContextLengthExceeded:
		return fmt.Sprintf("[context length exceeded: %s]", v.Msg)
	case SummarizationRequested:
		return fmt.Sprintf("[summarization requested: %s]", v.Msg)
	default:
		return fmt.Sprintf("[unknown content %T]", c)
	}
}
