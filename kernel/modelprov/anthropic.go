// Package modelprov implements loop.ModelProvider over hosted model APIs.
package modelprov

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/OnslaughtSnail/caravel/kernel/extension"
	"github.com/OnslaughtSnail/caravel/kernel/loop"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL string
	Model   string
	// MaxTokens bounds output tokens per call. <=0 uses the default.
	MaxTokens int
}

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("modelprov: anthropic api key is empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("modelprov: anthropic model is empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
	}, nil
}

// Name returns the provider name.
func (p *Anthropic) Name() string { return "anthropic" }

// Generate runs one non-streaming Messages call.
func (p *Anthropic) Generate(ctx context.Context, req *loop.ModelRequest) (*message.Message, error) {
	if req == nil {
		return nil, fmt.Errorf("modelprov: request is nil")
	}
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     toAnthropicTools(req.Tools),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}
	return anthropicToMessage(resp), nil
}

func toAnthropicMessages(messages []*message.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, item := range m.Content {
			switch c := item.(type) {
			case message.TextContent:
				if strings.TrimSpace(c.Text) == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			case message.ImageContent:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfImage: &anthropic.ImageBlockParam{
						Source: anthropic.ImageBlockParamSourceUnion{
							OfBase64: &anthropic.Base64ImageSourceParam{
								Data:      c.Data,
								MediaType: anthropic.Base64ImageSourceMediaType(c.MimeType),
							},
						},
					},
				})
			case message.ToolRequest:
				if c.Call == nil {
					continue
				}
				args := c.Call.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    c.ID,
						Name:  c.Call.Name,
						Input: args,
					},
				})
			case message.ToolResponse:
				blocks = append(blocks, toolResultBlock(c))
			case message.ContextLengthExceeded:
				// Surface the truncation note as plain text so the model
				// sees why earlier content is missing.
				blocks = append(blocks, anthropic.NewTextBlock("[conversation truncated: "+c.Msg+"]"))
			default:
				// Thinking, confirmation and frontend kinds are caller-side
				// bookkeeping and never go back over the wire.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == message.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toolResultBlock(resp message.ToolResponse) anthropic.ContentBlockParamUnion {
	text := resp.Err
	isError := resp.Err != ""
	if !isError {
		parts := make([]string, 0, len(resp.Result))
		for _, item := range resp.Result {
			if t, ok := item.(message.TextContent); ok {
				parts = append(parts, t.Text)
			}
		}
		text = strings.Join(parts, "\n")
	}
	return anthropic.ContentBlockParamUnion{
		OfToolResult: &anthropic.ToolResultBlockParam{
			ToolUseID: resp.ID,
			IsError:   anthropic.Bool(isError),
			Content: []anthropic.ToolResultBlockParamContentUnion{
				{OfText: &anthropic.TextBlockParam{Text: text}},
			},
		},
	}
}

func toAnthropicTools(tools []extension.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := tool.InputSchema["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := tool.InputSchema["required"].([]string); ok {
			schema.Required = required
		} else if raw, ok := tool.InputSchema["required"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		out = append(out, param)
	}
	return out
}

func anthropicToMessage(resp *anthropic.Message) *message.Message {
	out := message.NewAssistant()
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.AppendText(variant.Text)
		case anthropic.ThinkingBlock:
			out.Append(message.ThinkingContent{Thinking: variant.Thinking, Signature: variant.Signature})
		case anthropic.RedactedThinkingBlock:
			out.Append(message.RedactedThinkingContent{Data: variant.Data})
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(variant.Input, &args); err != nil {
				out.Append(message.ToolRequest{
					ID:  variant.ID,
					Err: fmt.Sprintf("unparseable tool arguments: %v", err),
				})
				continue
			}
			out.Append(message.ToolRequest{
				ID:   variant.ID,
				Call: &message.ToolCall{Name: variant.Name, Args: args},
			})
		}
	}
	return out
}

func classifyAnthropicError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "prompt is too long") || strings.Contains(msg, "context length") {
		return &loop.ProviderError{ContextLength: true, Err: err}
	}
	return &loop.ProviderError{Err: err}
}
