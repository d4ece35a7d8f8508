package modelprov

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/OnslaughtSnail/caravel/kernel/extension"
	"github.com/OnslaughtSnail/caravel/kernel/loop"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

// GeminiConfig configures a Gemini provider.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini calls the Gemini API through the official client.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("modelprov: gemini api key is empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("modelprov: gemini model is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("modelprov: create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

// Name returns the provider name.
func (p *Gemini) Name() string { return "gemini" }

// Generate runs one non-streaming GenerateContent call.
func (p *Gemini) Generate(ctx context.Context, req *loop.ModelRequest) (*message.Message, error) {
	if req == nil {
		return nil, fmt.Errorf("modelprov: request is nil")
	}
	config := &genai.GenerateContentConfig{
		Tools: toGeminiTools(req.Tools),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, toGeminiContents(req.Messages), config)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	return geminiToMessage(resp)
}

// toGeminiContents flattens the conversation into Gemini contents. Tool
// responses become functionResponse parts keyed by the namespaced tool name,
// recovered from the paired request because Gemini routes responses by name
// rather than call id.
func toGeminiContents(messages []*message.Message) []*genai.Content {
	requestNames := map[string]string{}
	for _, m := range messages {
		for _, item := range m.Content {
			if req, ok := item.(message.ToolRequest); ok && req.Call != nil {
				requestNames[req.ID] = req.Call.Name
			}
		}
	}

	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == message.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(m.Content))
		for _, item := range m.Content {
			switch c := item.(type) {
			case message.TextContent:
				if strings.TrimSpace(c.Text) == "" {
					continue
				}
				parts = append(parts, &genai.Part{Text: c.Text})
			case message.ImageContent:
				data, err := base64.StdEncoding.DecodeString(c.Data)
				if err != nil {
					continue
				}
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: c.MimeType, Data: data},
				})
			case message.ToolRequest:
				if c.Call == nil {
					continue
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   c.ID,
						Name: c.Call.Name,
						Args: c.Call.Args,
					},
				})
			case message.ToolResponse:
				response := map[string]any{}
				if c.Err != "" {
					response["error"] = c.Err
				} else {
					texts := make([]string, 0, len(c.Result))
					for _, item := range c.Result {
						if t, ok := item.(message.TextContent); ok {
							texts = append(texts, t.Text)
						}
					}
					response["output"] = strings.Join(texts, "\n")
				}
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       c.ID,
						Name:     requestNames[c.ID],
						Response: response,
					},
				})
			case message.ContextLengthExceeded:
				parts = append(parts, &genai.Part{Text: "[conversation truncated: " + c.Msg + "]"})
			default:
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

func toGeminiTools(tools []extension.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: tool.InputSchema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func geminiToMessage(resp *genai.GenerateContentResponse) (*message.Message, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &loop.ProviderError{Err: fmt.Errorf("modelprov: empty gemini candidates")}
	}
	out := message.NewAssistant()
	for i, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if strings.TrimSpace(part.Text) != "" {
			out.AppendText(part.Text)
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				// Gemini may omit call ids; synthesize a per-turn-unique one.
				id = fmt.Sprintf("%s-%d", part.FunctionCall.Name, i)
			}
			out.Append(message.ToolRequest{
				ID: id,
				Call: &message.ToolCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				},
			})
		}
	}
	return out, nil
}

func classifyGeminiError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "token count") && strings.Contains(msg, "exceed") {
		return &loop.ProviderError{ContextLength: true, Err: err}
	}
	return &loop.ProviderError{Err: err}
}
