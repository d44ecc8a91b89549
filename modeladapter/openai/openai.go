// Package openai implements modeladapter.Adapter on top of the official
// github.com/openai/openai-go Chat Completions client. The adapter surface
// (a narrow ChatClient interface covering only the SDK method used, so tests
// can substitute a fake) follows the same shape the teacher uses for its
// own provider adapters (features/model/{anthropic,bedrock}.client.go).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/windrose/agentkit/modeladapter"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements modeladapter.Adapter via OpenAI Chat Completions.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an adapter from an already-constructed ChatClient.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: client is required")
	}
	model := strings.TrimSpace(opts.DefaultModel)
	if model == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: model}, nil
}

// Complete implements modeladapter.Adapter.
func (c *Client) Complete(ctx context.Context, req modeladapter.Request) (modeladapter.Response, error) {
	if len(req.Messages) == 0 {
		return modeladapter.Response{}, errors.New("openai: messages are required")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    encodeMessages(req.Messages),
		Temperature: openai.Float(float64(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return modeladapter.Response{}, err
	}
	params.Tools = tools

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return modeladapter.Response{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream reports that this adapter does not yet implement SSE streaming;
// callers fall back to Complete.
func (c *Client) Stream(context.Context, modeladapter.Request) (modeladapter.Streamer, error) {
	return nil, modeladapter.ErrStreamingUnsupported
}

func encodeMessages(msgs []modeladapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		text := textOf(m)
		switch m.Role {
		case modeladapter.RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case modeladapter.RoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

func textOf(m modeladapter.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(modeladapter.TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func encodeTools(defs []modeladapter.ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		var params map[string]any
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &params); err != nil {
				return nil, fmt.Errorf("openai: decode tool %s schema: %w", d.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func translateResponse(resp *openai.ChatCompletion) modeladapter.Response {
	if len(resp.Choices) == 0 {
		return modeladapter.Response{}
	}
	choice := resp.Choices[0]
	msg := modeladapter.Message{Role: modeladapter.RoleAssistant}
	if choice.Message.Content != "" {
		msg.Parts = append(msg.Parts, modeladapter.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.Parts = append(msg.Parts, modeladapter.ToolUsePart{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: []byte(tc.Function.Arguments),
		})
	}
	return modeladapter.Response{
		Message: msg,
		Usage: modeladapter.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		StopReason: string(choice.FinishReason),
	}
}
