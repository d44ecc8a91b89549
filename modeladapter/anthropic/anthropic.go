// Package anthropic implements modeladapter.Adapter on top of
// github.com/anthropics/anthropic-sdk-go's Messages API, grounded directly
// on the teacher's features/model/anthropic/client.go (MessagesClient
// narrow-interface pattern, a DefaultModel fallback, ThinkingBudget
// default) adapted to this module's modeladapter types.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/windrose/agentkit/modeladapter"
)

// MessagesClient captures the subset of the Anthropic SDK used here.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel   string
	MaxTokens      int64
	Temperature    float64
	ThinkingBudget int64
}

// Client implements modeladapter.Adapter on Anthropic Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int64
	temperature  float64
	thinkBudget  int64
}

// New builds an adapter from an already-constructed MessagesClient.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
		thinkBudget:  opts.ThinkingBudget,
	}, nil
}

// Complete implements modeladapter.Adapter.
func (c *Client) Complete(ctx context.Context, req modeladapter.Request) (modeladapter.Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var system string
	var messages []sdk.MessageParam
	for _, m := range req.Messages {
		text := textOf(m)
		switch m.Role {
		case modeladapter.RoleSystem:
			system = text
		case modeladapter.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		default:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		}
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   maxTokens,
		Messages:    messages,
		Temperature: sdk.Float(c.temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return modeladapter.Response{}, err
	}
	params.Tools = tools
	if req.Thinking != nil && req.Thinking.Enable {
		budget := int64(req.Thinking.BudgetTokens)
		if budget <= 0 {
			budget = c.thinkBudget
		}
		params.Thinking = sdk.ThinkingConfigParamUnion{
			OfEnabled: &sdk.ThinkingConfigEnabledParam{BudgetTokens: budget},
		}
	}

	resp, err := c.msg.New(ctx, params)
	if err != nil {
		return modeladapter.Response{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream reports that this adapter does not yet implement SSE streaming.
func (c *Client) Stream(context.Context, modeladapter.Request) (modeladapter.Streamer, error) {
	return nil, modeladapter.ErrStreamingUnsupported
}

func textOf(m modeladapter.Message) string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(modeladapter.TextPart); ok {
			out += t.Text
		}
	}
	return out
}

func encodeTools(defs []modeladapter.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema map[string]any
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: decode tool %s schema: %w", d.Name, err)
			}
		}
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        d.Name,
				Description: sdk.String(d.Description),
				InputSchema: sdk.ToolInputSchemaParam{Properties: schema["properties"]},
			},
		})
	}
	return out, nil
}

func translateResponse(resp *sdk.Message) modeladapter.Response {
	msg := modeladapter.Message{Role: modeladapter.RoleAssistant}
	usage := modeladapter.Usage{
		InputTokens:     int(resp.Usage.InputTokens),
		OutputTokens:    int(resp.Usage.OutputTokens),
		CacheReadTokens: int(resp.Usage.CacheReadInputTokens),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			msg.Parts = append(msg.Parts, modeladapter.TextPart{Text: v.Text})
		case sdk.ThinkingBlock:
			msg.Parts = append(msg.Parts, modeladapter.ThinkingPart{Text: v.Thinking, Signature: v.Signature, Final: true})
		case sdk.ToolUseBlock:
			input, _ := json.Marshal(v.Input)
			msg.Parts = append(msg.Parts, modeladapter.ToolUsePart{ID: v.ID, Name: v.Name, Input: input})
		}
	}

	return modeladapter.Response{
		Message:    msg,
		Usage:      usage,
		StopReason: string(resp.StopReason),
	}
}
