// Package gemini implements modeladapter.Adapter on top of
// google.golang.org/genai. The teacher has no Gemini adapter of its own
// (its provider set is OpenAI/Anthropic/Bedrock); this package follows the
// same narrow-client-interface shape those adapters use
// (features/model/{openai,anthropic,bedrock}), enriched from the pack's own
// use of google.golang.org/genai where it appears, and fills the fourth
// provider slot spec.md's domain stack calls for.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/windrose/agentkit/modeladapter"
)

// ContentClient captures the subset of the genai client used here.
type ContentClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Options configures the adapter.
type Options struct {
	Client       ContentClient
	DefaultModel string
}

// Client implements modeladapter.Adapter on the Gemini API.
type Client struct {
	models ContentClient
	model  string
}

// New builds an adapter from an already-constructed ContentClient.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("gemini: client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("gemini: default model is required")
	}
	return &Client{models: opts.Client, model: opts.DefaultModel}, nil
}

// Complete implements modeladapter.Adapter.
func (c *Client) Complete(ctx context.Context, req modeladapter.Request) (modeladapter.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var system *genai.Content
	var contents []*genai.Content
	for _, m := range req.Messages {
		text := textOf(m)
		if m.Role == modeladapter.RoleSystem {
			system = genai.NewContentFromText(text, genai.RoleUser)
			continue
		}
		role := genai.RoleUser
		if m.Role == modeladapter.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}

	config := &genai.GenerateContentConfig{Temperature: genai.Ptr(req.Temperature)}
	if system != nil {
		config.SystemInstruction = system
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return modeladapter.Response{}, err
	}
	config.Tools = tools

	resp, err := c.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return modeladapter.Response{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream reports that this adapter does not yet implement the streaming
// GenerateContent variant.
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

func encodeTools(defs []modeladapter.ToolDefinition) ([]*genai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		var schema genai.Schema
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("gemini: decode tool %s schema: %w", d.Name, err)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func translateResponse(resp *genai.GenerateContentResponse) modeladapter.Response {
	msg := modeladapter.Message{Role: modeladapter.RoleAssistant}
	var usage modeladapter.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return modeladapter.Response{Message: msg, Usage: usage}
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.Text != "":
			msg.Parts = append(msg.Parts, modeladapter.TextPart{Text: part.Text})
		case part.FunctionCall != nil:
			args, _ := json.Marshal(part.FunctionCall.Args)
			msg.Parts = append(msg.Parts, modeladapter.ToolUsePart{
				Name:  part.FunctionCall.Name,
				Input: args,
			})
		}
	}
	return modeladapter.Response{
		Message:    msg,
		Usage:      usage,
		StopReason: string(resp.Candidates[0].FinishReason),
	}
}
