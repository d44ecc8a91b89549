// Package bedrock implements modeladapter.Adapter on top of the AWS Bedrock
// Converse API, grounded on the teacher's features/model/bedrock/client.go
// (split system vs. conversational messages, encode tool schemas into
// Bedrock's ToolConfiguration, translate Converse output back into the
// provider-agnostic response shape).
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/windrose/agentkit/errorpolicy"
	"github.com/windrose/agentkit/modeladapter"
)

// RuntimeClient captures the subset of the Bedrock runtime client used here.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int32
	Temperature  float32
}

// Client implements modeladapter.Adapter on Bedrock Converse.
type Client struct {
	runtime     RuntimeClient
	model       string
	maxTokens   int32
	temperature float32
}

// New builds an adapter from an already-constructed RuntimeClient.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{
		runtime:     opts.Runtime,
		model:       opts.DefaultModel,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}, nil
}

// Complete implements modeladapter.Adapter.
func (c *Client) Complete(ctx context.Context, req modeladapter.Request) (modeladapter.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		text := textOf(m)
		if m.Role == modeladapter.RoleSystem {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: text})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == modeladapter.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		System:   system,
		Messages: messages,
		InferenceConfig: &brtypes.InferenceConfiguration{
			Temperature: aws.Float32(c.temperature),
		},
	}
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(maxTokens)
	}
	toolConfig, err := encodeToolConfig(req.Tools)
	if err != nil {
		return modeladapter.Response{}, err
	}
	input.ToolConfig = toolConfig

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return modeladapter.Response{}, classifyError(err)
	}
	return translateOutput(out), nil
}

// classifyError wraps a Converse failure into an errorpolicy.Error, marking
// it Retryable when it represents a Bedrock throttling response so
// errorpolicy.RetryHandler picks it up without relying on the generic
// substring-matching errorpolicy.RateLimitMatcher.
func classifyError(err error) *errorpolicy.Error {
	wrapped := errorpolicy.NewWithCause("bedrock: converse", err)
	wrapped.Retryable = isRateLimited(err)
	return wrapped
}

// isRateLimited reports whether err represents a Bedrock rate-limiting
// condition, checking both the provider's API error code and a raw HTTP
// 429 response.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

// Stream reports that this adapter does not yet implement ConverseStream.
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

func encodeToolConfig(defs []modeladapter.ToolDefinition) (*brtypes.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, d := range defs {
		var schema map[string]any
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("bedrock: decode tool %s schema: %w", d.Name, err)
			}
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func translateOutput(out *bedrockruntime.ConverseOutput) modeladapter.Response {
	msg := modeladapter.Message{Role: modeladapter.RoleAssistant}
	if member, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range member.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				msg.Parts = append(msg.Parts, modeladapter.TextPart{Text: v.Value})
			case *brtypes.ContentBlockMemberToolUse:
				var input []byte
				if v.Value.Input != nil {
					input, _ = v.Value.Input.MarshalSmithyDocument()
				}
				msg.Parts = append(msg.Parts, modeladapter.ToolUsePart{
					ID:    aws.ToString(v.Value.ToolUseId),
					Name:  aws.ToString(v.Value.Name),
					Input: input,
				})
			}
		}
	}

	usage := modeladapter.Usage{}
	if out.Usage != nil {
		usage.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		usage.TotalTokens = int(aws.ToInt32(out.Usage.TotalTokens))
	}

	return modeladapter.Response{
		Message:    msg,
		Usage:      usage,
		StopReason: string(out.StopReason),
	}
}
