// Package modeladapter defines the provider-agnostic model contract every
// agent step calls through (spec.md §6.1): a Request/Response pair built
// from typed message Parts, and an Adapter interface concrete provider
// packages (openai, anthropic, bedrock, gemini) implement. It is grounded
// on the teacher's runtime/agent/model package, trimmed to the parts this
// module's agent loop actually drives (text/thinking/tool parts; document
// and citation parts are out of scope — spec.md has no document-ingestion
// module).
package modeladapter

import (
	"context"
	"errors"
)

// Role is the conversational role of a Message.
type Role string

// Recognized roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is implemented by every message content block.
type Part interface{ isPart() }

// TextPart is plain text content.
type TextPart struct{ Text string }

func (TextPart) isPart() {}

// ThinkingPart is provider-issued reasoning content.
type ThinkingPart struct {
	Text      string
	Signature string
	Final     bool
}

func (ThinkingPart) isPart() {}

// ToolUsePart declares a tool invocation requested by the assistant.
type ToolUsePart struct {
	ID    string
	Name  string
	Input []byte // JSON-encoded arguments
}

func (ToolUsePart) isPart() {}

// ToolResultPart carries a tool result fed back to the model.
type ToolResultPart struct {
	ToolUseID string
	Result    []byte // JSON-encoded
	IsError   bool
}

func (ToolResultPart) isPart() {}

// Message is one conversational turn, composed of ordered Parts.
type Message struct {
	Role  Role
	Parts []Part
}

// ToolDefinition describes one tool the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema []byte // JSON Schema, raw
}

// ToolChoiceMode controls how the model is steered toward tool use.
type ToolChoiceMode string

// Recognized tool-choice modes.
const (
	ToolChoiceAuto ToolChoiceMode = "auto"
	ToolChoiceNone ToolChoiceMode = "none"
	ToolChoiceTool ToolChoiceMode = "tool"
)

// ToolChoice optionally constrains tool-use behavior for a Request.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string // required when Mode is ToolChoiceTool
}

// ThinkingOptions configures provider-specific reasoning behavior.
type ThinkingOptions struct {
	Enable       bool
	BudgetTokens int
}

// Usage reports token accounting for a single model call.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Request captures everything needed to invoke a model.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	Tools       []ToolDefinition
	ToolChoice  *ToolChoice
	Thinking    *ThinkingOptions
	Stream      bool
}

// Response is the result of a non-streaming Complete call.
type Response struct {
	Message    Message
	Usage      Usage
	StopReason string
}

// ChunkType discriminates a streamed Chunk.
type ChunkType string

// Recognized chunk types.
const (
	ChunkText     ChunkType = "text"
	ChunkThinking ChunkType = "thinking"
	ChunkToolUse  ChunkType = "tool_use"
	ChunkUsage    ChunkType = "usage"
	ChunkStop     ChunkType = "stop"
)

// Chunk is one streaming event from the model.
type Chunk struct {
	Type       ChunkType
	TextDelta  string
	ToolUse    *ToolUsePart
	Usage      *Usage
	StopReason string
}

// Streamer yields Chunks until the stream is exhausted.
type Streamer interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// ErrStreamDone signals a clean end of stream from Streamer.Next.
var ErrStreamDone = errors.New("modeladapter: stream done")

// ErrStreamingUnsupported is returned by Stream when a provider adapter
// only implements Complete.
var ErrStreamingUnsupported = errors.New("modeladapter: streaming not supported")

// Adapter is the provider-agnostic model contract every concrete provider
// package (openai, anthropic, bedrock, gemini) implements.
type Adapter interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Streamer, error)
}
