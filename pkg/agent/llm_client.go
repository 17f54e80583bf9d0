package agent

import "context"

// ProviderConfig is the subset of a model provider's configuration the
// executor needs to pick an SDK client and request format; the full
// registry (YAML-loaded, validated) lives in pkg/config and hands these out
// keyed by model id.
type ProviderConfig struct {
	Type      string // "anthropic", "langchain", ...
	Model     string
	APIKeyEnv string
	BaseURL   string
}

// LLMClient is implemented once per provider (anthropic-sdk-go primary,
// langchaingo fallback). Generate streams a single response to completion or
// failure; callers read chunks until the channel closes.
type LLMClient interface {
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
	Close() error
}

// GenerateInput is one model call: the conversation so far plus the tool
// definitions available this turn.
type GenerateInput struct {
	CorrelationID string
	SessionID     string
	Messages      []ConversationMessage
	Tools         []ToolDefinition
	Provider      *ProviderConfig
}

// ConversationMessage is the provider-agnostic message shape Generate
// consumes; Parts-based persistence (see types.go) is flattened into this
// before a call and rebuilt from the response afterward.
type ConversationMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string
}

// ToolCall is a single invocation the model asked for.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Chunk is one streamed piece of a model response. Concrete types implement
// chunkType() so callers can type-switch without reflection.
type Chunk interface {
	chunkType() ChunkType
}

type ChunkType string

const (
	ChunkTypeText          ChunkType = "text"
	ChunkTypeThinking      ChunkType = "thinking"
	ChunkTypeToolCall      ChunkType = "tool_call"
	ChunkTypeCodeExecution ChunkType = "code_execution"
	ChunkTypeGrounding     ChunkType = "grounding"
	ChunkTypeUsage         ChunkType = "usage"
	ChunkTypeError         ChunkType = "error"
)

type TextChunk struct{ Content string }
type ThinkingChunk struct{ Content string }
type ToolCallChunk struct{ CallID, Name, Arguments string }
type CodeExecutionChunk struct{ Code, Result string }

type GroundingChunk struct {
	WebSearchQueries     []string
	Sources              []GroundingSource
	Supports             []GroundingSupport
	SearchEntryPointHTML string
}

type GroundingSource struct{ URI, Title string }

type GroundingSupport struct {
	StartIndex, EndIndex  int
	Text                  string
	GroundingChunkIndices []int
}

type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens, ThinkingTokens int }

type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType          { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType      { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType      { return ChunkTypeToolCall }
func (c *CodeExecutionChunk) chunkType() ChunkType { return ChunkTypeCodeExecution }
func (c *GroundingChunk) chunkType() ChunkType     { return ChunkTypeGrounding }
func (c *UsageChunk) chunkType() ChunkType         { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType         { return ChunkTypeError }
