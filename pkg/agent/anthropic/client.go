// Package anthropic implements agent.LLMClient over anthropic-sdk-go, the
// primary provider in the model-attempt chain §4.9 builds.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chatbridge/core/pkg/agent"
)

const defaultMaxTokens = 4096

// Client adapts anthropic-sdk-go's streaming Messages API to
// agent.LLMClient. One Client is created per model id the provider
// registry names; Generate is safe for concurrent use since the
// underlying SDK client is.
type Client struct {
	sdk   sdk.Client
	model string
}

// New creates a Client for model, authenticating with apiKey. baseURL
// overrides the default API endpoint when non-empty (used for
// self-hosted gateways in front of the real API).
func New(model, apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

func (c *Client) Close() error { return nil }

// Generate streams one model response. The returned channel is closed
// when the stream ends, whether by completion or error; a terminal
// ErrorChunk precedes the close on failure.
func (c *Client) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: defaultMaxTokens,
	}

	var system string
	for _, msg := range input.Messages {
		if msg.Role == agent.RoleSystem {
			system = msg.Content
			continue
		}
		params.Messages = append(params.Messages, toSDKMessage(msg))
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	for _, tool := range input.Tools {
		params.Tools = append(params.Tools, toSDKTool(tool))
	}

	stream := c.sdk.Messages.NewStreaming(ctx, params)

	out := make(chan agent.Chunk, 16)
	go func() {
		defer close(out)
		pump(ctx, stream, out)
	}()
	return out, nil
}

// messageStream is the narrow slice of *ssestream.Stream[sdk.MessageStreamEventUnion]
// pump actually uses, named locally so this file doesn't have to spell out
// the SDK's generic streaming type at every call site.
type messageStream interface {
	Next() bool
	Current() sdk.MessageStreamEventUnion
	Err() error
}

func toSDKMessage(msg agent.ConversationMessage) sdk.MessageParam {
	switch msg.Role {
	case agent.RoleAssistant:
		if len(msg.ToolCalls) > 0 {
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input interface{}
				_ = json.Unmarshal([]byte(tc.Arguments), &input)
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			return sdk.NewAssistantMessage(blocks...)
		}
		return sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content))
	case agent.RoleTool:
		return sdk.NewUserMessage(sdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
	default:
		return sdk.NewUserMessage(sdk.NewTextBlock(msg.Content))
	}
}

func toSDKTool(tool agent.ToolDefinition) sdk.ToolUnionParam {
	var schema interface{}
	if tool.ParametersSchema != "" {
		_ = json.Unmarshal([]byte(tool.ParametersSchema), &schema)
	}
	return sdk.ToolUnionParam{
		OfTool: &sdk.ToolParam{
			Name:        tool.Name,
			Description: sdk.String(tool.Description),
			InputSchema: sdk.ToolInputSchemaParam{Properties: schema},
		},
	}
}

// pump drains the SDK's event stream, accumulating per-content-block
// tool-call JSON by index (the API may stream multiple content blocks
// concurrently) and forwarding text/tool-call/usage/error chunks.
func pump(ctx context.Context, stream messageStream, out chan<- agent.Chunk) {
	type toolAccum struct {
		id, name string
		input    strings.Builder
	}
	tools := map[int64]*toolAccum{}

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				tools[ev.Index] = &toolAccum{id: tu.ID, name: tu.Name}
			}

		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !sendChunk(ctx, out, &agent.TextChunk{Content: delta.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				if t, ok := tools[ev.Index]; ok {
					t.input.WriteString(delta.PartialJSON)
				}
			}

		case sdk.ContentBlockStopEvent:
			if t, ok := tools[ev.Index]; ok {
				if !sendChunk(ctx, out, &agent.ToolCallChunk{CallID: t.id, Name: t.name, Arguments: t.input.String()}) {
					return
				}
				delete(tools, ev.Index)
			}

		case sdk.MessageDeltaEvent:
			if ev.Usage.OutputTokens > 0 {
				if !sendChunk(ctx, out, &agent.UsageChunk{OutputTokens: int(ev.Usage.OutputTokens)}) {
					return
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		sendChunk(ctx, out, &agent.ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)})
	}
}

func sendChunk(ctx context.Context, out chan<- agent.Chunk, c agent.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func isRetryable(err error) bool {
	var apiErr *sdk.Error
	if ok := asAPIError(err, &apiErr); ok {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func asAPIError(err error, target **sdk.Error) bool {
	apiErr, ok := err.(*sdk.Error)
	if ok {
		*target = apiErr
	}
	return ok
}
