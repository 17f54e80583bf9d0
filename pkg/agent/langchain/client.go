// Package langchain implements agent.LLMClient over langchaingo, the
// fallback entry in the model-attempt chain §4.9 builds, tried when the
// primary provider's stream fails before emitting any output.
package langchain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/chatbridge/core/pkg/agent"
)

// Client adapts langchaingo's non-streaming-callback GenerateContent into
// agent.LLMClient's channel-of-Chunk shape.
type Client struct {
	model llms.Model
}

// New builds a Client backed by langchaingo's Anthropic provider,
// configured independently from pkg/agent/anthropic.Client so the fallback
// doesn't share the primary's exhausted quota or API key.
func New(model, apiKey, baseURL string) (*Client, error) {
	opts := []anthropic.Option{anthropic.WithToken(apiKey), anthropic.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("construct langchaingo anthropic client: %w", err)
	}
	return &Client{model: llm}, nil
}

func (c *Client) Close() error { return nil }

// Generate runs one non-streaming-under-the-hood call, forwarding each
// streaming callback invocation as a TextChunk and the final response's
// tool calls (if any) as ToolCallChunks once GenerateContent returns.
func (c *Client) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	messages := toLangchainMessages(input.Messages)

	var tools []llms.Tool
	for _, tool := range input.Tools {
		tools = append(tools, toLangchainTool(tool))
	}

	out := make(chan agent.Chunk, 16)
	go func() {
		defer close(out)

		callOpts := []llms.CallOption{
			llms.WithTools(tools),
			llms.WithStreamingFunc(func(innerCtx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				if !sendChunk(innerCtx, out, &agent.TextChunk{Content: string(chunk)}) {
					return context.Canceled
				}
				return nil
			}),
		}

		resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			sendChunk(ctx, out, &agent.ErrorChunk{Message: err.Error(), Retryable: true})
			return
		}

		for _, choice := range resp.Choices {
			for _, tc := range choice.ToolCalls {
				args := ""
				if tc.FunctionCall != nil {
					args = tc.FunctionCall.Arguments
				}
				name := ""
				if tc.FunctionCall != nil {
					name = tc.FunctionCall.Name
				}
				if !sendChunk(ctx, out, &agent.ToolCallChunk{CallID: tc.ID, Name: name, Arguments: args}) {
					return
				}
			}
		}
	}()
	return out, nil
}

func toLangchainMessages(msgs []agent.ConversationMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case agent.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))
		case agent.RoleAssistant:
			parts := make([]llms.ContentPart, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, llms.TextContent{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:           tc.ID,
					FunctionCall: &llms.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case agent.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: msg.ToolCallID,
					Name:       msg.ToolName,
					Content:    msg.Content,
				}},
			})
		default:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		}
	}
	return out
}

func toLangchainTool(tool agent.ToolDefinition) llms.Tool {
	var schema interface{}
	if tool.ParametersSchema != "" {
		_ = json.Unmarshal([]byte(tool.ParametersSchema), &schema)
	}
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		},
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
