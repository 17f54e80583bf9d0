package langchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/chatbridge/core/pkg/agent"
)

func TestToLangchainMessages_System(t *testing.T) {
	out := toLangchainMessages([]agent.ConversationMessage{{Role: agent.RoleSystem, Content: "be nice"}})
	require.Len(t, out, 1)
	assert.Equal(t, llms.ChatMessageTypeSystem, out[0].Role)
}

func TestToLangchainMessages_User(t *testing.T) {
	out := toLangchainMessages([]agent.ConversationMessage{{Role: agent.RoleUser, Content: "hi"}})
	require.Len(t, out, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, out[0].Role)
}

func TestToLangchainMessages_AssistantWithToolCall(t *testing.T) {
	out := toLangchainMessages([]agent.ConversationMessage{{
		Role:    agent.RoleAssistant,
		Content: "checking",
		ToolCalls: []agent.ToolCall{
			{ID: "call_1", Name: "lookup", Arguments: `{"q":"x"}`},
		},
	}})
	require.Len(t, out, 1)
	assert.Equal(t, llms.ChatMessageTypeAI, out[0].Role)
	// one text part plus one tool-call part.
	assert.Len(t, out[0].Parts, 2)
}

func TestToLangchainMessages_ToolResult(t *testing.T) {
	out := toLangchainMessages([]agent.ConversationMessage{{
		Role:       agent.RoleTool,
		ToolCallID: "call_1",
		ToolName:   "lookup",
		Content:    `{"ok":true}`,
	}})
	require.Len(t, out, 1)
	assert.Equal(t, llms.ChatMessageTypeTool, out[0].Role)
}

func TestToLangchainTool_ParsesSchema(t *testing.T) {
	tool := toLangchainTool(agent.ToolDefinition{
		Name:             "lookup",
		Description:      "looks something up",
		ParametersSchema: `{"type":"object"}`,
	})
	assert.Equal(t, "function", tool.Type)
	require.NotNil(t, tool.Function)
	assert.Equal(t, "lookup", tool.Function.Name)
	assert.NotNil(t, tool.Function.Parameters)
}

func TestToLangchainTool_EmptySchema(t *testing.T) {
	tool := toLangchainTool(agent.ToolDefinition{Name: "noop", Description: "does nothing"})
	require.NotNil(t, tool.Function)
	assert.Nil(t, tool.Function.Parameters)
}
