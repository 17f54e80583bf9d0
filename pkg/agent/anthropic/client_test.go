package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/core/pkg/agent"
)

func TestToSDKMessage_PlainUserText(t *testing.T) {
	msg := toSDKMessage(agent.ConversationMessage{Role: agent.RoleUser, Content: "hello"})
	assert.Equal(t, sdk.MessageParamRoleUser, msg.Role)
}

func TestToSDKMessage_AssistantTextOnly(t *testing.T) {
	msg := toSDKMessage(agent.ConversationMessage{Role: agent.RoleAssistant, Content: "hi there"})
	assert.Equal(t, sdk.MessageParamRoleAssistant, msg.Role)
	require.Len(t, msg.Content, 1)
}

func TestToSDKMessage_AssistantWithToolCalls(t *testing.T) {
	msg := toSDKMessage(agent.ConversationMessage{
		Role:    agent.RoleAssistant,
		Content: "let me check",
		ToolCalls: []agent.ToolCall{
			{ID: "call_1", Name: "lookup", Arguments: `{"q":"weather"}`},
		},
	})
	assert.Equal(t, sdk.MessageParamRoleAssistant, msg.Role)
	// one text block plus one tool-use block per call.
	require.Len(t, msg.Content, 2)
}

func TestToSDKMessage_AssistantToolCallsNoText(t *testing.T) {
	msg := toSDKMessage(agent.ConversationMessage{
		Role: agent.RoleAssistant,
		ToolCalls: []agent.ToolCall{
			{ID: "call_1", Name: "lookup", Arguments: `{}`},
		},
	})
	require.Len(t, msg.Content, 1)
}

func TestToSDKMessage_ToolResult(t *testing.T) {
	msg := toSDKMessage(agent.ConversationMessage{
		Role:       agent.RoleTool,
		ToolCallID: "call_1",
		Content:    `{"ok":true}`,
	})
	assert.Equal(t, sdk.MessageParamRoleUser, msg.Role)
	require.Len(t, msg.Content, 1)
}

func TestToSDKTool_ValidSchema(t *testing.T) {
	tool := toSDKTool(agent.ToolDefinition{
		Name:             "lookup",
		Description:      "looks something up",
		ParametersSchema: `{"type":"object","properties":{"q":{"type":"string"}}}`,
	})
	require.NotNil(t, tool.OfTool)
	assert.Equal(t, "lookup", tool.OfTool.Name)
}

func TestToSDKTool_EmptySchema(t *testing.T) {
	tool := toSDKTool(agent.ToolDefinition{Name: "noop", Description: "does nothing"})
	require.NotNil(t, tool.OfTool)
	assert.Nil(t, tool.OfTool.InputSchema.Properties)
}

func TestIsRetryable_RateLimitAndServerErrors(t *testing.T) {
	assert.True(t, isRetryable(&sdk.Error{StatusCode: 429}))
	assert.True(t, isRetryable(&sdk.Error{StatusCode: 500}))
	assert.True(t, isRetryable(&sdk.Error{StatusCode: 503}))
}

func TestIsRetryable_ClientErrorsAreNotRetryable(t *testing.T) {
	assert.False(t, isRetryable(&sdk.Error{StatusCode: 400}))
	assert.False(t, isRetryable(&sdk.Error{StatusCode: 401}))
}

func TestIsRetryable_NonAPIError(t *testing.T) {
	assert.False(t, isRetryable(assert.AnError))
}
