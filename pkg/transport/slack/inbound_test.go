package slack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInboundUpdate_MessageEvent(t *testing.T) {
	raw := map[string]interface{}{
		"event": map[string]interface{}{
			"channel":      "C123",
			"user":         "U456",
			"text":         "hello there",
			"thread_ts":    "1700000000.000100",
			"channel_type": "channel",
		},
	}

	upd, err := DecodeInboundUpdate(raw)
	require.NoError(t, err)
	assert.Equal(t, "C123", upd.ChatID)
	assert.Equal(t, "U456", upd.UserID)
	assert.Equal(t, "hello there", upd.Text)
	assert.Equal(t, "1700000000.000100", upd.ThreadID)
	assert.False(t, upd.IsPrivateChat)
}

func TestDecodeInboundUpdate_DirectMessageEvent(t *testing.T) {
	raw := map[string]interface{}{
		"event": map[string]interface{}{
			"channel":      "D789",
			"user":         "U456",
			"text":         "hi",
			"channel_type": "im",
		},
	}

	upd, err := DecodeInboundUpdate(raw)
	require.NoError(t, err)
	assert.True(t, upd.IsPrivateChat)
}

func TestDecodeInboundUpdate_MessageEventMissingFields(t *testing.T) {
	raw := map[string]interface{}{
		"event": map[string]interface{}{
			"text": "no channel or user",
		},
	}

	_, err := DecodeInboundUpdate(raw)
	assert.Error(t, err)
}

func TestDecodeInboundUpdate_InteractiveCallback(t *testing.T) {
	raw := map[string]interface{}{
		"user":    map[string]interface{}{"id": "U456"},
		"channel": map[string]interface{}{"id": "C123"},
		"actions": []interface{}{
			map[string]interface{}{"value": "approval:approve:tok-1"},
		},
	}

	upd, err := DecodeInboundUpdate(raw)
	require.NoError(t, err)
	assert.Equal(t, "C123", upd.ChatID)
	assert.Equal(t, "U456", upd.UserID)
	assert.Equal(t, "approval:approve:tok-1", upd.CallbackData)
	assert.Empty(t, upd.Text)
}

func TestDecodeInboundUpdate_InteractiveMissingChannel(t *testing.T) {
	raw := map[string]interface{}{
		"user": map[string]interface{}{"id": "U456"},
		"actions": []interface{}{
			map[string]interface{}{"value": "x"},
		},
	}

	_, err := DecodeInboundUpdate(raw)
	assert.Error(t, err)
}

func TestDecodeInboundUpdate_UnrecognizedShape(t *testing.T) {
	_, err := DecodeInboundUpdate(map[string]interface{}{"type": "url_verification"})
	assert.Error(t, err)
}

func TestDecodeInboundUpdate_EmptyActionsFallsThroughToEvent(t *testing.T) {
	raw := map[string]interface{}{
		"actions": []interface{}{},
		"event": map[string]interface{}{
			"channel": "C1",
			"user":    "U1",
			"text":    "hi",
		},
	}

	upd, err := DecodeInboundUpdate(raw)
	require.NoError(t, err)
	assert.Equal(t, "C1", upd.ChatID)
}
