package slack

import (
	"errors"
	"testing"

	"github.com/chatbridge/core/pkg/transport"
	"github.com/stretchr/testify/assert"
)

func TestIsThreadNotFound(t *testing.T) {
	assert.True(t, isThreadNotFound(errors.New("slack api: thread_not_found")))
	assert.False(t, isThreadNotFound(errors.New("slack api: channel_not_found")))
}

func TestIsNotModified(t *testing.T) {
	assert.True(t, isNotModified(errors.New("slack api: message_not_changed")))
	assert.False(t, isNotModified(errors.New("slack api: message_not_found")))
}

func TestKeyboardBlocks_OneBlockPerRowPlusText(t *testing.T) {
	kb := transport.Keyboard{Rows: [][]transport.Button{
		{{Text: "Approve", CallbackData: "ap:tok:approve"}, {Text: "Deny", CallbackData: "ap:tok:deny"}},
	}}
	blocks := keyboardBlocks("Approve this action?", kb)
	// one section block for the text, one action block for the row.
	assert.Len(t, blocks, 2)
}

func TestNewAdapterSatisfiesTransportInterface(t *testing.T) {
	var _ transport.Transport = New("xoxb-test")
}
