// Package noop provides a Transport that discards everything, matching
// §9's no-op DraftSink note generalized to the whole interface — useful
// for local development and for any transport that has nothing behind
// the optional capabilities.
package noop

import (
	"context"

	"github.com/chatbridge/core/pkg/transport"
)

// Transport implements transport.Transport by doing nothing; every method
// succeeds except CreateForumTopic, which returns transport.ErrUnsupported.
// SendMessageWithKeyboard returns a synthetic id so callers that
// persist it (e.g. Approval.prompt_message_id) have something stable to
// store.
type Transport struct{}

var _ transport.Transport = Transport{}

func (Transport) SendText(ctx context.Context, chatID, text string, opts transport.SendTextOptions) error {
	return nil
}

func (Transport) EditText(ctx context.Context, chatID, messageID, text string, keyboard *transport.Keyboard) error {
	return nil
}

func (Transport) SendMessageWithKeyboard(ctx context.Context, chatID, text string, keyboard transport.Keyboard, opts transport.SendTextOptions) (string, error) {
	return "noop-message", nil
}

func (Transport) SendDraft(ctx context.Context, chatID, draftID, text string, opts transport.SendTextOptions) error {
	return nil
}

func (Transport) CreateForumTopic(ctx context.Context, chatID, name string) (string, error) {
	return "", transport.ErrUnsupported
}

func (Transport) EditForumTopic(ctx context.Context, chatID, threadID, name string) error {
	return nil
}

func (Transport) AnswerCallback(ctx context.Context, callbackID string) error {
	return nil
}
