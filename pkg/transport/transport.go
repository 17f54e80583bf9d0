// Package transport defines the chat-transport boundary (§6): the set of
// capabilities the core consumes from whatever chat platform is wired in,
// and the text-chunking rule every implementation must apply before
// handing text to the platform's message-size limit.
package transport

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsupported is returned by an optional capability (draft streaming,
// forum topics) an implementation does not back. Callers fall back to a
// no-op per §6 ("optional; if unsupported the executor uses a no-op
// sink").
var ErrUnsupported = errors.New("transport: capability not supported")

// MaxMessageLength is the chunking window from §6.
const MaxMessageLength = 4096

// SendTextOptions carries the optional per-send parameters §6 names.
type SendTextOptions struct {
	ThreadID         string
	ReplyToMessageID string
	ParseMode        string
}

// Button is one element of a keyboard row; CallbackData is the opaque
// payload the Router's callback grammar later parses.
type Button struct {
	Text         string
	CallbackData string
}

// Keyboard is a grid of buttons attached to a message.
type Keyboard struct {
	Rows [][]Button
}

// Transport is the chat-platform boundary the core consumes (§6). An
// implementation backs as many methods as the platform supports;
// unsupported optional methods return ErrUnsupported.
type Transport interface {
	// SendText sends a plain message. If the platform reports the given
	// thread was not found, implementations retry once without it rather
	// than surface the error (§6's fallback contract).
	SendText(ctx context.Context, chatID, text string, opts SendTextOptions) error

	// EditText replaces a previously-sent message's content. Idempotent:
	// an "unchanged"/"not modified" response is treated as success.
	EditText(ctx context.Context, chatID, messageID, text string, keyboard *Keyboard) error

	// SendMessageWithKeyboard posts a message with attached buttons and
	// returns the platform message id, used to persist
	// Approval.prompt_message_id.
	SendMessageWithKeyboard(ctx context.Context, chatID, text string, keyboard Keyboard, opts SendTextOptions) (messageID string, err error)

	// SendDraft pushes an in-progress streaming update for draftID.
	// Optional: returns ErrUnsupported if the platform has no live-edit
	// concept to back it.
	SendDraft(ctx context.Context, chatID, draftID, text string, opts SendTextOptions) error

	// CreateForumTopic and EditForumTopic back topic auto-create. Optional.
	CreateForumTopic(ctx context.Context, chatID, name string) (threadID string, err error)
	EditForumTopic(ctx context.Context, chatID, threadID, name string) error

	// AnswerCallback acknowledges a button tap so the platform stops
	// showing a loading state on it.
	AnswerCallback(ctx context.Context, callbackID string) error
}

// DraftSink adapts a Transport into the per-chat agent.DraftSink shape
// (a bare SendDraft(ctx, text)) the executor's ThrottledDraftSink wraps,
// so wiring code doesn't need its own adapter type per transport.
type DraftSink struct {
	Transport Transport
	ChatID    string
	DraftID   string
}

func (s DraftSink) SendDraft(ctx context.Context, text string) error {
	if err := s.Transport.SendDraft(ctx, s.ChatID, s.DraftID, text, SendTextOptions{}); err != nil {
		if errors.Is(err, ErrUnsupported) {
			return nil
		}
		return err
	}
	return nil
}

// ChunkText splits text into pieces no longer than MaxMessageLength,
// breaking at the last newline or space within the window, per §6. A
// window with no newline or space is cut hard at MaxMessageLength. Each
// returned chunk is non-empty after trimming.
func ChunkText(text string) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= MaxMessageLength {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
			break
		}

		window := text[:MaxMessageLength]
		cut := strings.LastIndexAny(window, "\n ")
		if cut <= 0 {
			cut = MaxMessageLength
		}

		if trimmed := strings.TrimSpace(text[:cut]); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		text = text[cut:]
	}
	return chunks
}
