// Package slack implements the core's Transport interface over
// slack-go/slack as a thin wrapper: one goslack.Client, context-scoped
// calls, errors wrapped with the API method name.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chatbridge/core/pkg/transport"
	goslack "github.com/slack-go/slack"
)

const sendTimeout = 10 * time.Second

// Adapter backs transport.Transport with the Slack Web API. Message
// identity on Slack is the (channel, timestamp) pair; Adapter uses the
// timestamp alone as the opaque message id transport.Transport callers
// pass around, since the channel is already known from chatID.
type Adapter struct {
	api    *goslack.Client
	logger *slog.Logger

	draftsMu sync.Mutex
	drafts   map[string]string // draftID -> message timestamp, for in-place draft edits
}

// New creates an Adapter. token is a Slack bot token.
func New(token string) *Adapter {
	return &Adapter{
		api:    goslack.New(token),
		logger: slog.Default().With("component", "transport-slack"),
		drafts: make(map[string]string),
	}
}

// NewWithAPIURL targets a custom API URL; useful for testing against a
// mock server.
func NewWithAPIURL(token, apiURL string) *Adapter {
	a := New(token)
	a.api = goslack.New(token, goslack.OptionAPIURL(apiURL))
	return a
}

func (a *Adapter) SendText(ctx context.Context, chatID, text string, opts transport.SendTextOptions) error {
	for _, chunk := range transport.ChunkText(text) {
		if err := a.sendChunk(ctx, chatID, chunk, opts.ThreadID); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) sendChunk(ctx context.Context, chatID, text, threadTS string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msgOpts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if threadTS != "" {
		msgOpts = append(msgOpts, goslack.MsgOptionTS(threadTS))
	}

	_, _, err := a.api.PostMessageContext(ctx, chatID, msgOpts...)
	if err != nil && threadTS != "" && isThreadNotFound(err) {
		// §6 fallback contract: retry once without the thread.
		_, _, err = a.api.PostMessageContext(ctx, chatID, goslack.MsgOptionText(text, false))
	}
	if err != nil {
		return fmt.Errorf("chat.postMessage: %w", err)
	}
	return nil
}

func (a *Adapter) EditText(ctx context.Context, chatID, messageID, text string, keyboard *transport.Keyboard) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msgOpts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if keyboard != nil {
		msgOpts = append(msgOpts, goslack.MsgOptionBlocks(keyboardBlocks(text, *keyboard)...))
	}

	_, _, _, err := a.api.UpdateMessageContext(ctx, chatID, messageID, msgOpts...)
	if err != nil && isNotModified(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("chat.update: %w", err)
	}
	return nil
}

func (a *Adapter) SendMessageWithKeyboard(ctx context.Context, chatID, text string, keyboard transport.Keyboard, opts transport.SendTextOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msgOpts := []goslack.MsgOption{goslack.MsgOptionBlocks(keyboardBlocks(text, keyboard)...)}
	if opts.ThreadID != "" {
		msgOpts = append(msgOpts, goslack.MsgOptionTS(opts.ThreadID))
	}

	_, ts, err := a.api.PostMessageContext(ctx, chatID, msgOpts...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage: %w", err)
	}
	return ts, nil
}

// SendDraft keeps one message per draftID, posting it on first call and
// editing it in place afterward — the streaming-draft analogue of
// EditText, since Slack has no dedicated "draft" concept.
func (a *Adapter) SendDraft(ctx context.Context, chatID, draftID, text string, opts transport.SendTextOptions) error {
	a.draftsMu.Lock()
	ts, exists := a.drafts[draftID]
	a.draftsMu.Unlock()

	if exists {
		return a.EditText(ctx, chatID, ts, text, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msgOpts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if opts.ThreadID != "" {
		msgOpts = append(msgOpts, goslack.MsgOptionTS(opts.ThreadID))
	}
	_, newTS, err := a.api.PostMessageContext(ctx, chatID, msgOpts...)
	if err != nil {
		return fmt.Errorf("chat.postMessage (draft): %w", err)
	}

	a.draftsMu.Lock()
	a.drafts[draftID] = newTS
	a.draftsMu.Unlock()
	return nil
}

// CreateForumTopic and EditForumTopic are Telegram-forum concepts Slack
// has no equivalent for.
func (a *Adapter) CreateForumTopic(ctx context.Context, chatID, name string) (string, error) {
	return "", transport.ErrUnsupported
}

func (a *Adapter) EditForumTopic(ctx context.Context, chatID, threadID, name string) error {
	return transport.ErrUnsupported
}

// AnswerCallback is a no-op on Slack: interaction acks happen by
// returning a 200 from the interactivity HTTP endpoint itself, not
// through a separate Web API call.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string) error {
	return nil
}

// FindMessageByFingerprint searches recent channel history for a message
// containing fingerprint, for threading a follow-up onto an
// externally-originated message. It reads the last 24 hours of history,
// at most 5 pages of 200 messages.
func (a *Adapter) FindMessageByFingerprint(ctx context.Context, chatID, fingerprint string) (string, error) {
	oldest := fmt.Sprintf("%d", time.Now().Add(-24*time.Hour).Unix())
	needle := strings.ToLower(strings.Join(strings.Fields(fingerprint), " "))

	params := &goslack.GetConversationHistoryParameters{
		ChannelID: chatID,
		Oldest:    oldest,
		Limit:     200,
	}

	const maxPages = 5
	for page := 0; page < maxPages; page++ {
		history, err := a.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return "", fmt.Errorf("conversations.history: %w", err)
		}
		for _, msg := range history.Messages {
			haystack := strings.ToLower(strings.Join(strings.Fields(msg.Text), " "))
			if strings.Contains(haystack, needle) {
				return msg.Timestamp, nil
			}
		}
		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}
	return "", nil
}

func keyboardBlocks(text string, keyboard transport.Keyboard) []goslack.Block {
	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
	for _, row := range keyboard.Rows {
		var elements []goslack.BlockElement
		for _, btn := range row {
			el := goslack.NewButtonBlockElement(btn.CallbackData, btn.CallbackData,
				goslack.NewTextBlockObject(goslack.PlainTextType, btn.Text, false, false))
			elements = append(elements, el)
		}
		blocks = append(blocks, goslack.NewActionBlock("", elements...))
	}
	return blocks
}

func isThreadNotFound(err error) bool {
	return strings.Contains(err.Error(), "thread_not_found")
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "not_changed")
}
