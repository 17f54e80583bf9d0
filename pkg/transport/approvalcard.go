package transport

import (
	"context"
	"fmt"
)

// SessionChatLookup resolves a session id to its owning chat id; satisfied
// by *convstore.Store via a thin method, kept narrow here so this package
// doesn't depend on convstore's generated ent type.
type SessionChatLookup interface {
	ChatIDForSession(ctx context.Context, sessionID string) (string, error)
}

// CardNotifier implements approval.Notifier by editing the approval's
// prompt message through a Transport. The approval engine only knows a
// session id, not the chat it belongs to, so this bridges through
// SessionChatLookup.
type CardNotifier struct {
	Transport Transport
	Sessions  SessionChatLookup
}

func (n CardNotifier) EditApprovalCard(ctx context.Context, sessionID, messageID, text string) error {
	chatID, err := n.Sessions.ChatIDForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resolve chat for session %s: %w", sessionID, err)
	}
	if messageID == "" {
		return n.Transport.SendText(ctx, chatID, text, SendTextOptions{})
	}
	return n.Transport.EditText(ctx, chatID, messageID, text, nil)
}
