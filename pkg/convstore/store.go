// Package convstore implements the Conversation Store (C10): session and
// message CRUD over the (chat, user[, thread]) scoped ConvSession schema,
// with the bounded-history load the Agent Turn Executor uses to build a
// model request.
package convstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chatbridge/core/ent"
	"github.com/chatbridge/core/ent/convsession"
	"github.com/chatbridge/core/ent/message"
	"github.com/chatbridge/core/pkg/agent"
	"github.com/google/uuid"
)

// ErrNotFound mirrors the teacher's services-package sentinel for a missing
// row.
var ErrNotFound = fmt.Errorf("conversation not found")

// defaultHistoryLimit is the "80 most-recent oldest-first" bound from
// §4.10; no summarization is attempted past this window (an explicit
// simplification, not an oversight).
const defaultHistoryLimit = 80

// Store implements agent.ConversationStore plus the session lookup/creation
// operations the router needs before a turn can run.
type Store struct {
	client *ent.Client
}

// New creates a Store.
func New(client *ent.Client) *Store {
	return &Store{client: client}
}

// GetOrCreateSession finds the (chat_id, user_id, thread_id) session or
// creates one. threadID may be empty for chats without forum topics.
func (s *Store) GetOrCreateSession(ctx context.Context, chatID, userID, threadID string) (*ent.ConvSession, error) {
	query := s.client.ConvSession.Query().
		Where(convsession.ChatID(chatID), convsession.UserID(userID))
	if threadID == "" {
		query = query.Where(convsession.ThreadIDIsNil())
	} else {
		query = query.Where(convsession.ThreadID(threadID))
	}

	existing, err := query.Only(ctx)
	if err == nil {
		return existing, nil
	}
	if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("query session: %w", err)
	}

	builder := s.client.ConvSession.Create().
		SetID(uuid.NewString()).
		SetChatID(chatID).
		SetUserID(userID)
	if threadID != "" {
		builder = builder.SetThreadID(threadID)
	}

	created, err := builder.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			// Lost a create race; the winner's row is the one to use.
			return query.Only(ctx)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

// GetOrCreateSessionID is GetOrCreateSession narrowed to the session id, so
// callers that only need to stamp a turn request (e.g. the router) don't
// have to depend on the generated ent type.
func (s *Store) GetOrCreateSessionID(ctx context.Context, chatID, userID, threadID string) (string, error) {
	sess, err := s.GetOrCreateSession(ctx, chatID, userID, threadID)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*ent.ConvSession, error) {
	sess, err := s.client.ConvSession.Get(ctx, sessionID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return sess, nil
}

// ChatIDForSession is GetSession narrowed to the owning chat id, for
// callers (e.g. the transport package's approval-card notifier) that only
// need to route a notification, not the full session row.
func (s *Store) ChatIDForSession(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.ChatID, nil
}

// LoadRecentMessages returns the most recent defaultHistoryLimit messages
// for a session, oldest first, per §4.10's bounded-load simplification.
func (s *Store) LoadRecentMessages(ctx context.Context, sessionID string) ([]agent.StoredMessage, error) {
	rows, err := s.client.Message.Query().
		Where(message.SessionID(sessionID)).
		Order(ent.Desc(message.FieldCreatedAt)).
		Limit(defaultHistoryLimit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load messages for session %s: %w", sessionID, err)
	}

	out := make([]agent.StoredMessage, len(rows))
	for i, row := range rows {
		// rows come back newest-first; place them oldest-first.
		dst := len(rows) - 1 - i
		out[dst] = agent.StoredMessage{
			ID:        row.ID,
			Role:      string(row.Role),
			Parts:     agent.PartsFromMaps(row.Parts),
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

// AppendMessage persists a new message for sessionID.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role string, parts []agent.Part, correlationID string) (agent.StoredMessage, error) {
	builder := s.client.Message.Create().
		SetID(uuid.NewString()).
		SetSessionID(sessionID).
		SetRole(message.Role(role)).
		SetParts(agent.PartsToMaps(parts))
	if correlationID != "" {
		builder = builder.SetCorrelationID(correlationID)
	}

	row, err := builder.Save(ctx)
	if err != nil {
		return agent.StoredMessage{}, fmt.Errorf("append message to session %s: %w", sessionID, err)
	}
	return agent.StoredMessage{ID: row.ID, Role: string(row.Role), Parts: parts, CreatedAt: row.CreatedAt}, nil
}

// TouchLastMessageAt bumps a session's last_message_at to now, so idle-
// session cleanup and "active chats" listings reflect real activity.
func (s *Store) TouchLastMessageAt(ctx context.Context, sessionID string) error {
	n, err := s.client.ConvSession.Update().
		Where(convsession.ID(sessionID)).
		SetLastMessageAt(time.Now()).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOlderThan hard-deletes sessions (and, via the edge's cascade in the
// generated schema's FK, their messages/approvals) whose last activity is
// older than cutoff — the conversation-retention counterpart to
// updatestore's 30-day sweep.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.client.ConvSession.Delete().
		Where(convsession.LastMessageAtLT(cutoff)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	return n, nil
}
