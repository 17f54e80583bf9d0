package agent

import (
	"context"
	"sync"
	"time"
)

// draftMinInterval and draftMaxChars implement §6's draft-streaming cadence:
// never more often than this interval, and never a draft longer than a
// single transport message (longer text is cut to draftMaxChars).
const (
	draftMinInterval = 180 * time.Millisecond
	draftMaxChars    = 4096
)

// DraftSink forwards a transport's optional "edit draft message" capability.
// SendDraft is called repeatedly with the accumulated text so far as a
// model response streams in.
type DraftSink interface {
	SendDraft(ctx context.Context, text string) error
}

// NoopDraftSink discards drafts; used for transports without draft support.
type NoopDraftSink struct{}

func (NoopDraftSink) SendDraft(ctx context.Context, text string) error { return nil }

// ThrottledDraftSink wraps a DraftSink so the executor can call SendDraft on
// every chunk without worrying about the interval/unchanged/length rules
// itself. The lock is not held across the inner send, so the type does not
// serialize concurrent callers; the executor calls it from its single
// stream loop, so its own sends never overlap.
type ThrottledDraftSink struct {
	inner DraftSink

	mu       sync.Mutex
	lastSent string
	lastAt   time.Time
}

func NewThrottledDraftSink(inner DraftSink) *ThrottledDraftSink {
	return &ThrottledDraftSink{inner: inner}
}

// SendDraft applies the cadence rules and forwards to inner when they allow
// it. A no-op return is not an error: the caller should keep streaming.
func (s *ThrottledDraftSink) SendDraft(ctx context.Context, text string) error {
	if len(text) > draftMaxChars {
		text = text[:draftMaxChars]
	}

	s.mu.Lock()
	if text == s.lastSent {
		s.mu.Unlock()
		return nil
	}
	if elapsed := time.Since(s.lastAt); elapsed < draftMinInterval && !s.lastAt.IsZero() {
		s.mu.Unlock()
		return nil
	}
	s.lastSent = text
	s.lastAt = time.Now()
	s.mu.Unlock()

	return s.inner.SendDraft(ctx, text)
}

// Flush forces the final accumulated text through regardless of the
// interval, so the draft never lags the true final state once streaming
// ends (the executor still sends the real final message afterward; this
// just keeps the visible draft from looking stale in the interim).
func (s *ThrottledDraftSink) Flush(ctx context.Context, text string) error {
	if len(text) > draftMaxChars {
		text = text[:draftMaxChars]
	}
	s.mu.Lock()
	if text == s.lastSent {
		s.mu.Unlock()
		return nil
	}
	s.lastSent = text
	s.lastAt = time.Now()
	s.mu.Unlock()
	return s.inner.SendDraft(ctx, text)
}
