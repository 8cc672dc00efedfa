package chat

import (
	"context"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/metrics"
	"github.com/pliu/nwitter/internal/store"
)

// Evaluator answers the unread question for a viewer on demand, straight
// from the store.
type Evaluator struct {
	store   store.Store
	mode    Mode
	metrics *metrics.Metrics
}

func NewEvaluator(st store.Store, mode Mode, m *metrics.Metrics) *Evaluator {
	return &Evaluator{store: st, mode: mode, metrics: m}
}

func (e *Evaluator) conversationUnread(ctx context.Context, viewer, conversationID string) (bool, error) {
	if e.mode == FullHistory {
		msgs, err := e.store.ListMessages(ctx, conversationID)
		if err != nil {
			return false, err
		}
		return HasUnread(viewer, msgs), nil
	}
	m, err := e.store.LatestMessage(ctx, conversationID)
	if apperr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return IsUnreadBy(viewer, m), nil
}

// Evaluate computes a settled unread flag for viewer without subscribing
// to anything.
func (e *Evaluator) Evaluate(ctx context.Context, viewer string) (bool, error) {
	rooms, err := e.store.ListRoomsForUser(ctx, viewer)
	if err != nil {
		return false, err
	}
	unread := false
	for _, r := range rooms {
		u, err := e.conversationUnread(ctx, viewer, r.ID)
		if err != nil {
			return false, err
		}
		if u {
			unread = true
			break
		}
	}
	e.metrics.Settled(unread)
	return unread, nil
}
