package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/metrics"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/retry"
	"github.com/pliu/nwitter/internal/store"
	"go.uber.org/zap"
)

// IsUnreadBy reports whether m counts as unread for viewer.
func IsUnreadBy(viewer string, m *models.Message) bool {
	return m.SenderID != viewer && !m.ReadByUser(viewer)
}

// HasUnread reports whether any message is unread for viewer.
func HasUnread(viewer string, msgs []models.Message) bool {
	for i := range msgs {
		if IsUnreadBy(viewer, &msgs[i]) {
			return true
		}
	}
	return false
}

// MarkWarning is returned when some messages could not be marked read
// after every retry. Messages not listed were marked.
type MarkWarning struct {
	ConversationID string
	Unmarked       []string
	Err            error
}

func (w *MarkWarning) Error() string {
	return fmt.Sprintf("conversation %s: %d message(s) left unread: %s: %v",
		w.ConversationID, len(w.Unmarked), strings.Join(w.Unmarked, ","), w.Err)
}

func (w *MarkWarning) Unwrap() error { return w.Err }

// Marker adds viewers to the read sets of a conversation's messages.
type Marker struct {
	store   store.Store
	policy  retry.Policy
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewMarker(st store.Store, policy retry.Policy, m *metrics.Metrics, log *zap.Logger) *Marker {
	return &Marker{store: st, policy: policy, metrics: m, log: log}
}

// MarkConversationRead adds viewer to every message of the conversation
// that does not list it yet, and returns how many messages changed. Each
// add is a set union, so running it again changes nothing. Transient
// failures are retried; if some still fail the result is a *MarkWarning.
func (mk *Marker) MarkConversationRead(ctx context.Context, viewer, conversationID string) (int, error) {
	const op = "chat.MarkConversationRead"
	var room *models.ChatRoom
	err := retry.Do(ctx, mk.policy, func(ctx context.Context) error {
		var err error
		room, err = mk.store.GetRoom(ctx, conversationID)
		return err
	}, mk.observe(op))
	if err != nil {
		return 0, err
	}
	if !room.HasParticipant(viewer) {
		return 0, apperr.Errorf(apperr.Unauthorized, op, "%s is not a participant", viewer)
	}

	var msgs []models.Message
	err = retry.Do(ctx, mk.policy, func(ctx context.Context) error {
		var err error
		msgs, err = mk.store.ListMessages(ctx, conversationID)
		return err
	}, mk.observe(op))
	if err != nil {
		return 0, err
	}

	marked := 0
	var unmarked []string
	var lastErr error
	for i := range msgs {
		m := &msgs[i]
		if m.ReadByUser(viewer) {
			continue
		}
		var added bool
		err := retry.Do(ctx, mk.policy, func(ctx context.Context) error {
			var err error
			added, err = mk.store.AddReader(ctx, m.ID, viewer)
			return err
		}, mk.observe(op))
		switch {
		case err == nil:
			if added {
				marked++
			}
		case apperr.IsNotFound(err):
			// Deleted by its sender since the list was read.
		case apperr.IsTransient(err):
			unmarked = append(unmarked, m.ID)
			lastErr = err
		default:
			return marked, err
		}
	}

	if len(unmarked) > 0 {
		w := &MarkWarning{ConversationID: conversationID, Unmarked: unmarked, Err: lastErr}
		mk.log.Warn("could not mark messages read",
			zap.String("conversation_id", conversationID),
			zap.String("viewer", viewer),
			zap.Strings("unmarked", unmarked),
			zap.Error(lastErr))
		return marked, w
	}
	return marked, nil
}

func (mk *Marker) observe(op string) retry.Observer {
	return func(attempt int, err error) {
		mk.metrics.Retry(op)
		mk.log.Debug("retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
}
