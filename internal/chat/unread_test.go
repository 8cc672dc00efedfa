package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/retry"
	"github.com/pliu/nwitter/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHasUnread(t *testing.T) {
	own := msg("m1", "c1", "a", t0)
	read := msg("m2", "c1", "b", t0, "a")
	unread := msg("m3", "c1", "b", t0)

	assert.False(t, HasUnread("a", nil))
	assert.False(t, HasUnread("a", []models.Message{own, read}))
	assert.True(t, HasUnread("a", []models.Message{own, read, unread}))
	assert.False(t, HasUnread("b", []models.Message{unread}), "own messages are never unread")
}

func TestMarkConversationReadIsIdempotent(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	room := env.room(t, "a", "b")
	env.send(t, "b", room.ID, "hello")
	env.send(t, "b", room.ID, "there")
	env.send(t, "a", room.ID, "hi")

	marker := NewMarker(env.store, fastPolicy(), nil, zap.NewNop())
	n, err := marker.MarkConversationRead(ctx, "a", room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	before, err := env.store.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, HasUnread("a", before))

	n, err = marker.MarkConversationRead(ctx, "a", room.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	after, err := env.store.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMarkConversationReadRequiresParticipant(t *testing.T) {
	env := newEnv(t)
	room := env.room(t, "a", "b")
	env.send(t, "a", room.ID, "hello")

	marker := NewMarker(env.store, fastPolicy(), nil, zap.NewNop())
	_, err := marker.MarkConversationRead(context.Background(), "c", room.ID)
	assert.True(t, apperr.IsUnauthorized(err))

	msgs, _ := env.store.ListMessages(context.Background(), room.ID)
	assert.False(t, msgs[0].ReadByUser("c"))
}

// flakyStore fails AddReader with a transient error a fixed number of
// times per message.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    map[string]int
}

func (f *flakyStore) AddReader(ctx context.Context, messageID, userID string) (bool, error) {
	f.mu.Lock()
	f.calls[messageID]++
	n := f.calls[messageID]
	f.mu.Unlock()
	if n <= f.failures {
		return false, apperr.E(apperr.Transient, "test.AddReader", errors.New("database is locked"))
	}
	return f.Store.AddReader(ctx, messageID, userID)
}

func TestMarkConversationReadRetriesTransientFailures(t *testing.T) {
	env := newEnv(t)
	room := env.room(t, "a", "b")
	env.send(t, "b", room.ID, "hello")

	flaky := &flakyStore{Store: env.store, failures: 2, calls: map[string]int{}}
	marker := NewMarker(flaky, fastPolicy(), nil, zap.NewNop())
	n, err := marker.MarkConversationRead(context.Background(), "a", room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkConversationReadWarnsOnExhaustion(t *testing.T) {
	env := newEnv(t)
	room := env.room(t, "a", "b")
	m := env.send(t, "b", room.ID, "hello")

	flaky := &flakyStore{Store: env.store, failures: 100, calls: map[string]int{}}
	marker := NewMarker(flaky, fastPolicy(), nil, zap.NewNop())
	n, err := marker.MarkConversationRead(context.Background(), "a", room.ID)
	assert.Zero(t, n)

	var warning *MarkWarning
	require.ErrorAs(t, err, &warning)
	assert.Equal(t, []string{m.ID}, warning.Unmarked)
	assert.True(t, apperr.IsTransient(err))
	assert.Equal(t, fastPolicy().MaxAttempts, flaky.calls[m.ID])
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
}
