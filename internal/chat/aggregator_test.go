package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// waitFor reads updates until one matches want.
func waitFor(t *testing.T, a *Aggregator, want Status) {
	t.Helper()
	updates, cancel := a.Subscribe()
	defer cancel()
	waitOn(t, a, updates, want)
}

func waitOn(t *testing.T, a *Aggregator, updates <-chan Status, want Status) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				require.Equal(t, want, a.Status())
				return
			}
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("status never became %+v, last %+v", want, a.Status())
		}
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("full")
	require.NoError(t, err)
	assert.Equal(t, FullHistory, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, LatestOnly, m)
	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}

func TestEvaluateScenario(t *testing.T) {
	for _, mode := range []Mode{LatestOnly, FullHistory} {
		env := newEnv(t)
		ctx := context.Background()
		unreadRoom := env.room(t, "a", "b")
		readRoom := env.room(t, "a", "c")
		env.send(t, "b", unreadRoom.ID, "are you there?")
		env.send(t, "c", readRoom.ID, "seen this")
		_, err := env.svc.MarkRead(ctx, "a", readRoom.ID)
		require.NoError(t, err)

		eval := NewEvaluator(env.store, mode, nil)
		unread, err := eval.Evaluate(ctx, "a")
		require.NoError(t, err)
		assert.True(t, unread, "mode %d", mode)

		_, err = env.svc.MarkRead(ctx, "a", unreadRoom.ID)
		require.NoError(t, err)
		unread, err = eval.Evaluate(ctx, "a")
		require.NoError(t, err)
		assert.False(t, unread, "mode %d", mode)
	}
}

func TestAggregatorFollowsChanges(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	unreadRoom := env.room(t, "a", "b")
	readRoom := env.room(t, "a", "c")
	env.send(t, "b", unreadRoom.ID, "hello")
	env.send(t, "a", readRoom.ID, "my own message")

	agg := NewAggregator(env.store, env.broker, LatestOnly, nil, zap.NewNop())
	assert.Equal(t, Status{State: Unknown}, agg.Status())
	require.NoError(t, agg.Start(ctx, "a"))
	defer agg.Stop()
	assert.ErrorIs(t, agg.Start(ctx, "a"), ErrAlreadyStarted)

	waitFor(t, agg, Status{State: Settled, HasUnread: true})

	_, err := env.svc.MarkRead(ctx, "a", unreadRoom.ID)
	require.NoError(t, err)
	waitFor(t, agg, Status{State: Settled, HasUnread: false})

	// A new message in a conversation the aggregator already follows.
	env.send(t, "c", readRoom.ID, "ping")
	waitFor(t, agg, Status{State: Settled, HasUnread: true})
	_, err = env.svc.MarkRead(ctx, "a", readRoom.ID)
	require.NoError(t, err)
	waitFor(t, agg, Status{State: Settled, HasUnread: false})

	updates, _ := agg.Subscribe()
	agg.Stop()
	agg.Stop()
	assert.Equal(t, Status{State: Unknown}, agg.Status())
	for range updates {
	}
}

func TestAggregatorFansOutToEverySubscriber(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	room := env.room(t, "a", "b")

	agg := NewAggregator(env.store, env.broker, LatestOnly, nil, zap.NewNop())
	first, cancelFirst := agg.Subscribe()
	second, cancelSecond := agg.Subscribe()
	defer cancelSecond()
	require.NoError(t, agg.Start(ctx, "a"))
	defer agg.Stop()

	waitOn(t, agg, first, Status{State: Settled, HasUnread: false})
	waitOn(t, agg, second, Status{State: Settled, HasUnread: false})

	env.send(t, "b", room.ID, "both tabs should see this")
	waitOn(t, agg, first, Status{State: Settled, HasUnread: true})
	waitOn(t, agg, second, Status{State: Settled, HasUnread: true})

	// A cancelled subscription is closed and no longer fed.
	cancelFirst()
	cancelFirst()
	for range first {
	}
	_, err := env.svc.MarkRead(ctx, "a", room.ID)
	require.NoError(t, err)
	waitOn(t, agg, second, Status{State: Settled, HasUnread: false})
}

func TestAggregatorPicksUpNewConversations(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	agg := NewAggregator(env.store, env.broker, FullHistory, nil, zap.NewNop())
	require.NoError(t, agg.Start(ctx, "a"))
	defer agg.Stop()

	// No conversations at all settles to false right away.
	waitFor(t, agg, Status{State: Settled, HasUnread: false})

	room := env.room(t, "b", "a")
	env.send(t, "b", room.ID, "new conversation")
	waitFor(t, agg, Status{State: Settled, HasUnread: true})
}

func TestAggregatorStopsWithContext(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	agg := NewAggregator(env.store, env.broker, LatestOnly, nil, zap.NewNop())
	require.NoError(t, agg.Start(ctx, "a"))
	waitFor(t, agg, Status{State: Settled, HasUnread: false})

	cancel()
	waitFor(t, agg, Status{State: Unknown})
	agg.Stop()
}

func TestStopBeforeStart(t *testing.T) {
	agg := NewAggregator(nil, nil, LatestOnly, nil, zap.NewNop())
	agg.Stop()
	updates, cancel := agg.Subscribe()
	defer cancel()
	_, ok := <-updates
	assert.False(t, ok)
	assert.ErrorIs(t, agg.Start(context.Background(), "a"), ErrAlreadyStarted)
}
