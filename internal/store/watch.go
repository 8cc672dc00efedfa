package store

import (
	"context"

	"github.com/pliu/nwitter/internal/feed"
)

// Snapshot is one delivery of a watched query: the full result set, or the
// error the refetch failed with.
type Snapshot[T any] struct {
	Value T
	Err   error
}

// Subscription re-delivers a query's result whenever one of its topics
// changes. Deliveries are ordered; a consumer that falls behind only sees
// the newest snapshot.
type Subscription[T any] struct {
	c      chan Snapshot[T]
	cancel context.CancelFunc
	done   chan struct{}
}

// Watch runs fetch once immediately and again after every change on topics.
// The subscription ends when ctx is done or Close is called.
func Watch[T any](ctx context.Context, b *feed.Broker, fetch func(context.Context) (T, error), topics ...string) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		c:      make(chan Snapshot[T], 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l := b.Subscribe(topics...)
	go s.run(ctx, l, fetch)
	return s
}

// C yields snapshots. It is closed once the subscription has ended.
func (s *Subscription[T]) C() <-chan Snapshot[T] { return s.c }

// Done is closed once the subscription has ended.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Close disposes the subscription and waits for its goroutine to exit. No
// snapshot is delivered after Close returns. Close is idempotent.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription[T]) run(ctx context.Context, l *feed.Listener, fetch func(context.Context) (T, error)) {
	defer close(s.done)
	defer close(s.c)
	defer l.Close()

	if !s.deliver(ctx, fetch) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-l.C:
			if !ok {
				return
			}
			if !s.deliver(ctx, fetch) {
				return
			}
		}
	}
}

func (s *Subscription[T]) deliver(ctx context.Context, fetch func(context.Context) (T, error)) bool {
	v, err := fetch(ctx)
	if ctx.Err() != nil {
		return false
	}
	// Replace a snapshot the consumer has not read yet.
	select {
	case <-s.c:
	default:
	}
	select {
	case s.c <- Snapshot[T]{Value: v, Err: err}:
		return true
	case <-ctx.Done():
		return false
	}
}
