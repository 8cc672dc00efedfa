package feed

import (
	"context"
	"sync"

	"github.com/pliu/nwitter/internal/metrics"
)

// Event announces that records behind Topic changed. Origin is empty for
// events published by this process and holds the remote instance id for
// events relayed from elsewhere.
type Event struct {
	Topic  string `json:"topic"`
	Origin string `json:"origin,omitempty"`
}

func RoomsTopic(userID string) string   { return "rooms:" + userID }
func MessagesTopic(roomID string) string { return "messages:" + roomID }
func PostTopic(postID string) string     { return "post:" + postID }
func UserTopic(userID string) string     { return "user:" + userID }

const PostsTopic = "posts"

// Listener receives a coalesced signal whenever any of its topics changes.
// C is closed when the listener is closed or the broker stops.
type Listener struct {
	C      <-chan struct{}
	c      chan struct{}
	topics []string
	broker *Broker
	once   sync.Once
}

// Close unregisters the listener. It is safe to call more than once.
func (l *Listener) Close() {
	l.once.Do(func() {
		select {
		case l.broker.unregister <- l:
		case <-l.broker.done:
		}
	})
}

type Broker struct {
	// Listeners per topic.
	topics map[string]map[*Listener]struct{}

	register   chan *Listener
	unregister chan *Listener
	publish    chan Event

	hooksMu sync.RWMutex
	hooks   []func(Event)

	done    chan struct{}
	metrics *metrics.Metrics
}

func NewBroker(m *metrics.Metrics) *Broker {
	return &Broker{
		topics:     make(map[string]map[*Listener]struct{}),
		register:   make(chan *Listener),
		unregister: make(chan *Listener),
		publish:    make(chan Event, 64),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// OnPublish registers fn to see every locally originated event. fn runs on
// the broker goroutine and must not block.
func (b *Broker) OnPublish(fn func(Event)) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.hooks = append(b.hooks, fn)
}

// Run dispatches events until ctx is done, then closes every listener.
func (b *Broker) Run(ctx context.Context) {
	defer func() {
		close(b.done)
		for _, ls := range b.topics {
			for l := range ls {
				b.drop(l)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case l := <-b.register:
			for _, t := range l.topics {
				if b.topics[t] == nil {
					b.topics[t] = make(map[*Listener]struct{})
				}
				b.topics[t][l] = struct{}{}
			}
			b.metrics.SubscriptionOpened()
		case l := <-b.unregister:
			b.drop(l)
		case ev := <-b.publish:
			b.metrics.Published()
			for l := range b.topics[ev.Topic] {
				select {
				case l.c <- struct{}{}:
				default:
					// A signal is already pending; the listener will refetch.
				}
			}
			if ev.Origin == "" {
				b.hooksMu.RLock()
				for _, fn := range b.hooks {
					fn(ev)
				}
				b.hooksMu.RUnlock()
			}
		}
	}
}

func (b *Broker) drop(l *Listener) {
	registered := false
	for _, t := range l.topics {
		if ls, ok := b.topics[t]; ok {
			if _, ok := ls[l]; ok {
				registered = true
				delete(ls, l)
			}
			if len(ls) == 0 {
				delete(b.topics, t)
			}
		}
	}
	if registered {
		close(l.c)
		b.metrics.SubscriptionClosed()
	}
}

// Subscribe registers a listener on topics. If the broker has stopped the
// returned listener is already closed.
func (b *Broker) Subscribe(topics ...string) *Listener {
	c := make(chan struct{}, 1)
	l := &Listener{C: c, c: c, topics: topics, broker: b}
	if len(topics) == 0 {
		close(c)
		return l
	}
	select {
	case b.register <- l:
	case <-b.done:
		close(c)
	}
	return l
}

// Publish announces changes on topics. It never blocks after the broker
// has stopped.
func (b *Broker) Publish(topics ...string) {
	for _, t := range topics {
		b.send(Event{Topic: t})
	}
}

// Deliver injects an event received from another instance.
func (b *Broker) Deliver(ev Event) {
	b.send(ev)
}

func (b *Broker) send(ev Event) {
	select {
	case b.publish <- ev:
	case <-b.done:
	}
}
