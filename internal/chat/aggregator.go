package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pliu/nwitter/internal/feed"
	"github.com/pliu/nwitter/internal/metrics"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/store"
	"go.uber.org/zap"
)

type State int

const (
	Unknown State = iota
	Checking
	Settled
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Settled:
		return "settled"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unknown":
		*s = Unknown
	case "checking":
		*s = Checking
	case "settled":
		*s = Settled
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Status is the viewer's aggregate unread state. HasUnread is only
// meaningful when State is Settled.
type Status struct {
	State     State `json:"state"`
	HasUnread bool  `json:"has_unread"`
}

// Mode selects which messages of a conversation the unread check looks at.
type Mode int

const (
	LatestOnly Mode = iota
	FullHistory
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "latest":
		return LatestOnly, nil
	case "full":
		return FullHistory, nil
	}
	return 0, fmt.Errorf("unknown aggregator mode %q", s)
}

var ErrAlreadyStarted = errors.New("aggregator already started")

// Aggregator keeps a single unread indicator for one viewer across all of
// their conversations. Only its own goroutine changes the status; other
// goroutines read it through Status or Subscribe.
type Aggregator struct {
	store   store.Store
	broker  *feed.Broker
	eval    *Evaluator
	metrics *metrics.Metrics
	log     *zap.Logger

	mu      sync.RWMutex
	status  Status
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[chan Status]struct{}
}

func NewAggregator(st store.Store, broker *feed.Broker, mode Mode, m *metrics.Metrics, log *zap.Logger) *Aggregator {
	return &Aggregator{
		store:   st,
		broker:  broker,
		eval:    NewEvaluator(st, mode, m),
		metrics: m,
		log:     log,
		subs:    make(map[chan Status]struct{}),
	}
}

func (a *Aggregator) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Subscribe returns a channel holding the current status, then the latest
// status after every change. A slow reader only misses intermediate
// values. The channel is closed when the aggregator stops or cancel is
// called.
func (a *Aggregator) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- a.status
	a.subs[ch] = struct{}{}
	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.subs[ch]; ok {
			delete(a.subs, ch)
			close(ch)
		}
	}
}

// Start subscribes to viewer's conversations. An aggregator runs for one
// viewer once; it stops when ctx is done or Stop is called.
func (a *Aggregator) Start(ctx context.Context, viewer string) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.run(ctx, viewer)
	return nil
}

// Stop tears down every subscription and returns the status to Unknown.
// It is safe to call more than once, and before Start.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	if !a.started {
		a.started = true
		a.closeSubs()
	}
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *Aggregator) set(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == s {
		return
	}
	a.status = s
	if s.State == Settled {
		a.metrics.Settled(s.HasUnread)
	}
	// Only set sends, under mu, so each send finds an empty slot.
	for ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// closeSubs ends every subscription. a.mu must be held.
func (a *Aggregator) closeSubs() {
	a.closed = true
	for ch := range a.subs {
		close(ch)
	}
	a.subs = nil
}

type conversation struct {
	id       string
	cancel   context.CancelFunc
	sub      *store.Subscription[check]
	want     int
	reported bool
	unread   bool
}

// check is the result of one unread fetch. Fetches of a conversation are
// numbered so a late result of an older fetch can be told apart.
type check struct {
	seq    int
	unread bool
}

// event is either a notice that fetch seq of a conversation has started,
// or the result of a fetch.
type event struct {
	conv    *conversation
	pending bool
	seq     int
	snap    store.Snapshot[check]
}

func (a *Aggregator) run(ctx context.Context, viewer string) {
	defer close(a.done)
	a.set(Status{State: Checking})

	events := make(chan event)
	convs := make(map[string]*conversation)
	roomsReported := false

	rooms := store.Watch(ctx, a.broker, func(ctx context.Context) ([]models.ChatRoom, error) {
		return a.store.ListRoomsForUser(ctx, viewer)
	}, feed.RoomsTopic(viewer))

	defer func() {
		rooms.Close()
		for _, c := range convs {
			c.cancel()
			c.sub.Close()
		}
		a.set(Status{State: Unknown})
		a.mu.Lock()
		a.closeSubs()
		a.mu.Unlock()
	}()

	watch := func(id string) *conversation {
		cctx, cancel := context.WithCancel(ctx)
		c := &conversation{id: id, cancel: cancel}
		seq := 0
		c.sub = store.Watch(cctx, a.broker, func(fctx context.Context) (check, error) {
			seq++
			select {
			case events <- event{conv: c, pending: true, seq: seq}:
			case <-fctx.Done():
				return check{seq: seq}, fctx.Err()
			}
			unread, err := a.eval.conversationUnread(fctx, viewer, id)
			return check{seq: seq, unread: unread}, err
		}, feed.MessagesTopic(id))
		go func() {
			for snap := range c.sub.C() {
				select {
				case events <- event{conv: c, snap: snap}:
				case <-cctx.Done():
					return
				}
			}
		}()
		return c
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-rooms.C():
			if !ok {
				return
			}
			if snap.Err != nil {
				a.log.Warn("conversation list refresh failed", zap.String("viewer", viewer), zap.Error(snap.Err))
				continue
			}
			roomsReported = true
			seen := make(map[string]bool, len(snap.Value))
			for _, r := range snap.Value {
				seen[r.ID] = true
				if convs[r.ID] == nil {
					convs[r.ID] = watch(r.ID)
				}
			}
			for id, c := range convs {
				if !seen[id] {
					c.cancel()
					c.sub.Close()
					delete(convs, id)
				}
			}
		case ev := <-events:
			if convs[ev.conv.id] != ev.conv {
				continue // from a conversation that has since been dropped
			}
			c := ev.conv
			switch {
			case ev.pending:
				c.want = ev.seq
				c.reported = false
			case ev.snap.Value.seq != c.want:
				// Superseded by a fetch that has already started.
			case ev.snap.Err != nil:
				a.log.Warn("unread check failed", zap.String("conversation_id", c.id), zap.Error(ev.snap.Err))
			default:
				c.reported = true
				c.unread = ev.snap.Value.unread
			}
		}
		a.set(aggregate(roomsReported, convs))
	}
}

func aggregate(roomsReported bool, convs map[string]*conversation) Status {
	if !roomsReported {
		return Status{State: Checking}
	}
	unread := false
	for _, c := range convs {
		if !c.reported {
			return Status{State: Checking}
		}
		unread = unread || c.unread
	}
	return Status{State: Settled, HasUnread: unread}
}
