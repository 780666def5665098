/*
Package notify delivers committed notification events to live subscribers.

PURPOSE:
  Maintains a process-local registry of userID -> live subscriptions and
  pushes committed Notification rows to them. The registry is a cache of
  "who to push to right now", NOT a source of truth: the durable
  notifications table is authoritative, and a client that reconnects with
  its last seen event id recovers anything it missed via backfill. Losing
  the registry on restart is therefore acceptable.

DELIVERY GUARANTEE:
  At-least-once, ordered per user by ascending id. Pushes that cannot be
  buffered are dropped (slow consumer); the client's reconnect backfill
  recovers them, and duplicates are harmless because the id doubles as an
  idempotency key.

SCALING NOTE:
  For multi-instance deployment, PublishMany is the single send-side seam:
  swap the direct call for a shared pub/sub topic feeding each process's
  local registry, or pin a user's stream to one instance. Out of scope
  here.

SEE ALSO:
  - trade/: workflows call PublishMany after commit
  - api/stream.go: bridges subscriptions to server-sent events
*/
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/card-market/market"
)

// DefaultHeartbeat keeps streams alive through idle-timeout proxies;
// shorter than typical load-balancer idle windows.
const DefaultHeartbeat = 25 * time.Second

// DefaultBackfillLimit bounds how many missed rows a reconnect replays.
const DefaultBackfillLimit = 10

// eventBuffer is the per-subscription channel capacity. A consumer that
// falls further behind than this loses pushes and recovers via backfill.
const eventBuffer = 32

// Event is one frame on a subscription stream. Heartbeat frames carry no
// notification.
type Event struct {
	Heartbeat    bool
	Notification market.Notification
}

// Subscription is one live consumer of a user's events.
type Subscription struct {
	userID string
	types  []market.NotificationType
	events chan Event
	done   chan struct{}
	// closed when the initial backfill has been written; tests and the
	// SSE handler can order live publishes after it.
	backfilled chan struct{}
	closeOnce  sync.Once
}

// Events is the stream of backfill, live, and heartbeat frames.
func (s *Subscription) Events() <-chan Event { return s.events }

// Backfilled is closed once the reconnect backfill has been enqueued.
func (s *Subscription) Backfilled() <-chan struct{} { return s.backfilled }

// SubscribeOptions tune a new subscription.
type SubscribeOptions struct {
	// LastEventID replays rows with id > LastEventID before live delivery.
	// Zero means no backfill.
	LastEventID   int64
	BackfillLimit int
	Types         []market.NotificationType
}

// Fanout is the process-local subscriber registry.
type Fanout struct {
	store     market.Store
	heartbeat time.Duration

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// New creates a fanout reading backfill and publish rows from store.
func New(store market.Store, heartbeat time.Duration) *Fanout {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Fanout{
		store:     store,
		heartbeat: heartbeat,
		subs:      make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a live subscription for userID. Backfill runs
// asynchronously and is enqueued before Backfilled() closes; a heartbeat
// goroutine runs until Unsubscribe.
func (f *Fanout) Subscribe(ctx context.Context, userID string, opts SubscribeOptions) *Subscription {
	sub := &Subscription{
		userID:     userID,
		types:      opts.Types,
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
		backfilled: make(chan struct{}),
	}

	f.mu.Lock()
	set, ok := f.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		f.subs[userID] = set
	}
	set[sub] = struct{}{}
	f.mu.Unlock()

	go f.backfill(ctx, sub, opts)
	go f.heartbeatLoop(sub)

	return sub
}

func (f *Fanout) backfill(ctx context.Context, sub *Subscription, opts SubscribeOptions) {
	defer close(sub.backfilled)

	if opts.LastEventID <= 0 {
		return
	}
	limit := opts.BackfillLimit
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}

	rows, err := f.store.NotificationsSince(ctx, sub.userID, opts.LastEventID, limit, opts.Types)
	if err != nil {
		// Backfill failure is not a stream-termination reason; the client
		// keeps its cursor and can reconnect.
		log.Printf("[Fanout] backfill for %s failed: %v", sub.userID, err)
		return
	}
	for _, n := range rows {
		sub.push(Event{Notification: n})
	}
}

func (f *Fanout) heartbeatLoop(sub *Subscription) {
	ticker := time.NewTicker(f.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			sub.push(Event{Heartbeat: true})
		}
	}
}

// wants reports whether the subscription's type filter admits t. An empty
// filter admits everything.
func (s *Subscription) wants(t market.NotificationType) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, want := range s.types {
		if want == t {
			return true
		}
	}
	return false
}

// push enqueues without blocking; a full buffer drops the frame.
func (s *Subscription) push(ev Event) {
	select {
	case <-s.done:
	case s.events <- ev:
	default:
	}
}

// Unsubscribe deregisters the subscription; a user with no remaining
// connections is removed from the registry entirely.
func (f *Fanout) Unsubscribe(sub *Subscription) {
	sub.closeOnce.Do(func() { close(sub.done) })

	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[sub.userID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(f.subs, sub.userID)
	}
}

// Subscribers reports how many live connections a user has.
func (f *Fanout) Subscribers(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[userID])
}

// PublishMany loads the committed rows by id and pushes each to every live
// connection of its owning user. Called only after the business
// transaction commits; failures are logged, never propagated.
func (f *Fanout) PublishMany(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	rows, err := f.store.NotificationsByID(ctx, ids)
	if err != nil {
		log.Printf("[Fanout] publish load failed: %v", err)
		return
	}

	f.mu.Lock()
	targets := make([]*Subscription, 0)
	events := make(map[*Subscription][]Event)
	for _, n := range rows {
		for sub := range f.subs[n.UserID] {
			if !sub.wants(n.Type) {
				continue
			}
			if _, seen := events[sub]; !seen {
				targets = append(targets, sub)
			}
			events[sub] = append(events[sub], Event{Notification: n})
		}
	}
	f.mu.Unlock()

	for _, sub := range targets {
		for _, ev := range events[sub] {
			sub.push(ev)
		}
	}
}
