// Package broadcast fans out position and presence updates to many live
// subscribers without backpressure on producers.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-data/inventory.report/internal/monitoring"
	"github.com/halcyon-data/inventory.report/internal/timeutil"
)

// SendFunc is the narrow per-subscriber delivery capability. The
// surrounding transport layer (SSE handler, socket writer, test stub)
// implements it; a non-nil error permanently removes the subscriber.
type SendFunc func(Event) error

// Config holds configuration for the broadcaster.
type Config struct {
	// Buffer is the per-subscriber event channel depth. A publish that
	// finds the buffer full drops that event for that subscriber; the
	// subscriber keeps its registration.
	Buffer int

	// SendTimeout is the delivery time budget per event. A send still in
	// flight when the budget expires is abandoned and the subscriber
	// removed.
	SendTimeout time.Duration

	// Clock drives timeout measurement; nil means the real clock.
	Clock timeutil.Clock
}

// DefaultConfig returns a default broadcaster configuration.
func DefaultConfig() Config {
	return Config{
		Buffer:      16,
		SendTimeout: 2 * time.Second,
		Clock:       timeutil.RealClock{},
	}
}

// subscriber is one live connection: a buffered event channel drained by
// a dedicated dispatch goroutine, so slow consumers never block Publish
// or each other.
type subscriber struct {
	id   string
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Broadcaster maintains the subscriber registry and dispatches events.
// The registry is the one structure under genuine concurrent read/write
// pressure: long-lived subscriber goroutines register and deregister
// while short-lived Publish calls iterate under a read lock.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber

	buffer      int
	sendTimeout time.Duration
	clock       timeutil.Clock

	published atomic.Uint64
	dropped   atomic.Uint64
	removed   atomic.Uint64

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New creates a broadcaster with the given configuration.
func New(cfg Config) *Broadcaster {
	if cfg.Buffer < 1 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		buffer:      cfg.Buffer,
		sendTimeout: cfg.SendTimeout,
		clock:       cfg.Clock,
	}
}

// Subscribe registers a live connection and returns its handle. Events
// published from now on are delivered through send, one at a time, until
// send fails, overruns the time budget, or Unsubscribe is called.
func (b *Broadcaster) Subscribe(send SendFunc) string {
	sub := &subscriber{
		id:   uuid.NewString(),
		ch:   make(chan Event, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	monitoring.Logf("[Broadcast] subscriber connected: %s (total: %d)", sub.id, count)

	b.wg.Add(1)
	go b.dispatchLoop(sub, send)
	return sub.id
}

// dispatchLoop delivers events to one subscriber. It owns the only call
// path into send, so delivery is at most once per published event.
//
// After Unsubscribe the done branch races any still-buffered events, so
// a departing subscriber may or may not see its remaining backlog.
// Delivery is best-effort either way.
func (b *Broadcaster) dispatchLoop(sub *subscriber, send SendFunc) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.ch:
			if !b.deliver(sub, send, ev) {
				b.remove(sub.id)
				return
			}
		}
	}
}

// deliver runs one send bounded by the configured budget. It reports
// false when the subscriber must be removed: the send failed, or the
// budget expired with the write still in flight. An abandoned write is
// left to finish on its own; nothing waits for it.
func (b *Broadcaster) deliver(sub *subscriber, send SendFunc, ev Event) bool {
	timeout := b.clock.After(b.sendTimeout)
	result := make(chan error, 1)
	go func() { result <- send(ev) }()

	select {
	case err := <-result:
		if err != nil {
			monitoring.Logf("[Broadcast] send failed for %s, removing: %v", sub.id, err)
			return false
		}
		return true
	case <-timeout:
		monitoring.Logf("[Broadcast] send exceeded the %v budget for %s, removing", b.sendTimeout, sub.id)
		return false
	case <-sub.done:
		return false
	}
}

// Unsubscribe removes a subscriber. Safe to call for unknown or already
// removed ids.
func (b *Broadcaster) Unsubscribe(id string) {
	b.remove(id)
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if !ok {
		return
	}
	sub.stop()
	b.removed.Add(1)
	monitoring.Logf("[Broadcast] subscriber removed: %s (remaining: %d)", id, count)
}

// Publish delivers an event to every currently healthy subscriber,
// best-effort and at most once each. It never blocks on subscribers: an
// event that finds a subscriber's buffer full is dropped for that
// subscriber only, who stays registered for later events.
func (b *Broadcaster) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		case <-sub.done:
			// Already stopping; skip.
		default:
			// Buffer full: drop this event for this subscriber.
			b.dropped.Add(1)
			monitoring.Logf("[Broadcast] subscriber %s backlogged, dropping event", id)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close stops all dispatch goroutines and empties the registry. Publish
// becomes a no-op afterwards.
func (b *Broadcaster) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.wg.Wait()
}

// Stats contains broadcaster counters for the monitor surface.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Removed     uint64 `json:"removed"`
	Subscribers int    `json:"subscribers"`
}

// Stats returns current broadcaster statistics.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Removed:     b.removed.Load(),
		Subscribers: b.SubscriberCount(),
	}
}
