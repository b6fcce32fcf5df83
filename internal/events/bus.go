// Package events provides non-blocking fan-out of pipeline events to
// subscribers (the host UI layer, loggers, tests).
//
// Publish never blocks: when a subscriber's channel is full the event is
// dropped for that subscriber and counted in its stats. Latency matters more
// than completeness for screen guidance.
package events

import (
	"errors"
	"sync"
	"time"
)

// Type identifies an event on the bus.
type Type string

const (
	FrameProcessed     Type = "frame-processed"
	Insight            Type = "insight"
	InstantAction      Type = "instant-action"
	InstantError       Type = "instant-error"
	ShortcutDetected   Type = "shortcut-detected"
	PartialUpdate      Type = "partial-update"
	BudgetWarning      Type = "budget-warning"
	BudgetLow          Type = "budget-low"
	BudgetCritical     Type = "budget-critical"
	CostUpdate         Type = "cost-update"
	AutomationDetected Type = "automation-detected"
	CacheHit           Type = "cache-hit"
	CacheEvicted       Type = "cache-evicted"
	DailyReset         Type = "daily-reset"
	Error              Type = "error"
)

// Event is a single bus message. Payload shape depends on Type.
type Event struct {
	Type    Type
	Time    time.Time
	Payload any
}

// SubscriberStats tracks delivery counts for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

var (
	ErrBusClosed        = errors.New("event bus is closed")
	ErrSubscriberExists = errors.New("subscriber id already registered")
	ErrNilChannel       = errors.New("subscriber channel is nil")
)

type subscriber struct {
	ch    chan Event
	stats SubscriberStats
}

// Bus fans events out to registered subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers ch to receive all events under id. The caller owns the
// channel's buffer size; a full buffer drops, it never blocks Publish.
func (b *Bus) Subscribe(id string, ch chan Event) error {
	if ch == nil {
		return ErrNilChannel
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.subs[id]; ok {
		return ErrSubscriberExists
	}
	b.subs[id] = &subscriber{ch: ch}
	return nil
}

// Unsubscribe removes a subscriber. Its channel is not closed; the caller
// owns it.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
			sub.stats.Sent++
		default:
			sub.stats.Dropped++
		}
	}
}

// Emit is shorthand for publishing a typed payload now.
func (b *Bus) Emit(t Type, payload any) {
	b.Publish(Event{Type: t, Payload: payload})
}

// Stats returns a copy of per-subscriber delivery counters.
func (b *Bus) Stats() map[string]SubscriberStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]SubscriberStats, len(b.subs))
	for id, sub := range b.subs {
		out[id] = sub.stats
	}
	return out
}

// Close stops delivery. Subscriber channels remain open (caller-owned).
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]*subscriber)
}
