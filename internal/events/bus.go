// Package events provides the in-process domain event bus. Publishing
// is best-effort: correctness of the accounting engine never depends on
// a subscriber seeing an event.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"presale-engine/internal/domain"
)

// Event kinds.
const (
	KindPurchaseAccepted = "PurchaseAccepted"
	KindTokensClaimed    = "TokensClaimed"
)

// Event is one domain event published by the engine.
type Event struct {
	Kind          string
	WalletAddress string
	RoundID       string    // purchases only
	PurchaseID    string    // purchases only
	USDAmount     domain.USD
	Tokens        domain.Tokens // total tokens issued or claimed
	Timestamp     time.Time
}

// Bus fans events out to subscribers over buffered channels. Slow
// subscribers drop events rather than block the purchase path.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	dropped atomic.Int64
	closed  bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber and returns its channel. The channel
// is closed when the bus shuts down.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish sends the event to all subscribers without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded due to full buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
