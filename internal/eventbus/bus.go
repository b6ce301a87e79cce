package eventbus

import (
	"log"
	"sync"

	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// HighWaterMark is the default per-subscriber queue depth above which the
// bus drops the subscriber rather than block the publisher loop.
const HighWaterMark = 256

// OverflowFunc is invoked (if set) when a subscriber is dropped for
// exceeding its queue's high-water mark.
type OverflowFunc func(subscriberID uint64)

// Subscription is an in-order lazy sequence of events matching a Filter,
// buffered up to the bus's high-water mark; a subscriber whose buffer is
// full when an event arrives is dropped. Events() is safe to range over
// until the subscription is closed (by the caller via Close, or by the bus
// on backpressure eviction).
type Subscription struct {
	id     uint64
	bus    *Bus
	filter Filter
	ch     chan wire.Event
	once   sync.Once
}

// Events returns the channel of matching events. The channel is closed when
// the subscription is torn down.
func (s *Subscription) Events() <-chan wire.Event { return s.ch }

// Close unsubscribes and reclaims the subscriber's queue.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.remove(s.id) })
}

// Bus is the broadcast fan-out of parsed events to filtered subscribers.
type Bus struct {
	mu          sync.RWMutex
	subs        map[uint64]*Subscription
	nextID      uint64
	highWater   int
	onOverflow  OverflowFunc
	logger      *log.Logger
}

// New creates an empty Bus. highWater <= 0 uses HighWaterMark.
func New(highWater int, onOverflow OverflowFunc, logger *log.Logger) *Bus {
	if highWater <= 0 {
		highWater = HighWaterMark
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		subs:       make(map[uint64]*Subscription),
		highWater:  highWater,
		onOverflow: onOverflow,
		logger:     logger,
	}
}

// Subscribe registers a new Subscription matching filter. A nil filter
// matches every event.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	if filter == nil {
		filter = Any()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		bus:    b,
		filter: filter,
		ch:     make(chan wire.Event, b.highWater),
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish delivers ev to every subscriber whose filter matches. A
// subscriber whose queue is already full is dropped with a
// subscriberOverflow signal rather than blocking this call.
func (b *Bus) Publish(ev wire.Event) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter(ev) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
		default:
			b.logger.Printf("eventbus: subscriber %d overflowed, dropping", s.id)
			b.remove(s.id)
			if b.onOverflow != nil {
				b.onOverflow(s.id)
			}
		}
	}
}

// Close tears down every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
