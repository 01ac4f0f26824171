package pwm

import (
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 16

// Broker fans events out to per-pin subscribers. Publish never blocks: an
// event is dropped for a subscriber whose buffer is full.
type Broker struct {
	mu      sync.Mutex
	subs    map[uint8]map[chan Event]struct{}
	closed  bool
	dropped atomic.Uint64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uint8]map[chan Event]struct{})}
}

func (b *Broker) Subscribe(pin uint8) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	ch := make(chan Event, subscriberBuffer)
	if b.subs[pin] == nil {
		b.subs[pin] = make(map[chan Event]struct{})
	}
	b.subs[pin][ch] = struct{}{}
	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[pin][ch]; !ok {
				return
			}
			delete(b.subs[pin], ch)
			if len(b.subs[pin]) == 0 {
				delete(b.subs, pin)
			}
			close(ch)
		},
	}, nil
}

func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.Pin] {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Pins returns a bitmask of the pins that currently have subscribers.
func (b *Broker) Pins() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var bits uint32
	for pin := range b.subs {
		if pin < 32 {
			bits |= 1 << pin
		}
	}
	return bits
}

// Dropped is the number of events discarded because a subscriber lagged.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for pin, chans := range b.subs {
		for ch := range chans {
			close(ch)
		}
		delete(b.subs, pin)
	}
}
