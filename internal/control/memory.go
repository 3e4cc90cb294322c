package control

import (
	"context"
	"sync"
	"time"
)

// defaultSubscriberBuffer bounds how many undelivered messages a subscriber
// may accumulate before further broadcasts are dropped for it.
const defaultSubscriberBuffer = 8

// MemoryBus is an in-process Bus. Publishing never blocks: a subscriber whose
// buffer is full misses the message rather than stalling the publisher.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[chan Message]struct{}
	buffer int
	closed bool
}

// NewMemoryBus builds an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[chan Message]struct{}),
		buffer: defaultSubscriberBuffer,
	}
}

// Publish delivers msg to every current subscriber. A zero SentAt is stamped
// with the current time.
func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			// Subscriber buffer full; drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe registers a new subscriber.
func (b *MemoryBus) Subscribe(ctx context.Context) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	ch := make(chan Message, b.buffer)
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return &Subscription{C: ch, cancel: cancel}, nil
}

// Close detaches all subscribers and rejects further use of the bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}
