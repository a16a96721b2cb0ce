// Package notify delivers "snapshot replaced" signals to presentation layers.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
)

const subscriberBuffer = 8

// Broker fans events out to in-process subscribers. A subscriber that is not
// keeping up misses events; Publish never blocks on it.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan warnlevel.SnapshotEvent
	closed bool
}

var _ warnlevel.Notifier = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan warnlevel.SnapshotEvent)}
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes
// the channel; it is safe to call more than once.
func (b *Broker) Subscribe() (<-chan warnlevel.SnapshotEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan warnlevel.SnapshotEvent, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Broker) Publish(_ context.Context, ev warnlevel.SnapshotEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Int("subscriber", id).Msg("notify: subscriber lagging; event dropped")
		}
	}
	return nil
}

// Close disconnects all subscribers.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Len returns the number of active subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Multi publishes to every notifier and joins their errors.
type Multi []warnlevel.Notifier

func (m Multi) Publish(ctx context.Context, ev warnlevel.SnapshotEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
