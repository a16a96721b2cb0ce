package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	first, unsubFirst := b.Subscribe()
	second, unsubSecond := b.Subscribe()
	defer unsubFirst()
	defer unsubSecond()

	ev := warnlevel.SnapshotEvent{SyncID: "abc", Count: 2093, FetchedAt: time.Now()}
	require.NoError(t, b.Publish(context.Background(), ev))

	assert.Equal(t, ev, <-first)
	assert.Equal(t, ev, <-second)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	assert.Equal(t, 1, b.Len())

	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
	assert.NoError(t, b.Publish(context.Background(), warnlevel.SnapshotEvent{}))
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			_ = b.Publish(context.Background(), warnlevel.SnapshotEvent{Count: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()

	b.Close()
	_, ok := <-ch
	assert.False(t, ok)
	unsubscribe()

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed broker yields a closed channel")
}

type errNotifier struct{ err error }

func (n errNotifier) Publish(context.Context, warnlevel.SnapshotEvent) error { return n.err }

func TestMultiJoinsErrors(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	errA := errors.New("a down")
	m := Multi{errNotifier{errA}, nil, b}

	err := m.Publish(context.Background(), warnlevel.SnapshotEvent{SyncID: "x"})
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, "x", (<-ch).SyncID, "later notifiers still run")

	assert.NoError(t, Multi{b}.Publish(context.Background(), warnlevel.SnapshotEvent{}))
}
