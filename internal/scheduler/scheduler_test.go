package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTrigger struct {
	calls chan time.Duration
}

func (t *countingTrigger) OnAppearOrTick(ctx context.Context, _ time.Time) {
	remaining := time.Duration(0)
	if deadline, ok := ctx.Deadline(); ok {
		remaining = time.Until(deadline)
	}
	t.calls <- remaining
}

func TestSchedulerTicksImmediatelyWithTimeout(t *testing.T) {
	trigger := &countingTrigger{calls: make(chan time.Duration, 4)}
	s := New(time.Hour, 5*time.Second, trigger)
	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case remaining := <-trigger.calls:
		assert.Greater(t, remaining, time.Duration(0))
		assert.LessOrEqual(t, remaining, 5*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not run at start")
	}
}
