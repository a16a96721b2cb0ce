package store

import (
	"context"
	"sync"

	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
)

// MemoryBackend is a concurrency-safe, non-durable Backend. The snapshot is
// lost when the process exits.
type MemoryBackend struct {
	mu   sync.RWMutex
	snap *warnlevel.Snapshot
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load returns a copy of the saved snapshot, or nil if none was saved.
func (b *MemoryBackend) Load(_ context.Context) (*warnlevel.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.snap == nil {
		return nil, nil
	}
	return cloneSnapshot(b.snap), nil
}

// Save replaces the saved snapshot with a copy of snap.
func (b *MemoryBackend) Save(ctx context.Context, snap *warnlevel.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clone := cloneSnapshot(snap)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap = clone
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

func cloneSnapshot(snap *warnlevel.Snapshot) *warnlevel.Snapshot {
	records := make([]warnlevel.Record, len(snap.Records))
	copy(records, snap.Records)
	return &warnlevel.Snapshot{
		Records:     records,
		DatasetAsOf: snap.DatasetAsOf,
		FetchedAt:   snap.FetchedAt,
	}
}
