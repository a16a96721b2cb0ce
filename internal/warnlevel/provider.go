package warnlevel

import (
	"context"
	"time"
)

// Fetcher abstracts the remote dataset source. Errors are *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context) (RawDataset, error)
}

// Store is the contract the snapshot store must satisfy.
type Store interface {
	// ReplaceAll installs records as the new snapshot. Errors are *StoreError
	// and leave the previous snapshot untouched.
	ReplaceAll(ctx context.Context, records []Record, asOf time.Time) error
	Lookup(key string) (Record, bool)
	IsStale(now time.Time, threshold time.Duration) bool
	Meta() SnapshotMeta
	Regions() []Record
}

// Notifier receives a signal after each committed snapshot.
type Notifier interface {
	Publish(ctx context.Context, ev SnapshotEvent) error
}
