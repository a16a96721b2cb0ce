package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
)

// Backend persists snapshots. Save must be all-or-nothing: when it returns an
// error the previously saved snapshot is still the one Load returns.
type Backend interface {
	// Load returns the last saved snapshot, or nil if nothing was saved yet.
	Load(ctx context.Context) (*warnlevel.Snapshot, error)
	Save(ctx context.Context, snap *warnlevel.Snapshot) error
	Close() error
}

// committed is an immutable view of one snapshot. Readers load it through an
// atomic pointer and never observe a partially installed record set.
type committed struct {
	byKey  map[string]warnlevel.Record
	byName []warnlevel.Record
	meta   warnlevel.SnapshotMeta
}

func newCommitted(snap *warnlevel.Snapshot) *committed {
	byKey := lo.SliceToMap(snap.Records, func(r warnlevel.Record) (string, warnlevel.Record) {
		return r.Key, r
	})

	byName := make([]warnlevel.Record, len(snap.Records))
	copy(byName, snap.Records)
	sort.SliceStable(byName, func(i, j int) bool {
		if byName[i].Name == byName[j].Name {
			return byName[i].Key < byName[j].Key
		}
		return byName[i].Name < byName[j].Name
	})

	return &committed{
		byKey:  byKey,
		byName: byName,
		meta: warnlevel.SnapshotMeta{
			DatasetAsOf: snap.DatasetAsOf,
			FetchedAt:   snap.FetchedAt,
			Count:       len(byKey),
		},
	}
}

// Option configures a SnapshotStore.
type Option func(*SnapshotStore)

// WithClock sets the clock used to stamp fetchedAt on commit.
func WithClock(now func() time.Time) Option {
	return func(s *SnapshotStore) { s.now = now }
}

// SnapshotStore owns the current snapshot. Reads are lock-free; commits are
// serialized and swap the snapshot in a single pointer store after the
// backend has durably saved it.
type SnapshotStore struct {
	backend Backend
	now     func() time.Time

	commitMu sync.Mutex
	current  atomic.Pointer[committed]
}

var _ warnlevel.Store = (*SnapshotStore)(nil)

// Open creates a SnapshotStore and loads the last committed snapshot from
// backend. An empty backend yields an empty, stale store.
func Open(ctx context.Context, backend Backend, opts ...Option) (*SnapshotStore, error) {
	s := &SnapshotStore{
		backend: backend,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		snap = &warnlevel.Snapshot{}
	}
	s.current.Store(newCommitted(snap))

	log.Info().
		Int("records", len(snap.Records)).
		Time("dataset_as_of", snap.DatasetAsOf).
		Time("fetched_at", snap.FetchedAt).
		Msg("store: snapshot loaded")
	return s, nil
}

// ReplaceAll discards the current snapshot and installs records with
// datasetAsOf = asOf and fetchedAt = now. Duplicate keys resolve
// last-write-wins; records without a key are dropped since they can never be
// looked up. On a backend failure the previous snapshot stays in place and a
// *warnlevel.StoreError is returned.
func (s *SnapshotStore) ReplaceAll(ctx context.Context, records []warnlevel.Record, asOf time.Time) error {
	records = lo.Filter(warnlevel.Dedupe(records), func(r warnlevel.Record, _ int) bool {
		return r.Key != ""
	})

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	snap := &warnlevel.Snapshot{
		Records:     records,
		DatasetAsOf: asOf.UTC(),
		FetchedAt:   s.now().UTC(),
	}
	if err := s.backend.Save(ctx, snap); err != nil {
		return warnlevel.NewPersistError(err)
	}

	s.current.Store(newCommitted(snap))
	return nil
}

// Lookup returns the record for key. An empty key is never found.
func (s *SnapshotStore) Lookup(key string) (warnlevel.Record, bool) {
	if key == "" {
		return warnlevel.Record{}, false
	}
	r, ok := s.current.Load().byKey[key]
	return r, ok
}

// IsStale reports whether the snapshot was never fetched or was fetched at
// least threshold before now.
func (s *SnapshotStore) IsStale(now time.Time, threshold time.Duration) bool {
	fetchedAt := s.current.Load().meta.FetchedAt
	if fetchedAt.IsZero() {
		return true
	}
	return now.Sub(fetchedAt) >= threshold
}

func (s *SnapshotStore) Meta() warnlevel.SnapshotMeta {
	return s.current.Load().meta
}

// Regions returns a copy of all records sorted by name.
func (s *SnapshotStore) Regions() []warnlevel.Record {
	byName := s.current.Load().byName
	out := make([]warnlevel.Record, len(byName))
	copy(out, byName)
	return out
}

// Close releases the backend.
func (s *SnapshotStore) Close() error {
	return s.backend.Close()
}
