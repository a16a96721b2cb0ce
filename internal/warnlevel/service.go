package warnlevel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/i474232898/warnlevel-sync/internal/observability"
)

// DefaultStaleThreshold is the refresh policy: at most one sync per day.
const DefaultStaleThreshold = 24 * time.Hour

// SyncOutcome describes what a SyncIfStale call did.
type SyncOutcome string

const (
	OutcomeSynced SyncOutcome = "synced"
	OutcomeFresh  SyncOutcome = "fresh"
	OutcomeBusy   SyncOutcome = "busy"
	OutcomeFailed SyncOutcome = "failed"
)

// Status is the externally visible state of the committed snapshot.
type Status struct {
	SnapshotMeta
	Stale     bool          `json:"stale"`
	Threshold time.Duration `json:"-"`
}

// Option configures a Service.
type Option func(*Service)

// WithStaleThreshold overrides DefaultStaleThreshold. Non-positive values are ignored.
func WithStaleThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// WithNotifier sets the notifier signalled after each committed snapshot.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// Service orchestrates fetching the dataset and committing it to the store.
type Service struct {
	store     Store
	fetcher   Fetcher
	notifier  Notifier
	threshold time.Duration

	// inflight admits a single sync at a time; contenders do not wait.
	inflight *semaphore.Weighted
}

// NewService creates a new Service.
func NewService(store Store, fetcher Fetcher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		fetcher:   fetcher,
		threshold: DefaultStaleThreshold,
		inflight:  semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SyncIfStale refreshes the snapshot when it is older than the stale threshold.
// If another sync is already running the call returns OutcomeBusy at once.
// Failures are returned as *SyncError and leave the committed snapshot,
// including its fetch time, untouched.
func (s *Service) SyncIfStale(ctx context.Context, now time.Time) (SyncOutcome, error) {
	if !s.inflight.TryAcquire(1) {
		observability.SyncTotal.WithLabelValues(string(OutcomeBusy)).Inc()
		return OutcomeBusy, nil
	}
	defer s.inflight.Release(1)

	if !s.store.IsStale(now, s.threshold) {
		observability.SyncTotal.WithLabelValues(string(OutcomeFresh)).Inc()
		return OutcomeFresh, nil
	}

	if err := s.sync(ctx); err != nil {
		var serr *SyncError
		if errors.As(err, &serr) {
			observability.SyncTotal.WithLabelValues(serr.Category()).Inc()
		}
		return OutcomeFailed, err
	}

	observability.SyncTotal.WithLabelValues(string(OutcomeSynced)).Inc()
	return OutcomeSynced, nil
}

func (s *Service) sync(ctx context.Context) (err error) {
	syncID := uuid.NewString()
	logger := log.With().Str("sync_id", syncID).Logger()

	stage := StageFetch
	start := time.Now()
	defer func() {
		observability.SyncDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("stage", string(stage)).Msg("sync: recovered from panic")
			err = &SyncError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	logger.Info().Msg("sync: fetching dataset")
	dataset, err := s.fetcher.Fetch(ctx)
	if err != nil {
		serr := &SyncError{Stage: StageFetch, Err: err}
		logger.Warn().Err(err).Str("category", serr.Category()).Msg("sync: fetch failed; keeping current snapshot")
		return serr
	}

	records := BuildRecords(dataset.Regions)
	if dups := len(dataset.Regions) - len(records); dups > 0 {
		logger.Debug().Int("duplicates", dups).Msg("sync: duplicate keys resolved last-write-wins")
	}

	// Once downloaded, a dataset is committed even if the caller has gone away.
	commitCtx := context.WithoutCancel(ctx)

	stage = StageStore
	if err := s.store.ReplaceAll(commitCtx, records, dataset.PublishedAt); err != nil {
		if !errors.Is(err, ErrPersist) {
			err = NewPersistError(err)
		}
		logger.Error().Err(err).Msg("sync: commit failed; keeping current snapshot")
		return &SyncError{Stage: StageStore, Err: err}
	}

	meta := s.store.Meta()
	observability.SnapshotRecords.Set(float64(meta.Count))
	observability.SnapshotDatasetTimestamp.Set(float64(meta.DatasetAsOf.Unix()))
	observability.SnapshotFetchedTimestamp.Set(float64(meta.FetchedAt.Unix()))

	logger.Info().
		Int("records", meta.Count).
		Time("dataset_as_of", meta.DatasetAsOf).
		Dur("took", time.Since(start)).
		Msg("sync: snapshot committed")

	s.notify(commitCtx, logger, SnapshotEvent{
		SyncID:      syncID,
		DatasetAsOf: meta.DatasetAsOf,
		FetchedAt:   meta.FetchedAt,
		Count:       meta.Count,
	})
	return nil
}

// notify signals a committed snapshot. The commit already happened, so
// notifier errors and panics are logged only.
func (s *Service) notify(ctx context.Context, logger zerolog.Logger, ev SnapshotEvent) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("sync: notifier panicked")
		}
	}()

	if err := s.notifier.Publish(ctx, ev); err != nil {
		logger.Warn().Err(err).Msg("sync: notify failed")
	}
}

// OnAppearOrTick is the host trigger: a view appearing or a timer firing.
func (s *Service) OnAppearOrTick(ctx context.Context, now time.Time) {
	outcome, err := s.SyncIfStale(ctx, now)
	if err != nil {
		var serr *SyncError
		category := "unknown"
		if errors.As(err, &serr) {
			category = serr.Category()
		}
		log.Warn().Err(err).Str("category", category).Msg("could not refresh warning levels")
		return
	}
	log.Debug().Str("outcome", string(outcome)).Msg("refresh check done")
}

// Lookup returns the record for key from the committed snapshot.
func (s *Service) Lookup(key string) (Record, bool) {
	if key == "" {
		return Record{}, false
	}
	return s.store.Lookup(key)
}

// LevelFor returns the level for key, or LevelUnknown when there is none.
func (s *Service) LevelFor(key string) Level {
	r, ok := s.Lookup(key)
	if !ok || r.Level == "" {
		return LevelUnknown
	}
	return r.Level
}

// Regions returns all records of the committed snapshot sorted by name.
func (s *Service) Regions() []Record {
	return s.store.Regions()
}

// Status reports the committed snapshot's metadata and staleness at now.
func (s *Service) Status(now time.Time) Status {
	return Status{
		SnapshotMeta: s.store.Meta(),
		Stale:        s.store.IsStale(now, s.threshold),
		Threshold:    s.threshold,
	}
}
