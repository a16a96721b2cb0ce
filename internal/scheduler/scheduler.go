package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
)

// Trigger is what the scheduler calls on every tick.
type Trigger interface {
	OnAppearOrTick(ctx context.Context, now time.Time)
}

// Scheduler periodically asks the service to refresh the snapshot if it is due.
type Scheduler struct {
	scheduler *gocron.Scheduler
	trigger   Trigger
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler. timeout bounds a single tick.
func New(interval, timeout time.Duration, trigger Trigger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		trigger:   trigger,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first tick runs immediately.
func (s *Scheduler) Start() error {
	interval := s.interval
	if interval <= 0 {
		interval = time.Hour
	}

	_, err := s.scheduler.Every(interval).Do(s.tick)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	log.Info().Dur("interval", interval).Msg("scheduler: started")
	return nil
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log.Debug().Msg("scheduler: tick")
	s.trigger.OnAppearOrTick(ctx, time.Now())
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
