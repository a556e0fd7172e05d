// Package scheduler emits periodic refresh ticks on a cron schedule.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler signals refresh time over a channel. The cron callback never
// touches coordinator state itself; the goroutine owning the App receives
// the tick and dispatches the refresh, so collections stay single-owner.
type Scheduler struct {
	cron  *cron.Cron
	ticks chan struct{}
	log   *slog.Logger
}

func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithLocation(time.UTC)),
		ticks: make(chan struct{}, 1),
		log:   log,
	}
}

// Ticks returns the channel carrying refresh signals. A tick that fires
// while the previous one is still unconsumed is dropped; refreshes do not
// queue up behind a slow consumer.
func (s *Scheduler) Ticks() <-chan struct{} {
	return s.ticks
}

// Start registers the refresh job under the given cron spec and starts the
// scheduler.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) tick() {
	select {
	case s.ticks <- struct{}{}:
	default:
		s.log.Warn("Skipping scheduled refresh, previous tick is unconsumed")
	}
}
