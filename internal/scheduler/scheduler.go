// Package scheduler drives the periodic collection and retention jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/collector"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// collectTimeout bounds one collection cycle end to end.
const collectTimeout = 30 * time.Second

// Scheduler periodically runs the collection pipeline and the age-based
// retention purge.
type Scheduler struct {
	scheduler     *gocron.Scheduler
	collector     *collector.Collector
	store         weather.Store
	interval      time.Duration
	retentionDays int
	log           *zap.Logger
}

// New creates a Scheduler.
func New(coll *collector.Collector, store weather.Store, interval time.Duration, retentionDays int, log *zap.Logger) *Scheduler {
	return &Scheduler{
		scheduler:     gocron.NewScheduler(time.UTC),
		collector:     coll,
		store:         store,
		interval:      interval,
		retentionDays: retentionDays,
		log:           log,
	}
}

// Start schedules the jobs and starts the underlying scheduler. The
// collection job runs immediately and then on the configured interval; the
// purge runs nightly at 02:00 UTC.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	_, err := s.scheduler.Every(minutes).Minutes().StartImmediately().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
		defer cancel()

		if err := s.collector.Collect(ctx); err != nil {
			// Logged and absorbed; the next run keeps its cadence.
			s.log.Warn("scheduled collection failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	if s.retentionDays > 0 {
		_, err = s.scheduler.Every(1).Day().At("02:00").Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
			defer cancel()

			cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
			removed, err := s.store.PurgeOlderThan(ctx, cutoff)
			if err != nil {
				s.log.Warn("retention purge failed", zap.Error(err))
				return
			}
			s.log.Info("retention purge complete",
				zap.Time("cutoff", cutoff),
				zap.Int64("removed", removed),
			)
		})
		if err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
