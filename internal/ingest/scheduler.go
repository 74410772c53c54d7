package ingest

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs Crawl on a cron cadence. The first crawl fires as soon
// as Run starts; later ones follow the schedule.
type Scheduler struct {
	service  *Service
	schedule string
	log      zerolog.Logger
}

// NewScheduler validates nothing up front; an invalid schedule surfaces
// from Run.
func NewScheduler(service *Service, schedule string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		service:  service,
		schedule: schedule,
		log:      log.With().Str("component", "crawl_scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled, then waits for an in-flight crawl
// to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.service.Crawl(ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduled crawl failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid crawl schedule %q: %w", s.schedule, err)
	}

	s.log.Info().Str("schedule", s.schedule).Msg("crawl scheduler started")
	if err := s.service.Crawl(ctx); err != nil {
		s.log.Error().Err(err).Msg("initial crawl failed")
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("crawl scheduler stopped")
	return nil
}
