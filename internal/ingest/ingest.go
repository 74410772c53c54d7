// Package ingest runs the bulletin pipeline: discover interruption
// bulletins on the utility's site, download and parse each new one, store
// its schedules and queue a notification for every affected subscriber.
//
// A bulletin that fails anywhere in the pipeline is parked in the manual
// source table so the next crawl retries it, and an operator alert goes
// out. One bad bulletin never stops the rest of the batch.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/domain/bulletin"
	"github.com/stima/stima/internal/domain/match"
	"github.com/stima/stima/internal/platform/metrics"
	"github.com/stima/stima/internal/platform/pdftext"
	"github.com/stima/stima/internal/platform/queue"
	"github.com/stima/stima/internal/tasks"
)

// Crawler lists bulletin URLs from the utility site and downloads PDFs.
type Crawler interface {
	ListBulletins(ctx context.Context) ([]string, error)
	FetchPDF(ctx context.Context, url string) ([]byte, error)
}

// Sources tracks which bulletin URLs are known, parked or pending.
type Sources interface {
	Pending(ctx context.Context, scraped []string) ([]string, error)
	RecordFailure(ctx context.Context, url, reason string) error
	ClearManual(ctx context.Context, url string) error
}

// Outages persists a parsed bulletin.
type Outages interface {
	StoreBulletin(ctx context.Context, url string, regions []bulletin.Region) (uuid.UUID, bool, error)
}

// Matcher finds the subscribers a stored bulletin affects.
type Matcher interface {
	AffectedSubscribers(ctx context.Context, sourceID uuid.UUID) ([]match.Affected, error)
}

// Alerter notifies an operator when a bulletin cannot be ingested.
type Alerter interface {
	Alert(ctx context.Context, subject, detail string) (string, error)
}

// Service orchestrates one crawl cycle end to end.
type Service struct {
	crawler Crawler
	sources Sources
	outages Outages
	matcher Matcher
	queue   *queue.Queue
	alerter Alerter
	log     zerolog.Logger

	extract func(data []byte) (string, error)
	now     func() time.Time
}

// NewService wires the crawl pipeline. alerter may be nil when no alert
// channel is configured.
func NewService(crawler Crawler, sources Sources, outages Outages, matcher Matcher, q *queue.Queue, alerter Alerter, log zerolog.Logger) *Service {
	return &Service{
		crawler: crawler,
		sources: sources,
		outages: outages,
		matcher: matcher,
		queue:   q,
		alerter: alerter,
		log:     log.With().Str("component", "ingest").Logger(),
		extract: pdftext.Extract,
		now:     time.Now,
	}
}

// Crawl scrapes the bulletin listing and ingests every URL not yet known:
// freshly scraped ones plus any parked by earlier failures or added by
// hand. Per-URL failures are parked and alerted, not returned; the error
// covers only the discovery step itself.
func (s *Service) Crawl(ctx context.Context) error {
	scraped, err := s.crawler.ListBulletins(ctx)
	if err != nil {
		return fmt.Errorf("failed to list bulletins: %w", err)
	}
	pending, err := s.sources.Pending(ctx, scraped)
	if err != nil {
		return err
	}
	s.log.Info().Int("scraped", len(scraped)).Int("pending", len(pending)).Msg("crawl cycle started")

	for _, url := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.IngestURL(ctx, url); err != nil {
			s.park(ctx, url, err)
		}
	}
	return nil
}

// IngestURL runs the pipeline for a single bulletin: fetch, extract,
// parse, store, match, queue notifications. Already-stored bulletins are
// re-matched rather than skipped, so re-adding a URL by hand replays its
// notifications; the dispatch ledger suppresses the ones already sent.
func (s *Service) IngestURL(ctx context.Context, url string) error {
	data, err := s.crawler.FetchPDF(ctx, url)
	if err != nil {
		metrics.BulletinsIngested.WithLabelValues("fetch_failed").Inc()
		return err
	}
	text, err := s.extract(data)
	if err != nil {
		metrics.BulletinsIngested.WithLabelValues("parse_failed").Inc()
		return fmt.Errorf("failed to extract text from %s: %w", url, err)
	}
	regions, err := bulletin.ParseBulletin(text, s.now())
	if err != nil {
		metrics.BulletinsIngested.WithLabelValues("parse_failed").Inc()
		return fmt.Errorf("failed to parse bulletin %s: %w", url, err)
	}

	sourceID, ingested, err := s.outages.StoreBulletin(ctx, url, regions)
	if err != nil {
		metrics.BulletinsIngested.WithLabelValues("store_failed").Inc()
		return err
	}
	if ingested {
		metrics.BulletinsIngested.WithLabelValues("stored").Inc()
	}

	queued, err := s.notifyAffected(ctx, sourceID)
	if err != nil {
		return err
	}
	s.log.Info().
		Str("url", url).
		Bool("new", ingested).
		Int("regions", len(regions)).
		Int("notifications", queued).
		Msg("bulletin ingested")
	return s.sources.ClearManual(ctx, url)
}

func (s *Service) notifyAffected(ctx context.Context, sourceID uuid.UUID) (int, error) {
	affected, err := s.matcher.AffectedSubscribers(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	for _, aff := range affected {
		task, err := tasks.New(tasks.TypeSendEmailNotification, "", tasks.FromAffected(aff))
		if err != nil {
			return 0, err
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return 0, fmt.Errorf("failed to queue notification: %w", err)
		}
	}
	return len(affected), nil
}

// park records a failed URL for the next crawl and alerts the operator.
func (s *Service) park(ctx context.Context, url string, cause error) {
	s.log.Error().Err(cause).Str("url", url).Msg("bulletin ingestion failed")
	if err := s.sources.RecordFailure(ctx, url, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("url", url).Msg("failed to park bulletin for retry")
	}
	if s.alerter == nil {
		return
	}
	if _, err := s.alerter.Alert(ctx, "bulletin ingestion failed", fmt.Sprintf("%s: %v", url, cause)); err != nil {
		s.log.Error().Err(err).Msg("failed to send ingestion alert")
	}
}
