package source

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Service decides which bulletin URLs still need ingestion.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log.With().Str("component", "source").Logger()}
}

// Pending unions the scraped URLs with the manually added ones and drops
// everything already ingested. The remainder is the batch the crawler
// hands to the parser.
func (s *Service) Pending(ctx context.Context, scraped []string) ([]string, error) {
	manual, err := s.repo.ListManualURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list manual sources: %w", err)
	}
	ingested, err := s.repo.ListURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingested sources: %w", err)
	}
	pending := lo.Without(lo.Uniq(append(scraped, manual...)), ingested...)
	s.log.Debug().
		Int("scraped", len(scraped)).
		Int("manual", len(manual)).
		Int("pending", len(pending)).
		Msg("computed pending sources")
	return pending, nil
}

// RecordFailure parks a URL for reprocessing after a failed ingestion.
func (s *Service) RecordFailure(ctx context.Context, url, reason string) error {
	s.log.Warn().Str("url", url).Str("reason", reason).Msg("parking source for reprocessing")
	if err := s.repo.AddManual(ctx, url, reason); err != nil {
		return fmt.Errorf("failed to record source failure: %w", err)
	}
	return nil
}

// ClearManual removes a URL from the manual table once it finally ingests.
func (s *Service) ClearManual(ctx context.Context, url string) error {
	return s.repo.DeleteManual(ctx, url)
}

// Get returns the ingested source row for a URL.
func (s *Service) Get(ctx context.Context, url string) (*Source, error) {
	return s.repo.GetByURL(ctx, url)
}
