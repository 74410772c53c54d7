// Package location resolves the places subscribers watch through the
// external place API and owns the in-memory search indexes the match engine
// reads. Every external call costs one token from the shared location
// bucket, so a fleet of workers stays inside the provider's quota.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/platform/places"
	"github.com/stima/stima/internal/platform/queue"
	"github.com/stima/stima/internal/platform/ratelimit"
	"github.com/stima/stima/internal/platform/search"
)

type Service struct {
	repo    Repository
	places  *places.Client
	limiter *ratelimit.Limiter
	primary *search.Index
	nearby  *search.Index
	log     zerolog.Logger
}

func NewService(repo Repository, placesClient *places.Client, limiter *ratelimit.Limiter, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		places:  placesClient,
		limiter: limiter,
		primary: search.NewIndex(),
		nearby:  search.NewIndex(),
		log:     log.With().Str("component", "location").Logger(),
	}
}

// Resolve returns the location behind an external place id, fetching and
// persisting it on first sight. A denied rate-limit token surfaces as a
// queue retry so the calling task re-runs once the bucket refills; an
// external id the provider does not know is an expected failure and is
// never retried.
func (s *Service) Resolve(ctx context.Context, externalID string) (*Resolved, error) {
	if externalID == "" {
		return nil, errors.New("external id is required")
	}
	if loc, err := s.repo.GetByExternalID(ctx, externalID); err != nil {
		return nil, err
	} else if loc != nil {
		lat, lng, err := coordinates(loc.APIResponse)
		if err != nil {
			return nil, fmt.Errorf("stored response for %s is unreadable: %w", externalID, err)
		}
		return &Resolved{LocationID: loc.ID, Lat: lat, Lng: lng}, nil
	}

	if err := s.takeToken(ctx); err != nil {
		return nil, err
	}

	details, err := s.places.Details(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if details.Status == places.StatusZeroResults {
		return nil, queue.Expected(fmt.Sprintf("the place provider knows no place %s", externalID))
	}

	loc, err := s.repo.Create(ctx, &Location{
		ID:               uuid.New(),
		ExternalID:       externalID,
		Name:             details.Name,
		Address:          details.FormattedAddress,
		SanitizedAddress: search.Sanitize(details.FormattedAddress),
		APIResponse:      details.Raw,
	})
	if err != nil {
		return nil, err
	}
	s.primary.Add(loc.ID, indexText(loc))
	s.log.Info().Str("location_id", loc.ID.String()).Str("name", loc.Name).Msg("location resolved")
	return &Resolved{LocationID: loc.ID, Lat: details.Lat, Lng: details.Lng}, nil
}

// ResolveNearby ensures a location's neighbour set is cached, fetching it on
// first sight. Later calls answer from the stored row without touching the
// provider.
func (s *Service) ResolveNearby(ctx context.Context, locationID uuid.UUID, lat, lng float64) (*NearbyLocations, error) {
	if existing, err := s.repo.GetNearbyByLocation(ctx, locationID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	if err := s.takeToken(ctx); err != nil {
		return nil, err
	}

	resp, err := s.places.NearbySearch(ctx, lat, lng)
	if err != nil {
		return nil, err
	}
	row, err := s.repo.CreateNearby(ctx, &NearbyLocations{
		ID:         uuid.New(),
		LocationID: locationID,
		SourceURL:  resp.URL,
		Response:   resp.Raw,
	})
	if err != nil {
		return nil, err
	}
	s.nearby.Add(row.LocationID, string(row.Response))
	s.log.Info().Str("location_id", locationID.String()).Msg("nearby locations cached")
	return row, nil
}

// Get returns one location by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Location, error) {
	loc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, fmt.Errorf("location %s not found", id)
	}
	return loc, nil
}

// SearchByTerm returns the cached text-search response for a term. The
// second return is false when the cache has not been warmed for it yet.
func (s *Service) SearchByTerm(ctx context.Context, term string) (json.RawMessage, bool, error) {
	raw, err := s.repo.GetTextSearch(ctx, normalizeTerm(term))
	if err != nil {
		return nil, false, err
	}
	return raw, raw != nil, nil
}

// WarmTextSearch fetches and caches the text-search response for a term,
// doing nothing when the term is already cached.
func (s *Service) WarmTextSearch(ctx context.Context, term string) error {
	key := normalizeTerm(term)
	if raw, err := s.repo.GetTextSearch(ctx, key); err != nil {
		return err
	} else if raw != nil {
		return nil
	}
	if err := s.takeToken(ctx); err != nil {
		return err
	}
	raw, err := s.places.TextSearch(ctx, key)
	if err != nil {
		return err
	}
	return s.repo.SaveTextSearch(ctx, key, raw)
}

// PrimaryIndex is the index over location names and sanitized addresses.
// Document ids are location ids.
func (s *Service) PrimaryIndex() *search.Index { return s.primary }

// NearbyIndex indexes each location's cached neighbour payload. Document ids
// are the owning location's id, not the nearby row's.
func (s *Service) NearbyIndex() *search.Index { return s.nearby }

// RebuildIndexes reloads both in-memory indexes from the database. Workers
// call it once at startup; thereafter Resolve and ResolveNearby keep the
// indexes current incrementally.
func (s *Service) RebuildIndexes(ctx context.Context) error {
	locs, err := s.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load locations for indexing: %w", err)
	}
	docs := make([]search.Document, 0, len(locs))
	for _, loc := range locs {
		docs = append(docs, search.Document{ID: loc.ID, Text: indexText(loc)})
	}
	s.primary.Load(docs)

	nearbys, err := s.repo.ListAllNearby(ctx)
	if err != nil {
		return fmt.Errorf("failed to load nearby locations for indexing: %w", err)
	}
	ndocs := make([]search.Document, 0, len(nearbys))
	for _, n := range nearbys {
		ndocs = append(ndocs, search.Document{ID: n.LocationID, Text: string(n.Response)})
	}
	s.nearby.Load(ndocs)

	s.log.Info().Int("locations", len(docs)).Int("nearby_sets", len(ndocs)).Msg("search indexes rebuilt")
	return nil
}

func (s *Service) takeToken(ctx context.Context) error {
	decision, err := s.limiter.Allow(ctx, ratelimit.Location)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return queue.Retry(decision.RetryAfter)
	}
	return nil
}

func indexText(loc *Location) string {
	return loc.Name + " " + loc.SanitizedAddress
}

// coordinates re-reads lat/lng out of a stored place-details payload.
func coordinates(raw json.RawMessage) (float64, float64, error) {
	var payload struct {
		Result struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, 0, err
	}
	return payload.Result.Geometry.Location.Lat, payload.Result.Geometry.Location.Lng, nil
}

func normalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
