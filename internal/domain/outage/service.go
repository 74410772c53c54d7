package outage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/domain/bulletin"
	"github.com/stima/stima/internal/platform/db"
)

// Service writes parsed bulletins and serves upcoming outages.
type Service struct {
	repo Repository
	log  zerolog.Logger

	runTx func(ctx context.Context, fn func(context.Context) error) error
}

func NewService(pool *pgxpool.Pool, repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "outage").Logger(),
		runTx: func(ctx context.Context, fn func(context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
	}
}

// StoreBulletin persists one parsed bulletin in a single transaction:
// source row, areas under their resolved counties, a schedule per area,
// lines and their schedule links. A county heading that cannot be resolved
// aborts the whole bulletin. Returns the source id and whether this call
// ingested the bulletin; a known URL is a no-op.
func (s *Service) StoreBulletin(ctx context.Context, url string, regions []bulletin.Region) (uuid.UUID, bool, error) {
	var sourceID uuid.UUID
	var ingested bool

	err := s.runTx(ctx, func(ctx context.Context) error {
		id, created, err := s.repo.UpsertSource(ctx, url)
		if err != nil {
			return fmt.Errorf("failed to upsert source: %w", err)
		}
		sourceID = id
		if !created {
			s.log.Info().Str("url", url).Msg("bulletin already ingested")
			return nil
		}
		ingested = true

		counties, err := s.repo.ListCounties(ctx)
		if err != nil {
			return fmt.Errorf("failed to list counties: %w", err)
		}

		for _, region := range regions {
			for _, county := range region.Counties {
				seeded, ok := matchCounty(counties, county.Name)
				if !ok {
					return &UnknownCountyError{Name: county.Name}
				}
				for _, area := range county.Areas {
					if err := s.storeArea(ctx, seeded.ID, sourceID, area); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	return sourceID, ingested, nil
}

func (s *Service) storeArea(ctx context.Context, countyID, sourceID uuid.UUID, area bulletin.Area) error {
	areaID, err := s.repo.UpsertArea(ctx, countyID, area.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert area %q: %w", area.Name, err)
	}
	scheduleID, err := s.repo.InsertSchedule(ctx, areaID, sourceID, area.TimeFrame.From, area.TimeFrame.To)
	if err != nil {
		return fmt.Errorf("failed to insert schedule for area %q: %w", area.Name, err)
	}
	for _, location := range area.Locations {
		lineID, err := s.repo.UpsertLine(ctx, areaID, location)
		if err != nil {
			return fmt.Errorf("failed to upsert line %q: %w", location, err)
		}
		if err := s.repo.LinkLineSchedule(ctx, lineID, scheduleID); err != nil {
			return fmt.Errorf("failed to link line %q to schedule: %w", location, err)
		}
	}
	return nil
}

// UpcomingBySource returns one bulletin's schedules still ending after now.
func (s *Service) UpcomingBySource(ctx context.Context, sourceID uuid.UUID, now time.Time) ([]AreaOutage, error) {
	return s.repo.UpcomingBySource(ctx, sourceID, now)
}

// UpcomingAll returns every schedule still ending after now.
func (s *Service) UpcomingAll(ctx context.Context, now time.Time) ([]AreaOutage, error) {
	return s.repo.UpcomingAll(ctx, now)
}
