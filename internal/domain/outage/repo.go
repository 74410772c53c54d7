package outage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the data access interface for the outage store. The
// upsert methods are written so that calling them inside one transaction
// makes re-ingestion safe: every conflict clause does nothing.
type Repository interface {
	ListCounties(ctx context.Context) ([]County, error)

	// UpsertSource inserts the source row for a bulletin URL. The second
	// return reports whether the row was created by this call.
	UpsertSource(ctx context.Context, url string) (uuid.UUID, bool, error)
	UpsertArea(ctx context.Context, countyID uuid.UUID, name string) (uuid.UUID, error)
	InsertSchedule(ctx context.Context, areaID, sourceID uuid.UUID, start, end time.Time) (uuid.UUID, error)
	UpsertLine(ctx context.Context, areaID uuid.UUID, name string) (uuid.UUID, error)
	LinkLineSchedule(ctx context.Context, lineID, scheduleID uuid.UUID) error

	// UpcomingBySource returns the schedules of one bulletin still ending
	// after now; UpcomingAll the same across every source.
	UpcomingBySource(ctx context.Context, sourceID uuid.UUID, now time.Time) ([]AreaOutage, error)
	UpcomingAll(ctx context.Context, now time.Time) ([]AreaOutage, error)
}
