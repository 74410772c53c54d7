// Package outage persists parsed bulletins as normalized schedule rows and
// serves them back as the upcoming-outage view the match engine consumes.
package outage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// County is one row of the fixed county seed.
type County struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Area is the utility's unit of scheduling, unique per (county, name).
type Area struct {
	ID       uuid.UUID `json:"id"`
	CountyID uuid.UUID `json:"county_id"`
	Name     string    `json:"name"`
}

// Line is a named customer group inside an area.
type Line struct {
	ID     uuid.UUID `json:"id"`
	AreaID uuid.UUID `json:"area_id"`
	Name   string    `json:"name"`
}

// Schedule is one announced outage window for an area. Times are UTC.
type Schedule struct {
	ID        uuid.UUID `json:"id"`
	AreaID    uuid.UUID `json:"area_id"`
	SourceID  uuid.UUID `json:"source_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// AreaOutage is the denormalized view handed to the match engine: one
// upcoming schedule with its area and every line announced under it.
type AreaOutage struct {
	ScheduleID uuid.UUID
	AreaID     uuid.UUID
	AreaName   string
	SourceID   uuid.UUID
	SourceURL  string
	StartTime  time.Time
	EndTime    time.Time
	Lines      []string
}

// UnknownCountyError aborts a bulletin whose county heading cannot be
// resolved against the seed; the bulletin is parked for reprocessing.
type UnknownCountyError struct {
	Name string
}

func (e *UnknownCountyError) Error() string {
	return fmt.Sprintf("unknown county %q", e.Name)
}
