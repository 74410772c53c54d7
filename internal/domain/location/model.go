package location

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Location is a place a subscriber watches, resolved once through the
// external place API and kept forever. SanitizedAddress is the address with
// the utility's abbreviations expanded so it tokenizes the same way bulletin
// text does; APIResponse is the provider payload verbatim, including the
// coordinates that are never broken out into columns.
type Location struct {
	ID               uuid.UUID       `json:"id"`
	ExternalID       string          `json:"external_id"`
	Name             string          `json:"name"`
	Address          string          `json:"address"`
	SanitizedAddress string          `json:"sanitized_address"`
	APIResponse      json.RawMessage `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NearbyLocations is the cached neighbour set of one location: the raw
// rank-by-distance response keyed by the exact query URL that produced it.
type NearbyLocations struct {
	ID         uuid.UUID       `json:"id"`
	LocationID uuid.UUID       `json:"location_id"`
	SourceURL  string          `json:"source_url"`
	Response   json.RawMessage `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Resolved is the outcome of resolving an external place id: the stored row
// plus the coordinates needed to fetch its neighbours.
type Resolved struct {
	LocationID uuid.UUID
	Lat        float64
	Lng        float64
}
