package location

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Repository persists locations, their cached neighbour sets and the
// text-search cache. Lookups return a nil row without error when nothing
// matches.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Location, error)
	GetByExternalID(ctx context.Context, externalID string) (*Location, error)
	// Create persists a location. When a concurrent task already stored the
	// same external id, the existing row is returned instead.
	Create(ctx context.Context, loc *Location) (*Location, error)
	ListAll(ctx context.Context) ([]*Location, error)

	GetNearbyByLocation(ctx context.Context, locationID uuid.UUID) (*NearbyLocations, error)
	// CreateNearby persists a neighbour set, returning the existing row when
	// the location already has one.
	CreateNearby(ctx context.Context, n *NearbyLocations) (*NearbyLocations, error)
	ListAllNearby(ctx context.Context) ([]*NearbyLocations, error)

	GetTextSearch(ctx context.Context, term string) (json.RawMessage, error)
	SaveTextSearch(ctx context.Context, term string, response json.RawMessage) error
}
