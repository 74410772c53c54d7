package subscription

import (
	"time"

	"github.com/google/uuid"
)

// SubscriberLocation is one active subscription: a subscriber watching one
// resolved location. The pair is unique; unsubscribing deletes the link and
// nothing else.
type SubscriberLocation struct {
	ID           uuid.UUID `json:"id"`
	SubscriberID uuid.UUID `json:"subscriber_id"`
	LocationID   uuid.UUID `json:"location_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubscribedLocation is one row of the subscribed-locations listing: the
// link joined with its location.
type SubscribedLocation struct {
	LocationID   uuid.UUID `json:"location_id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	SubscribedAt time.Time `json:"subscribed_at"`
}
