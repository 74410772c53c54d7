package subscription

import (
	"context"

	"github.com/google/uuid"

	"github.com/stima/stima/internal/domain/subscriber"
)

// Repository persists subscriber-location links.
type Repository interface {
	// Link records a subscription, reporting whether a new row was written.
	// Linking an already-subscribed pair is a no-op.
	Link(ctx context.Context, subscriberID, locationID uuid.UUID) (bool, error)
	// Unlink removes a subscription, reporting whether one existed.
	Unlink(ctx context.Context, subscriberID, locationID uuid.UUID) (bool, error)
	ListBySubscriber(ctx context.Context, subscriberID uuid.UUID, limit, offset int) ([]*SubscribedLocation, int, error)
	// SubscribersByLocation returns everyone watching a location, for the
	// match engine's fan-out.
	SubscribersByLocation(ctx context.Context, locationID uuid.UUID) ([]subscriber.Subscriber, error)
}
