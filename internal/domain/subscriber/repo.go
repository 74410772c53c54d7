package subscriber

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the data access interface for subscribers.
type Repository interface {
	// Upsert creates the subscriber on first sight or refreshes name,
	// email and last login on subsequent ones.
	Upsert(ctx context.Context, externalID, name, email string) (*Subscriber, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Subscriber, error)
	GetByExternalID(ctx context.Context, externalID string) (*Subscriber, error)
}
