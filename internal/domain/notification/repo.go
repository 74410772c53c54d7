package notification

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the data access interface for the delivery ledger.
type Repository interface {
	StrategyByName(ctx context.Context, name string) (*Strategy, error)
	// SentLineNames returns the line names already recorded for the
	// (source, subscriber, strategy) triple.
	SentLineNames(ctx context.Context, sourceID, subscriberID, strategyID uuid.UUID) ([]string, error)
	InsertRecords(ctx context.Context, records []*Record) error
}
