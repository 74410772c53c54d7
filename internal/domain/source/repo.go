package source

import "context"

// Repository defines the data access interface for the source registry.
// Ingested source rows themselves are written by the outage store inside
// its bulletin transaction; this repository only reads them.
type Repository interface {
	ListURLs(ctx context.Context) ([]string, error)
	GetByURL(ctx context.Context, url string) (*Source, error)

	ListManualURLs(ctx context.Context) ([]string, error)
	AddManual(ctx context.Context, url, reason string) error
	DeleteManual(ctx context.Context, url string) error
}
