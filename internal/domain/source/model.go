// Package source tracks bulletin URLs: the source table holds every
// successfully ingested bulletin, manually_added_sources holds URLs waiting
// for (re)processing, either operator-supplied or parked there when
// ingestion failed.
package source

import (
	"time"

	"github.com/google/uuid"
)

// Source is one ingested bulletin URL. Immutable after insert.
type Source struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// ManualSource is one URL queued for ingestion outside the crawl.
type ManualSource struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
