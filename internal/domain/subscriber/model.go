// Package subscriber holds the people who sign in: one row per identity
// provider subject, created on first authentication and refreshed on every
// later one.
package subscriber

import (
	"time"

	"github.com/google/uuid"
)

type Subscriber struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	LastLogin  time.Time `json:"last_login"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
