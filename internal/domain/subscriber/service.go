package subscriber

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service manages subscriber accounts.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate records a sign-in: the subscriber row is created on first
// sight and its name, email and last login refreshed afterwards.
func (s *Service) Authenticate(ctx context.Context, externalID, name, email string) (*Subscriber, error) {
	if externalID == "" {
		return nil, fmt.Errorf("external id is required")
	}
	sub, err := s.repo.Upsert(ctx, externalID, name, email)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscriber: %w", err)
	}
	return sub, nil
}

// Get returns one subscriber by internal id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Subscriber, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByExternalID returns one subscriber by identity-provider subject.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*Subscriber, error) {
	return s.repo.GetByExternalID(ctx, externalID)
}
