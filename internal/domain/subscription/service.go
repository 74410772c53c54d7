// Package subscription links subscribers to the locations they watch.
// Subscribing is asynchronous: the endpoint hands out a task id, a worker
// chain resolves the place and writes the link, and the client polls the
// progress tracker for the outcome.
package subscription

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/domain/subscriber"
	"github.com/stima/stima/internal/platform/progress"
	"github.com/stima/stima/internal/platform/queue"
	"github.com/stima/stima/internal/tasks"
	"github.com/stima/stima/pkg/pagination"
)

// ErrNotSubscribed is returned when an unsubscribe names a location the
// caller never subscribed to.
var ErrNotSubscribed = errors.New("not subscribed to this location")

// TextSearcher is the slice of the location service the search endpoint
// needs.
type TextSearcher interface {
	SearchByTerm(ctx context.Context, term string) (json.RawMessage, bool, error)
}

type Service struct {
	repo      Repository
	tracker   *progress.Tracker
	queue     *queue.Queue
	locations TextSearcher
	log       zerolog.Logger
}

func NewService(repo Repository, tracker *progress.Tracker, q *queue.Queue, locations TextSearcher, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		tracker:   tracker,
		queue:     q,
		locations: locations,
		log:       log.With().Str("component", "subscription").Logger(),
	}
}

// Subscribe accepts a subscription request and starts the asynchronous
// resolve chain. The returned task id is what the client polls.
func (s *Service) Subscribe(ctx context.Context, subscriberID uuid.UUID, externalID string) (string, error) {
	if externalID == "" {
		return "", errors.New("external id is required")
	}
	taskID := uuid.NewString()
	task, err := tasks.New(tasks.TypeFetchAndSubscribeToLocation, taskID, tasks.FetchAndSubscribeToLocation{
		ExternalID:   externalID,
		SubscriberID: subscriberID,
		TaskID:       taskID,
	})
	if err != nil {
		return "", err
	}
	// The pending marker goes in first so a poll can never observe a
	// running task without a status.
	if err := s.tracker.Set(ctx, taskID, progress.StatusPending); err != nil {
		return "", err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return "", err
	}
	s.log.Info().
		Str("task_id", taskID).
		Str("subscriber_id", subscriberID.String()).
		Str("external_id", externalID).
		Msg("subscription requested")
	return taskID, nil
}

// Progress reports the state of a subscription task. ok is false for
// unknown or expired task ids.
func (s *Service) Progress(ctx context.Context, taskID string) (progress.Status, bool, error) {
	return s.tracker.Get(ctx, taskID)
}

// Link writes the subscriber-location row. It reports whether the link is
// new; re-linking an existing pair is a harmless no-op so task retries stay
// safe.
func (s *Service) Link(ctx context.Context, subscriberID, locationID uuid.UUID) (bool, error) {
	created, err := s.repo.Link(ctx, subscriberID, locationID)
	if err != nil {
		return false, err
	}
	if created {
		s.log.Info().
			Str("subscriber_id", subscriberID.String()).
			Str("location_id", locationID.String()).
			Msg("subscriber linked to location")
	}
	return created, nil
}

// Unsubscribe removes the caller's link to a location. The location row
// itself persists for reuse by other subscribers.
func (s *Service) Unsubscribe(ctx context.Context, subscriberID, locationID uuid.UUID) error {
	removed, err := s.repo.Unlink(ctx, subscriberID, locationID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotSubscribed
	}
	s.log.Info().
		Str("subscriber_id", subscriberID.String()).
		Str("location_id", locationID.String()).
		Msg("subscriber unlinked from location")
	return nil
}

// List returns one page of the caller's subscribed locations.
func (s *Service) List(ctx context.Context, subscriberID uuid.UUID, p pagination.Params) ([]*SubscribedLocation, int, error) {
	items, total, err := s.repo.ListBySubscriber(ctx, subscriberID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*SubscribedLocation{}
	}
	return items, total, nil
}

// SubscribersByLocation returns everyone watching a location.
func (s *Service) SubscribersByLocation(ctx context.Context, locationID uuid.UUID) ([]subscriber.Subscriber, error) {
	return s.repo.SubscribersByLocation(ctx, locationID)
}

// SearchLocations serves the location search box from the text-search
// cache. A cold term queues a warm-up task and reports false; clients poll
// until the cache fills.
func (s *Service) SearchLocations(ctx context.Context, term string) (json.RawMessage, bool, error) {
	raw, ok, err := s.locations.SearchByTerm(ctx, term)
	if err != nil || ok {
		return raw, ok, err
	}
	task, err := tasks.New(tasks.TypeSearchLocationsByText, "", tasks.SearchLocationsByText{Text: term})
	if err != nil {
		return nil, false, err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, false, err
	}
	s.log.Debug().Str("term", term).Msg("text search warm-up queued")
	return nil, false, nil
}
