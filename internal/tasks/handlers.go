package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/domain/location"
	"github.com/stima/stima/internal/domain/match"
	"github.com/stima/stima/internal/domain/notification"
	"github.com/stima/stima/internal/domain/subscriber"
	"github.com/stima/stima/internal/platform/progress"
	"github.com/stima/stima/internal/platform/queue"
)

// Resolver is the slice of the location service the handlers need.
type Resolver interface {
	Resolve(ctx context.Context, externalID string) (*location.Resolved, error)
	ResolveNearby(ctx context.Context, locationID uuid.UUID, lat, lng float64) (*location.NearbyLocations, error)
	WarmTextSearch(ctx context.Context, term string) error
}

// Subscriptions writes subscriber-location links.
type Subscriptions interface {
	Link(ctx context.Context, subscriberID, locationID uuid.UUID) (bool, error)
}

// Subscribers resolves subscriber ids to their rows.
type Subscribers interface {
	Get(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error)
}

// Matcher classifies a location against every upcoming outage.
type Matcher interface {
	ClassifyLocation(ctx context.Context, locationID uuid.UUID) ([]match.Classified, error)
}

// Dispatcher delivers one notification payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *notification.Notice) error
}

// Alerter raises operator alerts for dead-lettered tasks.
type Alerter interface {
	Alert(ctx context.Context, subject, detail string) (string, error)
}

// Handlers implements the four task types. Each handler persists its own
// result before chaining the next task, so a crash between the two steps
// redelivers a task whose work is already idempotent.
type Handlers struct {
	resolver      Resolver
	subscriptions Subscriptions
	subscribers   Subscribers
	matcher       Matcher
	dispatcher    Dispatcher
	tracker       *progress.Tracker
	queue         *queue.Queue
	alerter       Alerter
	log           zerolog.Logger
}

// NewHandlers wires the task handlers. alerter may be nil.
func NewHandlers(
	resolver Resolver,
	subscriptions Subscriptions,
	subscribers Subscribers,
	matcher Matcher,
	dispatcher Dispatcher,
	tracker *progress.Tracker,
	q *queue.Queue,
	alerter Alerter,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		resolver:      resolver,
		subscriptions: subscriptions,
		subscribers:   subscribers,
		matcher:       matcher,
		dispatcher:    dispatcher,
		tracker:       tracker,
		queue:         q,
		alerter:       alerter,
		log:           log.With().Str("component", "tasks").Logger(),
	}
}

// Registry binds every task type to its handler.
func (h *Handlers) Registry() *queue.Registry {
	reg := queue.NewRegistry()
	reg.Register(TypeFetchAndSubscribeToLocation, h.HandleFetchAndSubscribe)
	reg.Register(TypeGetNearbyLocations, h.HandleGetNearby)
	reg.Register(TypeSendEmailNotification, h.HandleSendEmail)
	reg.Register(TypeSearchLocationsByText, h.HandleSearchByText)
	return reg
}

// HandleFetchAndSubscribe resolves the external place id, links the
// subscriber to the stored location and chains the nearby fetch. The link
// is written before the chain so the next task always finds it.
func (h *Handlers) HandleFetchAndSubscribe(ctx context.Context, task *queue.Task) error {
	var payload FetchAndSubscribeToLocation
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return queue.Expected(fmt.Sprintf("undecodable %s payload: %v", task.Type, err))
	}

	resolved, err := h.resolver.Resolve(ctx, payload.ExternalID)
	if err != nil {
		return h.fail(ctx, payload.TaskID, err)
	}
	if _, err := h.subscriptions.Link(ctx, payload.SubscriberID, resolved.LocationID); err != nil {
		return err
	}

	// The chained task carries the classification known at this point; the
	// nearby handler recomputes it once the neighbour set is cached.
	classes, err := h.matcher.ClassifyLocation(ctx, resolved.LocationID)
	if err != nil {
		return err
	}
	direct := false
	for _, c := range classes {
		if c.Direct {
			direct = true
			break
		}
	}

	next, err := New(TypeGetNearbyLocations, payload.TaskID, GetNearbyLocations{
		LocationID:       resolved.LocationID,
		Lat:              resolved.Lat,
		Lng:              resolved.Lng,
		SubscriberID:     payload.SubscriberID,
		DirectlyAffected: direct,
		TaskID:           payload.TaskID,
	})
	if err != nil {
		return err
	}
	return h.queue.Enqueue(ctx, next)
}

// HandleGetNearby caches the location's neighbour set, classifies the
// location against every upcoming outage and queues one notification per
// affected source. The progress key turns Success only after every
// notification is queued.
func (h *Handlers) HandleGetNearby(ctx context.Context, task *queue.Task) error {
	var payload GetNearbyLocations
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return queue.Expected(fmt.Sprintf("undecodable %s payload: %v", task.Type, err))
	}

	if _, err := h.resolver.ResolveNearby(ctx, payload.LocationID, payload.Lat, payload.Lng); err != nil {
		return h.fail(ctx, payload.TaskID, err)
	}

	sub, err := h.subscribers.Get(ctx, payload.SubscriberID)
	if err != nil {
		return err
	}
	classes, err := h.matcher.ClassifyLocation(ctx, payload.LocationID)
	if err != nil {
		return err
	}
	for _, c := range classes {
		next, err := New(TypeSendEmailNotification, "", affectedPayload(sub, c))
		if err != nil {
			return err
		}
		if err := h.queue.Enqueue(ctx, next); err != nil {
			return err
		}
	}

	if payload.TaskID != "" {
		if err := h.tracker.Set(ctx, payload.TaskID, progress.StatusSuccess); err != nil {
			return err
		}
	}
	h.log.Info().
		Str("subscriber_id", payload.SubscriberID.String()).
		Str("location_id", payload.LocationID.String()).
		Int("notifications", len(classes)).
		Msg("subscription completed")
	return nil
}

// HandleSendEmail delivers one notification payload through the
// dispatcher.
func (h *Handlers) HandleSendEmail(ctx context.Context, task *queue.Task) error {
	var payload AffectedSubscriberWithLocations
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return queue.Expected(fmt.Sprintf("undecodable %s payload: %v", task.Type, err))
	}
	notice := &notification.Notice{
		SourceURL:        payload.SourceURL,
		SubscriberID:     payload.SubscriberID,
		SubscriberName:   payload.SubscriberName,
		SubscriberEmail:  payload.SubscriberEmail,
		DirectlyAffected: payload.DirectlyAffected,
	}
	for _, loc := range payload.Locations {
		notice.Locations = append(notice.Locations, notification.NoticeLocation{
			LocationID:   loc.LocationID,
			LocationName: loc.LocationName,
			LineName:     loc.LineName,
			From:         loc.From,
			To:           loc.To,
		})
	}
	return h.dispatcher.Dispatch(ctx, notice)
}

// HandleSearchByText warms the text-search cache for one term.
func (h *Handlers) HandleSearchByText(ctx context.Context, task *queue.Task) error {
	var payload SearchLocationsByText
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return queue.Expected(fmt.Sprintf("undecodable %s payload: %v", task.Type, err))
	}
	return h.resolver.WarmTextSearch(ctx, payload.Text)
}

// OnFailure is the worker's dead-letter callback: the client-facing
// progress key flips to failure and an operator alert goes out.
func (h *Handlers) OnFailure(ctx context.Context, task *queue.Task, cause error) {
	h.log.Error().
		Err(cause).
		Str("task_id", task.ID).
		Str("task_type", task.Type).
		Int("attempts", task.Attempts).
		Msg("task dead-lettered")
	if key := progressKeyOf(task); key != "" {
		if err := h.tracker.Set(ctx, key, progress.StatusFailure); err != nil {
			h.log.Error().Err(err).Str("task_id", key).Msg("failed to record progress failure")
		}
	}
	if h.alerter != nil {
		detail := fmt.Sprintf("task %s (%s) failed after %d attempts: %v", task.ID, task.Type, task.Attempts, cause)
		if _, err := h.alerter.Alert(ctx, "task dead-lettered", detail); err != nil {
			h.log.Error().Err(err).Msg("failed to send dead-letter alert")
		}
	}
}

// fail settles the client-visible progress key for terminal failures.
// Retries pass through untouched so pollers keep seeing Pending; retried
// (unexpected) errors reach the key only via the dead-letter callback.
func (h *Handlers) fail(ctx context.Context, taskID string, cause error) error {
	if taskID == "" {
		return cause
	}
	var expected *queue.ExpectedError
	if errors.As(cause, &expected) {
		if err := h.tracker.Set(ctx, taskID, progress.StatusFailure); err != nil {
			h.log.Error().Err(err).Str("task_id", taskID).Msg("failed to record progress failure")
		}
	}
	return cause
}

// progressKeyOf digs the client-facing progress key out of payloads that
// carry one.
func progressKeyOf(task *queue.Task) string {
	switch task.Type {
	case TypeFetchAndSubscribeToLocation:
		var p FetchAndSubscribeToLocation
		if json.Unmarshal(task.Payload, &p) == nil {
			return p.TaskID
		}
	case TypeGetNearbyLocations:
		var p GetNearbyLocations
		if json.Unmarshal(task.Payload, &p) == nil {
			return p.TaskID
		}
	}
	return ""
}

// affectedPayload converts one classification into the notification task
// payload.
func affectedPayload(sub *subscriber.Subscriber, c match.Classified) AffectedSubscriberWithLocations {
	return FromAffected(match.Affected{
		Subscriber: *sub,
		SourceURL:  c.SourceURL,
		Direct:     c.Direct,
		Rows:       c.Rows,
	})
}

// FromAffected converts one match engine result into the notification task
// payload. The bulletin crawler uses it to queue notifications after a new
// bulletin lands.
func FromAffected(aff match.Affected) AffectedSubscriberWithLocations {
	payload := AffectedSubscriberWithLocations{
		SourceURL:        aff.SourceURL,
		SubscriberID:     aff.Subscriber.ID,
		SubscriberName:   aff.Subscriber.Name,
		SubscriberEmail:  aff.Subscriber.Email,
		DirectlyAffected: aff.Direct,
	}
	for _, r := range aff.Rows {
		payload.Locations = append(payload.Locations, AffectedLocation{
			LocationID:   r.LocationID,
			LocationName: r.LocationName,
			LineName:     r.LineName,
			From:         r.From,
			To:           r.To,
		})
	}
	return payload
}
