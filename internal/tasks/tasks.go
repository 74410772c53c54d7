// Package tasks defines the task types the workers consume and their
// payload shapes. Producers and handlers share these definitions; the
// binding of type name to handler happens at worker start.
package tasks

import (
	"time"

	"github.com/google/uuid"

	"github.com/stima/stima/internal/platform/queue"
)

// Task type names as they appear on the queue.
const (
	TypeFetchAndSubscribeToLocation = "fetch_and_subscribe_to_location"
	TypeGetNearbyLocations          = "get_nearby_locations"
	TypeSendEmailNotification       = "send_email_notification"
	TypeSearchLocationsByText       = "search_locations_by_text"
)

// FetchAndSubscribeToLocation resolves an external place id, links the
// subscriber to the resulting location and chains a GetNearbyLocations
// task. TaskID is the progress key handed to the subscribing client.
type FetchAndSubscribeToLocation struct {
	ExternalID   string    `json:"external_id"`
	SubscriberID uuid.UUID `json:"subscriber_id"`
	TaskID       string    `json:"task_id"`
}

// GetNearbyLocations caches the neighbour set of a freshly subscribed
// location, then matches the subscriber against upcoming outages.
// DirectlyAffected carries the classification computed when the location
// was resolved.
type GetNearbyLocations struct {
	LocationID       uuid.UUID `json:"location_id"`
	Lat              float64   `json:"lat"`
	Lng              float64   `json:"lng"`
	SubscriberID     uuid.UUID `json:"subscriber_id"`
	DirectlyAffected bool      `json:"directly_affected"`
	TaskID           string    `json:"task_id"`
}

// AffectedLocation is one matched (location, line, time frame) row inside a
// notification payload.
type AffectedLocation struct {
	LocationID   uuid.UUID `json:"location_id"`
	LocationName string    `json:"location_name"`
	LineName     string    `json:"line_name"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
}

// AffectedSubscriberWithLocations is the payload of one notification: a
// subscriber, the bulletin that affects them, and every matched location
// under one classification. A subscriber affected both directly and
// potentially through different locations gets one payload per
// classification.
type AffectedSubscriberWithLocations struct {
	SourceURL        string             `json:"source_url"`
	SubscriberID     uuid.UUID          `json:"subscriber_id"`
	SubscriberName   string             `json:"subscriber_name"`
	SubscriberEmail  string             `json:"subscriber_email"`
	DirectlyAffected bool               `json:"directly_affected"`
	Locations        []AffectedLocation `json:"locations"`
}

// SearchLocationsByText warms the text-search cache for one term.
type SearchLocationsByText struct {
	Text string `json:"text"`
}

// New wraps a payload into a queue task envelope. taskID may be empty.
func New(taskType, taskID string, payload any) (*queue.Task, error) {
	return queue.NewTask(taskType, taskID, payload)
}
