// Package notification delivers outage notices over email and keeps the
// ledger that makes delivery idempotent. A record exists only once the mail
// service has acknowledged the send; writing it is the commit point of
// at-least-once delivery, so a crash between send and record can at worst
// repeat one email.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// EmailStrategy is the name of the seeded email delivery channel.
const EmailStrategy = "EMAIL"

// Strategy is one delivery channel.
type Strategy struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Record marks one acknowledged delivery. (SourceID, SubscriberID,
// LineName, StrategyID) is unique: the same announced line under the same
// bulletin is never delivered to a subscriber twice through one channel.
type Record struct {
	ID                uuid.UUID `json:"id"`
	SourceID          uuid.UUID `json:"source_id"`
	SubscriberID      uuid.UUID `json:"subscriber_id"`
	LineName          string    `json:"line_name"`
	StrategyID        uuid.UUID `json:"strategy_id"`
	LocationIDMatched uuid.UUID `json:"location_id_matched"`
	DirectlyAffected  bool      `json:"directly_affected"`
	ExternalSendID    string    `json:"external_send_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Notice is one notification to deliver: a subscriber, the bulletin that
// affects them and every matched row under one classification.
type Notice struct {
	SourceURL        string
	SubscriberID     uuid.UUID
	SubscriberName   string
	SubscriberEmail  string
	DirectlyAffected bool
	Locations        []NoticeLocation
}

// NoticeLocation is one matched (location, announced name, window) row.
type NoticeLocation struct {
	LocationID   uuid.UUID
	LocationName string
	LineName     string
	From         time.Time
	To           time.Time
}
