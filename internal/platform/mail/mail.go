// Package mail is the client for the transactional email provider. One
// template carries outage notifications; operational alerts reuse the same
// endpoint with their own data keys.
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/platform/httpx"
)

// Template values for affected_state.
const (
	StateDirect    = "directly affected"
	StatePotential = "potentially affected"
)

// AffectedLocation is one row of the outage table in the email.
type AffectedLocation struct {
	Location  string `json:"location"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Message is one outage notification to one subscriber.
type Message struct {
	ToEmail       string
	RecipientName string
	AffectedState string
	Link          string
	Locations     []AffectedLocation
}

type wireBody struct {
	Message wireMessage `json:"message"`
}

type wireMessage struct {
	To       wireTo      `json:"to"`
	Template string      `json:"template"`
	Data     interface{} `json:"data"`
}

type wireTo struct {
	Email string `json:"email"`
}

type messageData struct {
	RecipientName     string             `json:"recipient_name"`
	AffectedState     string             `json:"affected_state"`
	Link              string             `json:"link"`
	AffectedLocations []AffectedLocation `json:"affected_locations"`
}

type Client struct {
	httpc    *httpx.Client
	host     string
	token    string
	template string
	alertTo  string
}

func NewClient(host, authToken, templateID, alertTo string, log zerolog.Logger) *Client {
	return &Client{
		httpc:    httpx.NewClient("mail", 15*time.Second, log),
		host:     host,
		token:    authToken,
		template: templateID,
		alertTo:  alertTo,
	}
}

// Send delivers one notification and returns the provider's request id,
// which is the proof of delivery the notification record stores.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	data := messageData{
		RecipientName:     msg.RecipientName,
		AffectedState:     msg.AffectedState,
		Link:              msg.Link,
		AffectedLocations: msg.Locations,
	}
	if data.AffectedLocations == nil {
		data.AffectedLocations = []AffectedLocation{}
	}
	return c.post(ctx, msg.ToEmail, data)
}

// Alert emails the operations address, for bulletins that failed ingestion
// and similar conditions that need a human.
func (c *Client) Alert(ctx context.Context, subject, detail string) (string, error) {
	return c.post(ctx, c.alertTo, map[string]string{
		"subject": subject,
		"detail":  detail,
	})
}

func (c *Client) post(ctx context.Context, to string, data interface{}) (string, error) {
	body, err := json.Marshal(wireBody{
		Message: wireMessage{
			To:       wireTo{Email: to},
			Template: c.template,
			Data:     data,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode mail request: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(ctx, http.MethodPost, c.host, header, body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("mail api returned http %d: %s", resp.StatusCode, resp.Body)
	}

	var result struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", fmt.Errorf("failed to decode mail response: %w", err)
	}
	if result.RequestID == "" {
		return "", fmt.Errorf("mail response missing requestId")
	}
	return result.RequestID, nil
}
