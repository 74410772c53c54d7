package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/domain/bulletin"
	"github.com/stima/stima/internal/domain/source"
	"github.com/stima/stima/internal/platform/mail"
	"github.com/stima/stima/internal/platform/metrics"
	"github.com/stima/stima/internal/platform/queue"
	"github.com/stima/stima/internal/platform/ratelimit"
)

// Sources resolves bulletin URLs back to their source rows.
type Sources interface {
	Get(ctx context.Context, url string) (*source.Source, error)
}

// Mailer sends a rendered notice and returns the provider's request id.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) (string, error)
}

// Dispatcher turns affected-subscriber payloads into emails, exactly once
// per idempotency key. Dispatch is safe to re-run: replays reduce to the
// keys the ledger has not seen yet.
type Dispatcher struct {
	repo    Repository
	sources Sources
	mailer  Mailer
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

func NewDispatcher(repo Repository, sources Sources, mailer Mailer, limiter *ratelimit.Limiter, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		sources: sources,
		mailer:  mailer,
		limiter: limiter,
		log:     log.With().Str("component", "notification").Logger(),
	}
}

// Dispatch delivers one notice. Rows whose line name is already in the
// ledger for this (source, subscriber, channel) are dropped; when nothing
// is left the send is suppressed without touching the mail API. A denied
// email token surfaces as a queue retry. The ledger rows are written only
// after the mail service acknowledged the send.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notice) error {
	src, err := d.sources.Get(ctx, n.SourceURL)
	if err != nil {
		return fmt.Errorf("failed to resolve source %s: %w", n.SourceURL, err)
	}
	strategy, err := d.repo.StrategyByName(ctx, EmailStrategy)
	if err != nil {
		return fmt.Errorf("failed to resolve strategy %s: %w", EmailStrategy, err)
	}

	sent, err := d.repo.SentLineNames(ctx, src.ID, n.SubscriberID, strategy.ID)
	if err != nil {
		return fmt.Errorf("failed to read the delivery ledger: %w", err)
	}
	seen := make(map[string]struct{}, len(sent))
	for _, name := range sent {
		seen[name] = struct{}{}
	}
	fresh := make([]NoticeLocation, 0, len(n.Locations))
	for _, loc := range n.Locations {
		if _, ok := seen[loc.LineName]; !ok {
			fresh = append(fresh, loc)
		}
	}
	if len(fresh) == 0 {
		metrics.NotificationsSuppressed.Inc()
		d.log.Info().
			Str("subscriber_id", n.SubscriberID.String()).
			Str("source_url", n.SourceURL).
			Msg("every line already delivered, send suppressed")
		return nil
	}

	decision, err := d.limiter.Allow(ctx, ratelimit.Email)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return queue.Retry(decision.RetryAfter)
	}

	sendID, err := d.mailer.Send(ctx, render(n, fresh))
	if err != nil {
		return err
	}

	if err := d.repo.InsertRecords(ctx, d.records(src.ID, strategy.ID, n, fresh, sendID)); err != nil {
		return fmt.Errorf("send %s delivered but not recorded: %w", sendID, err)
	}

	state := mail.StatePotential
	if n.DirectlyAffected {
		state = mail.StateDirect
	}
	metrics.NotificationsSent.WithLabelValues(state).Inc()
	d.log.Info().
		Str("subscriber_id", n.SubscriberID.String()).
		Str("source_url", n.SourceURL).
		Str("send_id", sendID).
		Int("lines", len(fresh)).
		Str("affected_state", state).
		Msg("notification delivered")
	return nil
}

// records builds one ledger row per fresh line name. Two rows announcing
// the same line through different locations share a key, so only the first
// location is stamped on the record.
func (d *Dispatcher) records(sourceID, strategyID uuid.UUID, n *Notice, fresh []NoticeLocation, sendID string) []*Record {
	records := make([]*Record, 0, len(fresh))
	recorded := make(map[string]struct{}, len(fresh))
	for _, loc := range fresh {
		if _, ok := recorded[loc.LineName]; ok {
			continue
		}
		recorded[loc.LineName] = struct{}{}
		records = append(records, &Record{
			ID:                uuid.New(),
			SourceID:          sourceID,
			SubscriberID:      n.SubscriberID,
			LineName:          loc.LineName,
			StrategyID:        strategyID,
			LocationIDMatched: loc.LocationID,
			DirectlyAffected:  n.DirectlyAffected,
			ExternalSendID:    sendID,
		})
	}
	return records
}

// render formats the outage table in the utility's local time.
func render(n *Notice, rows []NoticeLocation) mail.Message {
	state := mail.StatePotential
	if n.DirectlyAffected {
		state = mail.StateDirect
	}
	tz := bulletin.Nairobi()
	locations := make([]mail.AffectedLocation, 0, len(rows))
	for _, r := range rows {
		locations = append(locations, mail.AffectedLocation{
			Location:  r.LocationName,
			Date:      r.From.In(tz).Format("02/01/2006"),
			StartTime: r.From.In(tz).Format("15:04"),
			EndTime:   r.To.In(tz).Format("15:04"),
		})
	}
	return mail.Message{
		ToEmail:       n.SubscriberEmail,
		RecipientName: n.SubscriberName,
		AffectedState: state,
		Link:          n.SourceURL,
		Locations:     locations,
	}
}
