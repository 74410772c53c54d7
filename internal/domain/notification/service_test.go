package notification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/domain/source"
	"github.com/stima/stima/internal/platform/mail"
	"github.com/stima/stima/internal/platform/queue"
	"github.com/stima/stima/internal/platform/ratelimit"
)

// -- Mocks --

type mockRepo struct {
	strategy  Strategy
	sent      map[string][]string
	inserted  []*Record
	insertErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		strategy: Strategy{ID: uuid.New(), Name: EmailStrategy},
		sent:     make(map[string][]string),
	}
}

func sentKey(sourceID, subscriberID, strategyID uuid.UUID) string {
	return sourceID.String() + "|" + subscriberID.String() + "|" + strategyID.String()
}

func (m *mockRepo) StrategyByName(_ context.Context, name string) (*Strategy, error) {
	if name != m.strategy.Name {
		return nil, fmt.Errorf("no strategy %s", name)
	}
	return &m.strategy, nil
}

func (m *mockRepo) SentLineNames(_ context.Context, sourceID, subscriberID, strategyID uuid.UUID) ([]string, error) {
	return m.sent[sentKey(sourceID, subscriberID, strategyID)], nil
}

func (m *mockRepo) InsertRecords(_ context.Context, records []*Record) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, records...)
	for _, r := range records {
		key := sentKey(r.SourceID, r.SubscriberID, r.StrategyID)
		m.sent[key] = append(m.sent[key], r.LineName)
	}
	return nil
}

type mockSources struct {
	byURL map[string]*source.Source
}

func (m *mockSources) Get(_ context.Context, url string) (*source.Source, error) {
	s, ok := m.byURL[url]
	if !ok {
		return nil, fmt.Errorf("no source for %s", url)
	}
	return s, nil
}

type mockMailer struct {
	messages []mail.Message
	sendErr  error
}

func (m *mockMailer) Send(_ context.Context, msg mail.Message) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.messages = append(m.messages, msg)
	return fmt.Sprintf("req-%d", len(m.messages)), nil
}

// -- Fixture --

type testEnv struct {
	dispatcher *Dispatcher
	repo       *mockRepo
	mailer     *mockMailer
	redis      *miniredis.Miniredis
	sourceID   uuid.UUID
}

const bulletinURL = "https://kplc.co.ke/img/full/outage.pdf"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	limiter := ratelimit.NewLimiter(rdb, map[ratelimit.Bucket]float64{ratelimit.Email: 1})
	if err := mr.Set(ratelimit.Email.Key(), "10"); err != nil {
		t.Fatalf("failed to fill the email bucket: %v", err)
	}

	repo := newMockRepo()
	mailer := &mockMailer{}
	sourceID := uuid.New()
	sources := &mockSources{byURL: map[string]*source.Source{
		bulletinURL: {ID: sourceID, URL: bulletinURL},
	}}
	return &testEnv{
		dispatcher: NewDispatcher(repo, sources, mailer, limiter, zerolog.Nop()),
		repo:       repo,
		mailer:     mailer,
		redis:      mr,
		sourceID:   sourceID,
	}
}

func sampleNotice(direct bool) *Notice {
	from := time.Date(2026, 9, 1, 5, 0, 0, 0, time.UTC)
	return &Notice{
		SourceURL:        bulletinURL,
		SubscriberID:     uuid.New(),
		SubscriberName:   "Alice",
		SubscriberEmail:  "alice@example.com",
		DirectlyAffected: direct,
		Locations: []NoticeLocation{
			{
				LocationID:   uuid.New(),
				LocationName: "Garden City Mall",
				LineName:     "Garden City Mall",
				From:         from,
				To:           from.Add(5 * time.Hour),
			},
			{
				LocationID:   uuid.New(),
				LocationName: "Roysambu Apartments",
				LineName:     "Roysambu",
				From:         from,
				To:           from.Add(5 * time.Hour),
			},
		},
	}
}

// -- Tests --

func TestDispatchDelivers(t *testing.T) {
	env := newTestEnv(t)
	notice := sampleNotice(true)

	if err := env.dispatcher.Dispatch(context.Background(), notice); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(env.mailer.messages) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(env.mailer.messages))
	}
	msg := env.mailer.messages[0]
	if msg.ToEmail != "alice@example.com" || msg.RecipientName != "Alice" {
		t.Errorf("recipient = %q <%s>", msg.RecipientName, msg.ToEmail)
	}
	if msg.AffectedState != mail.StateDirect {
		t.Errorf("affected state = %q, want %q", msg.AffectedState, mail.StateDirect)
	}
	if msg.Link != bulletinURL {
		t.Errorf("link = %q", msg.Link)
	}
	if len(msg.Locations) != 2 {
		t.Fatalf("rendered rows = %+v, want 2", msg.Locations)
	}
	// 05:00 UTC renders as 08:00 in Nairobi.
	row := msg.Locations[0]
	if row.Location != "Garden City Mall" || row.Date != "01/09/2026" ||
		row.StartTime != "08:00" || row.EndTime != "13:00" {
		t.Errorf("rendered row = %+v", row)
	}

	if len(env.repo.inserted) != 2 {
		t.Fatalf("ledger rows = %d, want 2", len(env.repo.inserted))
	}
	for _, rec := range env.repo.inserted {
		if rec.SourceID != env.sourceID {
			t.Errorf("record source = %s, want %s", rec.SourceID, env.sourceID)
		}
		if rec.SubscriberID != notice.SubscriberID {
			t.Errorf("record subscriber = %s", rec.SubscriberID)
		}
		if rec.ExternalSendID != "req-1" {
			t.Errorf("record send id = %q, want req-1", rec.ExternalSendID)
		}
		if !rec.DirectlyAffected {
			t.Error("record lost the affected state")
		}
	}

	if got, err := env.redis.Get(ratelimit.Email.Key()); err != nil || got != "9" {
		t.Errorf("email bucket after send = %q (%v), want one token consumed", got, err)
	}
}

func TestDispatchSuppressed(t *testing.T) {
	env := newTestEnv(t)
	notice := sampleNotice(false)
	key := sentKey(env.sourceID, notice.SubscriberID, env.repo.strategy.ID)
	env.repo.sent[key] = []string{"Garden City Mall", "Roysambu"}

	if err := env.dispatcher.Dispatch(context.Background(), notice); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(env.mailer.messages) != 0 {
		t.Error("suppressed dispatch still contacted the mail API")
	}
	if len(env.repo.inserted) != 0 {
		t.Error("suppressed dispatch wrote ledger rows")
	}
}

func TestDispatchReplayAfterDelivery(t *testing.T) {
	env := newTestEnv(t)
	notice := sampleNotice(true)
	ctx := context.Background()

	if err := env.dispatcher.Dispatch(ctx, notice); err != nil {
		t.Fatalf("first Dispatch failed: %v", err)
	}
	if err := env.dispatcher.Dispatch(ctx, notice); err != nil {
		t.Fatalf("replayed Dispatch failed: %v", err)
	}
	if len(env.mailer.messages) != 1 {
		t.Errorf("emails sent = %d, want exactly 1 across the replay", len(env.mailer.messages))
	}
	if len(env.repo.inserted) != 2 {
		t.Errorf("ledger rows = %d, want 2", len(env.repo.inserted))
	}
}

func TestDispatchOnlyFreshLines(t *testing.T) {
	env := newTestEnv(t)
	notice := sampleNotice(false)
	key := sentKey(env.sourceID, notice.SubscriberID, env.repo.strategy.ID)
	env.repo.sent[key] = []string{"Garden City Mall"}

	if err := env.dispatcher.Dispatch(context.Background(), notice); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(env.mailer.messages) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(env.mailer.messages))
	}
	msg := env.mailer.messages[0]
	if len(msg.Locations) != 1 || msg.Locations[0].Location != "Roysambu Apartments" {
		t.Errorf("rendered rows = %+v, want only the fresh line", msg.Locations)
	}
	if msg.AffectedState != mail.StatePotential {
		t.Errorf("affected state = %q", msg.AffectedState)
	}
	if len(env.repo.inserted) != 1 || env.repo.inserted[0].LineName != "Roysambu" {
		t.Errorf("ledger rows = %+v", env.repo.inserted)
	}
}

func TestDispatchRateLimited(t *testing.T) {
	env := newTestEnv(t)
	if err := env.redis.Set(ratelimit.Email.Key(), "0"); err != nil {
		t.Fatalf("failed to drain the bucket: %v", err)
	}

	err := env.dispatcher.Dispatch(context.Background(), sampleNotice(true))
	var retry *queue.RetryError
	if !errors.As(err, &retry) {
		t.Fatalf("error = %v, want a retry", err)
	}
	if retry.After <= 0 {
		t.Errorf("retry hint = %s", retry.After)
	}
	if len(env.mailer.messages) != 0 {
		t.Error("denied dispatch still contacted the mail API")
	}
	if len(env.repo.inserted) != 0 {
		t.Error("denied dispatch wrote ledger rows")
	}
}

func TestDispatchRecordFailureAfterSend(t *testing.T) {
	env := newTestEnv(t)
	env.repo.insertErr = errors.New("connection reset")

	err := env.dispatcher.Dispatch(context.Background(), sampleNotice(true))
	if err == nil {
		t.Fatal("Dispatch swallowed the ledger failure")
	}
	var retry *queue.RetryError
	var expected *queue.ExpectedError
	if errors.As(err, &retry) || errors.As(err, &expected) {
		t.Fatalf("ledger failure must be unexpected, got %v", err)
	}
	if len(env.mailer.messages) != 1 {
		t.Errorf("emails sent = %d, want 1 before the failure", len(env.mailer.messages))
	}
}

func TestDispatchSameLineTwoLocations(t *testing.T) {
	env := newTestEnv(t)
	notice := sampleNotice(false)
	notice.Locations[1].LineName = "Garden City Mall"

	if err := env.dispatcher.Dispatch(context.Background(), notice); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(env.mailer.messages) != 1 || len(env.mailer.messages[0].Locations) != 2 {
		t.Fatalf("email should list both locations: %+v", env.mailer.messages)
	}
	if len(env.repo.inserted) != 1 {
		t.Fatalf("ledger rows = %+v, want one per line name", env.repo.inserted)
	}
	if env.repo.inserted[0].LocationIDMatched != notice.Locations[0].LocationID {
		t.Error("record should stamp the first matching location")
	}
}
