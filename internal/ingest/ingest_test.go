package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/domain/bulletin"
	"github.com/stima/stima/internal/domain/match"
	"github.com/stima/stima/internal/domain/subscriber"
	"github.com/stima/stima/internal/platform/queue"
	"github.com/stima/stima/internal/tasks"
)

// Fixture bulletin text as pdftext would return it, dated after the fixed
// clock the tests run under.
const fixtureBulletin = `NAIROBI REGION

AREA: GARDEN CITY
DATE: Sunday 06.09.2026                         TIME: 9.00 A.M. - 5.00 P.M.
Garden City Mall, Thika Rd & adjacent customers.
`

const (
	urlA = "https://kplc.co.ke/img/full/a.pdf"
	urlB = "https://kplc.co.ke/img/full/b.pdf"
)

// -- Stubs --

type stubCrawler struct {
	listing  []string
	listErr  error
	pdfs     map[string][]byte
	fetchErr map[string]error
	fetched  []string
}

func (c *stubCrawler) ListBulletins(context.Context) ([]string, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.listing, nil
}

func (c *stubCrawler) FetchPDF(_ context.Context, url string) ([]byte, error) {
	c.fetched = append(c.fetched, url)
	if err := c.fetchErr[url]; err != nil {
		return nil, err
	}
	data, ok := c.pdfs[url]
	if !ok {
		return nil, fmt.Errorf("no pdf for %s", url)
	}
	return data, nil
}

type stubSources struct {
	known    map[string]bool
	manual   []string
	failures map[string]string
	cleared  []string
	onClear  func()
}

func (s *stubSources) Pending(_ context.Context, scraped []string) ([]string, error) {
	var out []string
	for _, u := range scraped {
		if !s.known[u] {
			out = append(out, u)
		}
	}
	return append(out, s.manual...), nil
}

func (s *stubSources) RecordFailure(_ context.Context, url, reason string) error {
	if s.failures == nil {
		s.failures = map[string]string{}
	}
	s.failures[url] = reason
	return nil
}

func (s *stubSources) ClearManual(_ context.Context, url string) error {
	s.cleared = append(s.cleared, url)
	if s.onClear != nil {
		s.onClear()
	}
	return nil
}

type stubOutages struct {
	id       uuid.UUID
	existing map[string]bool
	storeErr error
	stored   map[string][]bulletin.Region
}

func (o *stubOutages) StoreBulletin(_ context.Context, url string, regions []bulletin.Region) (uuid.UUID, bool, error) {
	if o.storeErr != nil {
		return uuid.Nil, false, o.storeErr
	}
	if o.stored == nil {
		o.stored = map[string][]bulletin.Region{}
	}
	o.stored[url] = regions
	return o.id, !o.existing[url], nil
}

type stubMatcher struct {
	affected []match.Affected
	err      error
	calls    []uuid.UUID
}

func (m *stubMatcher) AffectedSubscribers(_ context.Context, sourceID uuid.UUID) ([]match.Affected, error) {
	m.calls = append(m.calls, sourceID)
	if m.err != nil {
		return nil, m.err
	}
	return m.affected, nil
}

type stubAlerter struct {
	subjects []string
	details  []string
}

func (a *stubAlerter) Alert(_ context.Context, subject, detail string) (string, error) {
	a.subjects = append(a.subjects, subject)
	a.details = append(a.details, detail)
	return "alert-1", nil
}

// -- Fixture --

type ingestEnv struct {
	svc     *Service
	crawler *stubCrawler
	sources *stubSources
	outages *stubOutages
	matcher *stubMatcher
	alerter *stubAlerter
	rdb     *redis.Client
}

func newIngestEnv(t *testing.T) *ingestEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	env := &ingestEnv{
		crawler: &stubCrawler{pdfs: map[string][]byte{}, fetchErr: map[string]error{}},
		sources: &stubSources{known: map[string]bool{}},
		outages: &stubOutages{id: uuid.New(), existing: map[string]bool{}},
		matcher: &stubMatcher{},
		alerter: &stubAlerter{},
		rdb:     rdb,
	}
	env.svc = NewService(
		env.crawler,
		env.sources,
		env.outages,
		env.matcher,
		queue.New(rdb, zerolog.Nop()),
		env.alerter,
		zerolog.Nop(),
	)
	// Tests feed extracted text directly as the pdf body.
	env.svc.extract = func(data []byte) (string, error) { return string(data), nil }
	env.svc.now = func() time.Time { return time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC) }
	return env
}

func sampleAffected(name, email string, direct bool) match.Affected {
	from := time.Date(2026, 9, 6, 6, 0, 0, 0, time.UTC)
	return match.Affected{
		Subscriber: subscriber.Subscriber{ID: uuid.New(), Name: name, Email: email},
		SourceURL:  urlA,
		Direct:     direct,
		Rows: []match.Row{{
			LocationID:   uuid.New(),
			LocationName: "Garden City Mall",
			LineName:     "Garden City Mall",
			From:         from,
			To:           from.Add(8 * time.Hour),
		}},
	}
}

func queuedTasks(t *testing.T, rdb *redis.Client) []queue.Task {
	t.Helper()
	raws, err := rdb.LRange(context.Background(), "queue:tasks", 0, -1).Result()
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	out := make([]queue.Task, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal([]byte(raw), &out[i]); err != nil {
			t.Fatalf("unmarshal task: %v", err)
		}
	}
	return out
}

// -- Tests --

func TestCrawlIngestsNewBulletin(t *testing.T) {
	env := newIngestEnv(t)
	env.crawler.listing = []string{urlA}
	env.crawler.pdfs[urlA] = []byte(fixtureBulletin)
	env.matcher.affected = []match.Affected{
		sampleAffected("Alice", "alice@example.com", true),
		sampleAffected("Bob", "bob@example.com", false),
	}

	if err := env.svc.Crawl(context.Background()); err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	regions := env.outages.stored[urlA]
	if len(regions) != 1 || regions[0].Name != "NAIROBI" {
		t.Fatalf("stored regions = %+v, want one NAIROBI region", regions)
	}
	area := regions[0].Counties[0].Areas[0]
	if area.Name != "GARDEN CITY" {
		t.Errorf("area name = %q, want GARDEN CITY", area.Name)
	}
	wantFrom := time.Date(2026, 9, 6, 9, 0, 0, 0, bulletin.Nairobi())
	if !area.TimeFrame.From.Equal(wantFrom) {
		t.Errorf("area from = %v, want %v", area.TimeFrame.From, wantFrom)
	}
	if len(area.Locations) != 2 || area.Locations[0] != "Garden City Mall" || area.Locations[1] != "Thika Road" {
		t.Errorf("area locations = %v", area.Locations)
	}

	if len(env.matcher.calls) != 1 || env.matcher.calls[0] != env.outages.id {
		t.Errorf("matcher calls = %v, want [%s]", env.matcher.calls, env.outages.id)
	}
	queued := queuedTasks(t, env.rdb)
	if len(queued) != 2 {
		t.Fatalf("queued %d tasks, want 2", len(queued))
	}
	var payload tasks.AffectedSubscriberWithLocations
	if queued[0].Type != tasks.TypeSendEmailNotification {
		t.Errorf("task type = %q", queued[0].Type)
	}
	if err := json.Unmarshal(queued[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.SubscriberEmail != "alice@example.com" || !payload.DirectlyAffected {
		t.Errorf("first payload = %+v, want alice direct", payload)
	}

	if len(env.sources.cleared) != 1 || env.sources.cleared[0] != urlA {
		t.Errorf("cleared = %v, want [%s]", env.sources.cleared, urlA)
	}
	if len(env.sources.failures) != 0 {
		t.Errorf("failures = %v, want none", env.sources.failures)
	}
	if len(env.alerter.subjects) != 0 {
		t.Errorf("alerts = %v, want none", env.alerter.subjects)
	}
}

func TestCrawlSkipsKnownURLs(t *testing.T) {
	env := newIngestEnv(t)
	env.crawler.listing = []string{urlA}
	env.sources.known[urlA] = true

	if err := env.svc.Crawl(context.Background()); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(env.crawler.fetched) != 0 {
		t.Errorf("fetched = %v, want none", env.crawler.fetched)
	}
	if len(env.outages.stored) != 0 {
		t.Errorf("stored = %v, want none", env.outages.stored)
	}
}

func TestCrawlRematchesManualURL(t *testing.T) {
	// A URL re-added by hand whose bulletin is already stored still runs
	// matching; the dispatch ledger downstream suppresses duplicates.
	env := newIngestEnv(t)
	env.sources.manual = []string{urlB}
	env.crawler.pdfs[urlB] = []byte(fixtureBulletin)
	env.outages.existing[urlB] = true
	env.matcher.affected = []match.Affected{sampleAffected("Alice", "alice@example.com", true)}

	if err := env.svc.Crawl(context.Background()); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(env.matcher.calls) != 1 {
		t.Fatalf("matcher calls = %v, want 1", env.matcher.calls)
	}
	if got := queuedTasks(t, env.rdb); len(got) != 1 {
		t.Errorf("queued %d tasks, want 1", len(got))
	}
	if len(env.sources.cleared) != 1 || env.sources.cleared[0] != urlB {
		t.Errorf("cleared = %v, want [%s]", env.sources.cleared, urlB)
	}
}

func TestCrawlParksFetchFailure(t *testing.T) {
	env := newIngestEnv(t)
	env.crawler.listing = []string{urlA, urlB}
	env.crawler.fetchErr[urlA] = errors.New("status 502")
	env.crawler.pdfs[urlB] = []byte(fixtureBulletin)

	if err := env.svc.Crawl(context.Background()); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if reason := env.sources.failures[urlA]; !strings.Contains(reason, "status 502") {
		t.Errorf("failure reason = %q, want the fetch error", reason)
	}
	if len(env.alerter.subjects) != 1 || env.alerter.subjects[0] != "bulletin ingestion failed" {
		t.Errorf("alerts = %v", env.alerter.subjects)
	}
	if !strings.Contains(env.alerter.details[0], urlA) {
		t.Errorf("alert detail %q does not name the url", env.alerter.details[0])
	}
	// The second bulletin is unaffected.
	if len(env.sources.cleared) != 1 || env.sources.cleared[0] != urlB {
		t.Errorf("cleared = %v, want [%s]", env.sources.cleared, urlB)
	}
}

func TestCrawlParksUnparseableBulletin(t *testing.T) {
	env := newIngestEnv(t)
	env.crawler.listing = []string{urlA}
	env.crawler.pdfs[urlA] = []byte("scanned page with no recognisable headings")

	if err := env.svc.Crawl(context.Background()); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if _, ok := env.sources.failures[urlA]; !ok {
		t.Fatalf("url not parked, failures = %v", env.sources.failures)
	}
	if len(env.outages.stored) != 0 {
		t.Errorf("stored = %v, want none", env.outages.stored)
	}
	if len(env.sources.cleared) != 0 {
		t.Errorf("cleared = %v, want none", env.sources.cleared)
	}
}

func TestCrawlListFailure(t *testing.T) {
	env := newIngestEnv(t)
	env.crawler.listErr = errors.New("connection refused")

	err := env.svc.Crawl(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("Crawl err = %v, want the listing error", err)
	}
}

func TestIngestURLStoreFailure(t *testing.T) {
	env := newIngestEnv(t)
	env.crawler.pdfs[urlA] = []byte(fixtureBulletin)
	env.outages.storeErr = errors.New("deadlock detected")

	err := env.svc.IngestURL(context.Background(), urlA)
	if err == nil || !strings.Contains(err.Error(), "deadlock detected") {
		t.Fatalf("IngestURL err = %v, want the store error", err)
	}
	if got := queuedTasks(t, env.rdb); len(got) != 0 {
		t.Errorf("queued %d tasks, want none", len(got))
	}
	if len(env.sources.cleared) != 0 {
		t.Errorf("cleared = %v, want none", env.sources.cleared)
	}
}

func TestCrawlParksMatchFailure(t *testing.T) {
	env := newIngestEnv(t)
	env.crawler.listing = []string{urlA}
	env.crawler.pdfs[urlA] = []byte(fixtureBulletin)
	env.matcher.err = errors.New("pool exhausted")

	if err := env.svc.Crawl(context.Background()); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	// Stored but not cleared: the next crawl retries matching.
	if len(env.outages.stored) != 1 {
		t.Errorf("stored = %v, want the bulletin", env.outages.stored)
	}
	if _, ok := env.sources.failures[urlA]; !ok {
		t.Errorf("url not parked, failures = %v", env.sources.failures)
	}
	if len(env.sources.cleared) != 0 {
		t.Errorf("cleared = %v, want none", env.sources.cleared)
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	env := newIngestEnv(t)
	sched := NewScheduler(env.svc, "every hour on the hour", zerolog.Nop())

	err := sched.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid crawl schedule") {
		t.Fatalf("Run err = %v, want schedule validation error", err)
	}
}

func TestSchedulerRunsInitialCrawl(t *testing.T) {
	env := newIngestEnv(t)
	env.crawler.listing = []string{urlA}
	env.crawler.pdfs[urlA] = []byte(fixtureBulletin)

	// Stop the scheduler as soon as the first bulletin completes.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.sources.onClear = cancel

	sched := NewScheduler(env.svc, "@every 1h", zerolog.Nop())
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(env.crawler.fetched) != 1 {
		t.Errorf("fetched = %v, want the initial crawl", env.crawler.fetched)
	}
}
