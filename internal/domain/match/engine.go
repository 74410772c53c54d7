package match

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/domain/location"
	"github.com/stima/stima/internal/domain/outage"
	"github.com/stima/stima/internal/domain/subscriber"
	"github.com/stima/stima/internal/platform/search"
)

// OutageSource yields the upcoming outage rows to match against.
type OutageSource interface {
	UpcomingBySource(ctx context.Context, sourceID uuid.UUID, now time.Time) ([]outage.AreaOutage, error)
	UpcomingAll(ctx context.Context, now time.Time) ([]outage.AreaOutage, error)
}

// LocationSource resolves matched location ids to their rows.
type LocationSource interface {
	Get(ctx context.Context, id uuid.UUID) (*location.Location, error)
}

// SubscriberSource fans matched locations out to the people watching them.
type SubscriberSource interface {
	SubscribersByLocation(ctx context.Context, locationID uuid.UUID) ([]subscriber.Subscriber, error)
}

// Row is one matched (location, announced name, outage window) entry. For a
// line hit LineName is the announced line; for an area hit it is the area
// name itself.
type Row struct {
	LocationID   uuid.UUID
	LocationName string
	LineName     string
	From         time.Time
	To           time.Time
}

// Affected is everything one subscriber must be told about one bulletin
// under one classification. A subscriber hit both directly and potentially
// through different locations yields two values.
type Affected struct {
	Subscriber subscriber.Subscriber
	SourceURL  string
	Direct     bool
	Rows       []Row
}

// Classified is the per-source classification of a single location.
type Classified struct {
	SourceID  uuid.UUID
	SourceURL string
	Direct    bool
	Rows      []Row
}

// Engine runs the textual matching between announced outages and the two
// search indexes. It holds no state of its own; the indexes are owned by
// the location service and kept current there.
type Engine struct {
	outages     OutageSource
	locations   LocationSource
	subscribers SubscriberSource
	primary     *search.Index
	nearby      *search.Index
	log         zerolog.Logger
	now         func() time.Time
}

func NewEngine(outages OutageSource, locations LocationSource, subscribers SubscriberSource, primary, nearby *search.Index, log zerolog.Logger) *Engine {
	return &Engine{
		outages:     outages,
		locations:   locations,
		subscribers: subscribers,
		primary:     primary,
		nearby:      nearby,
		log:         log.With().Str("component", "match").Logger(),
		now:         time.Now,
	}
}

// AffectedSubscribers matches every location against one bulletin's
// upcoming outages and fans the hits out to subscribers: one value per
// (subscriber, classification), each carrying all of that subscriber's
// matched locations.
func (e *Engine) AffectedSubscribers(ctx context.Context, sourceID uuid.UUID) ([]Affected, error) {
	outages, err := e.outages.UpcomingBySource(ctx, sourceID, e.now())
	if err != nil {
		return nil, err
	}
	groups := e.matchOutages(outages)

	type affectedKey struct {
		subscriberID uuid.UUID
		sourceID     uuid.UUID
		direct       bool
	}
	bySubscriber := make(map[affectedKey]*Affected)
	names := make(map[uuid.UUID]string)

	for _, key := range sortedKeys(groups) {
		direct, rows := classify(groups[key])
		if len(rows) == 0 {
			continue
		}
		if err := e.fillNames(ctx, rows, names); err != nil {
			return nil, err
		}
		subs, err := e.subscribers.SubscribersByLocation(ctx, key.locationID)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			k := affectedKey{subscriberID: sub.ID, sourceID: key.sourceID, direct: direct}
			aff, ok := bySubscriber[k]
			if !ok {
				aff = &Affected{Subscriber: sub, SourceURL: groups[key].sourceURL, Direct: direct}
				bySubscriber[k] = aff
			}
			aff.Rows = append(aff.Rows, rows...)
		}
	}

	out := make([]Affected, 0, len(bySubscriber))
	for _, aff := range bySubscriber {
		sortRows(aff.Rows)
		out = append(out, *aff)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subscriber.ID != out[j].Subscriber.ID {
			return out[i].Subscriber.ID.String() < out[j].Subscriber.ID.String()
		}
		if out[i].SourceURL != out[j].SourceURL {
			return out[i].SourceURL < out[j].SourceURL
		}
		return out[i].Direct && !out[j].Direct
	})
	e.log.Debug().
		Str("source_id", sourceID.String()).
		Int("outages", len(outages)).
		Int("notifications", len(out)).
		Msg("bulletin matched against subscriber locations")
	return out, nil
}

// ClassifyLocation matches one location against every upcoming outage and
// returns its classification per source. A location hitting the primary
// index for a source is direct for that source; its nearby hits for the
// same source are shadowed.
func (e *Engine) ClassifyLocation(ctx context.Context, locationID uuid.UUID) ([]Classified, error) {
	outages, err := e.outages.UpcomingAll(ctx, e.now())
	if err != nil {
		return nil, err
	}
	groups := e.matchOutages(outages)
	names := make(map[uuid.UUID]string)

	var out []Classified
	for _, key := range sortedKeys(groups) {
		if key.locationID != locationID {
			continue
		}
		direct, rows := classify(groups[key])
		if len(rows) == 0 {
			continue
		}
		if err := e.fillNames(ctx, rows, names); err != nil {
			return nil, err
		}
		out = append(out, Classified{
			SourceID:  key.sourceID,
			SourceURL: groups[key].sourceURL,
			Direct:    direct,
			Rows:      rows,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceURL < out[j].SourceURL })
	return out, nil
}

type groupKey struct {
	locationID uuid.UUID
	sourceID   uuid.UUID
}

type rowKey struct {
	name       string
	scheduleID uuid.UUID
}

// group collects one location's hits under one source, keeping direct and
// potential rows apart until classification.
type group struct {
	sourceURL string
	direct    map[rowKey]Row
	potential map[rowKey]Row
}

// matchOutages runs every candidate query and buckets the hits per
// (location, source). Line candidates are wrapped with each announced area
// name against the primary index and used bare against the nearby index;
// area names query the nearby index only.
func (e *Engine) matchOutages(outages []outage.AreaOutage) map[groupKey]*group {
	groups := make(map[groupKey]*group)
	add := func(direct bool, id uuid.UUID, o outage.AreaOutage, name string) {
		key := groupKey{locationID: id, sourceID: o.SourceID}
		g, ok := groups[key]
		if !ok {
			g = &group{
				sourceURL: o.SourceURL,
				direct:    make(map[rowKey]Row),
				potential: make(map[rowKey]Row),
			}
			groups[key] = g
		}
		rows := g.potential
		if direct {
			rows = g.direct
		}
		rows[rowKey{name: name, scheduleID: o.ScheduleID}] = Row{
			LocationID: id,
			LineName:   name,
			From:       o.StartTime,
			To:         o.EndTime,
		}
	}

	for _, o := range outages {
		areas := AreaNames(o.AreaName)
		var areaCandidates []string
		for _, area := range areas {
			areaCandidates = append(areaCandidates, Candidates(area)...)
		}

		for _, line := range o.Lines {
			for _, cand := range Candidates(line) {
				for _, area := range areaCandidates {
					for _, id := range e.primary.Search(cand + " " + area) {
						add(true, id, o, line)
					}
				}
				for _, id := range e.nearby.Search(cand) {
					add(false, id, o, line)
				}
			}
		}
		for _, area := range areas {
			for _, cand := range Candidates(area) {
				for _, id := range e.nearby.Search(cand) {
					add(false, id, o, area)
				}
			}
		}
	}
	return groups
}

// classify applies the precedence rule: any direct hit makes the location
// directly affected and its potential hits for that source are dropped.
func classify(g *group) (bool, []Row) {
	pick := g.potential
	direct := false
	if len(g.direct) > 0 {
		pick = g.direct
		direct = true
	}
	rows := make([]Row, 0, len(pick))
	for _, r := range pick {
		rows = append(rows, r)
	}
	sortRows(rows)
	return direct, rows
}

func (e *Engine) fillNames(ctx context.Context, rows []Row, cache map[uuid.UUID]string) error {
	for i := range rows {
		name, ok := cache[rows[i].LocationID]
		if !ok {
			loc, err := e.locations.Get(ctx, rows[i].LocationID)
			if err != nil {
				return fmt.Errorf("failed to load matched location %s: %w", rows[i].LocationID, err)
			}
			name = loc.Name
			cache[rows[i].LocationID] = name
		}
		rows[i].LocationName = name
	}
	return nil
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].From.Equal(rows[j].From) {
			return rows[i].From.Before(rows[j].From)
		}
		if rows[i].LineName != rows[j].LineName {
			return rows[i].LineName < rows[j].LineName
		}
		return rows[i].LocationID.String() < rows[j].LocationID.String()
	})
}

func sortedKeys(groups map[groupKey]*group) []groupKey {
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].locationID != keys[j].locationID {
			return keys[i].locationID.String() < keys[j].locationID.String()
		}
		return keys[i].sourceID.String() < keys[j].sourceID.String()
	})
	return keys
}
