package outage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stima/stima/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a PostgreSQL-backed outage repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) ListCounties(ctx context.Context) ([]County, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name FROM county ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counties []County
	for rows.Next() {
		var c County
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		counties = append(counties, c)
	}
	return counties, rows.Err()
}

func (r *repoPG) UpsertSource(ctx context.Context, url string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO source (id, url) VALUES ($1, $2)
		ON CONFLICT (url) DO NOTHING
		RETURNING id`, uuid.New(), url).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, err
	}
	err = r.conn(ctx).QueryRow(ctx, `SELECT id FROM source WHERE url = $1`, url).Scan(&id)
	return id, false, err
}

func (r *repoPG) UpsertArea(ctx context.Context, countyID uuid.UUID, name string) (uuid.UUID, error) {
	return r.upsert(ctx, `
		INSERT INTO area (id, county_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (county_id, name) DO NOTHING
		RETURNING id`,
		`SELECT id FROM area WHERE county_id = $1 AND name = $2`,
		countyID, name)
}

func (r *repoPG) InsertSchedule(ctx context.Context, areaID, sourceID uuid.UUID, start, end time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blackout_schedule (id, area_id, source_id, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)`,
		id, areaID, sourceID, start.UTC(), end.UTC())
	return id, err
}

func (r *repoPG) UpsertLine(ctx context.Context, areaID uuid.UUID, name string) (uuid.UUID, error) {
	return r.upsert(ctx, `
		INSERT INTO line (id, area_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (area_id, name) DO NOTHING
		RETURNING id`,
		`SELECT id FROM line WHERE area_id = $1 AND name = $2`,
		areaID, name)
}

func (r *repoPG) LinkLineSchedule(ctx context.Context, lineID, scheduleID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO line_schedule (line_id, schedule_id) VALUES ($1, $2)
		ON CONFLICT (line_id, schedule_id) DO NOTHING`,
		lineID, scheduleID)
	return err
}

// upsert runs an insert whose conflict clause does nothing, falling back to
// the lookup when the row already existed.
func (r *repoPG) upsert(ctx context.Context, insertSQL, selectSQL string, parentID uuid.UUID, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, insertSQL, uuid.New(), parentID, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}
	err = r.conn(ctx).QueryRow(ctx, selectSQL, parentID, name).Scan(&id)
	return id, err
}

const upcomingSQL = `
	SELECT s.id, s.area_id, a.name, s.source_id, src.url, s.start_time, s.end_time,
		COALESCE(array_agg(l.name ORDER BY l.name) FILTER (WHERE l.name IS NOT NULL), '{}')
	FROM blackout_schedule s
	JOIN area a ON a.id = s.area_id
	JOIN source src ON src.id = s.source_id
	LEFT JOIN line_schedule ls ON ls.schedule_id = s.id
	LEFT JOIN line l ON l.id = ls.line_id
	WHERE s.end_time > $1`

const upcomingGroupSQL = `
	GROUP BY s.id, s.area_id, a.name, s.source_id, src.url, s.start_time, s.end_time
	ORDER BY s.start_time, a.name`

func (r *repoPG) UpcomingAll(ctx context.Context, now time.Time) ([]AreaOutage, error) {
	rows, err := r.conn(ctx).Query(ctx, upcomingSQL+upcomingGroupSQL, now.UTC())
	if err != nil {
		return nil, err
	}
	return scanOutages(rows)
}

func (r *repoPG) UpcomingBySource(ctx context.Context, sourceID uuid.UUID, now time.Time) ([]AreaOutage, error) {
	rows, err := r.conn(ctx).Query(ctx,
		upcomingSQL+` AND s.source_id = $2`+upcomingGroupSQL, now.UTC(), sourceID)
	if err != nil {
		return nil, err
	}
	return scanOutages(rows)
}

func scanOutages(rows pgx.Rows) ([]AreaOutage, error) {
	defer rows.Close()
	var outages []AreaOutage
	for rows.Next() {
		var o AreaOutage
		if err := rows.Scan(&o.ScheduleID, &o.AreaID, &o.AreaName, &o.SourceID,
			&o.SourceURL, &o.StartTime, &o.EndTime, &o.Lines); err != nil {
			return nil, err
		}
		outages = append(outages, o)
	}
	return outages, rows.Err()
}
