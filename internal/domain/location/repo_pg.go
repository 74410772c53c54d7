package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

// NewRepoPG creates a PostgreSQL-backed location repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const locationCols = `id, external_id, name, address, sanitized_address, api_response, created_at`

func scanLocation(row pgx.Row) (*Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.ExternalID, &l.Name, &l.Address, &l.SanitizedAddress, &l.APIResponse, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	loc, err := scanLocation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+locationCols+` FROM location WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return loc, err
}

func (r *repoPG) GetByExternalID(ctx context.Context, externalID string) (*Location, error) {
	loc, err := scanLocation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+locationCols+` FROM location WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return loc, err
}

func (r *repoPG) Create(ctx context.Context, loc *Location) (*Location, error) {
	created, err := scanLocation(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO location (id, external_id, name, address, sanitized_address, api_response)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING `+locationCols,
		loc.ID, loc.ExternalID, loc.Name, loc.Address, loc.SanitizedAddress, loc.APIResponse))
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to create location %s: %w", loc.ExternalID, err)
	}
	// Lost a race against another worker resolving the same place.
	return r.GetByExternalID(ctx, loc.ExternalID)
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Location, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+locationCols+` FROM location`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

const nearbyCols = `id, location_id, source_url, response, created_at`

func scanNearby(row pgx.Row) (*NearbyLocations, error) {
	var n NearbyLocations
	err := row.Scan(&n.ID, &n.LocationID, &n.SourceURL, &n.Response, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *repoPG) GetNearbyByLocation(ctx context.Context, locationID uuid.UUID) (*NearbyLocations, error) {
	n, err := scanNearby(r.conn(ctx).QueryRow(ctx,
		`SELECT `+nearbyCols+` FROM nearby_locations WHERE location_id = $1`, locationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (r *repoPG) CreateNearby(ctx context.Context, n *NearbyLocations) (*NearbyLocations, error) {
	created, err := scanNearby(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO nearby_locations (id, location_id, source_url, response)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location_id) DO NOTHING
		RETURNING `+nearbyCols,
		n.ID, n.LocationID, n.SourceURL, n.Response))
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to cache nearby locations for %s: %w", n.LocationID, err)
	}
	return r.GetNearbyByLocation(ctx, n.LocationID)
}

func (r *repoPG) ListAllNearby(ctx context.Context) ([]*NearbyLocations, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+nearbyCols+` FROM nearby_locations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*NearbyLocations
	for rows.Next() {
		n, err := scanNearby(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repoPG) GetTextSearch(ctx context.Context, term string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT response FROM text_search_cache WHERE term = $1`, term).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return raw, err
}

func (r *repoPG) SaveTextSearch(ctx context.Context, term string, response json.RawMessage) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO text_search_cache (id, term, response)
		VALUES ($1, $2, $3)
		ON CONFLICT (term) DO UPDATE SET response = EXCLUDED.response`,
		uuid.New(), term, response)
	return err
}
