package subscription

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stima/stima/internal/domain/subscriber"
	"github.com/stima/stima/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a PostgreSQL-backed subscription repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Link(ctx context.Context, subscriberID, locationID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO subscriber_locations (id, subscriber_id, location_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_id, location_id) DO NOTHING`,
		uuid.New(), subscriberID, locationID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) Unlink(ctx context.Context, subscriberID, locationID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM subscriber_locations
		WHERE subscriber_id = $1 AND location_id = $2`,
		subscriberID, locationID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) ListBySubscriber(ctx context.Context, subscriberID uuid.UUID, limit, offset int) ([]*SubscribedLocation, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriber_locations WHERE subscriber_id = $1`,
		subscriberID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT sl.location_id, l.name, l.address, sl.created_at
		FROM subscriber_locations sl
		JOIN location l ON l.id = sl.location_id
		WHERE sl.subscriber_id = $1
		ORDER BY sl.created_at DESC
		LIMIT $2 OFFSET $3`,
		subscriberID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*SubscribedLocation
	for rows.Next() {
		var item SubscribedLocation
		if err := rows.Scan(&item.LocationID, &item.Name, &item.Address, &item.SubscribedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &item)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SubscribersByLocation(ctx context.Context, locationID uuid.UUID) ([]subscriber.Subscriber, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.id, s.external_id, s.name, s.email, s.last_login, s.created_at, s.updated_at
		FROM subscriber_locations sl
		JOIN subscriber s ON s.id = sl.subscriber_id
		WHERE sl.location_id = $1
		ORDER BY s.created_at`,
		locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []subscriber.Subscriber
	for rows.Next() {
		var s subscriber.Subscriber
		if err := rows.Scan(&s.ID, &s.ExternalID, &s.Name, &s.Email, &s.LastLogin, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
