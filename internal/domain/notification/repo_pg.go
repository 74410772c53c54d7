package notification

import (
	"context"

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

// NewRepoPG creates a PostgreSQL-backed notification ledger repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) StrategyByName(ctx context.Context, name string) (*Strategy, error) {
	var s Strategy
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name FROM notification_strategy WHERE name = $1`, name).
		Scan(&s.ID, &s.Name)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) SentLineNames(ctx context.Context, sourceID, subscriberID, strategyID uuid.UUID) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT line_name FROM notification_record
		WHERE source_id = $1 AND subscriber_id = $2 AND strategy_id = $3`,
		sourceID, subscriberID, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// InsertRecords writes the ledger rows of one acknowledged send. A key
// already present means another worker recorded the same delivery first;
// that row is skipped rather than failed.
func (r *repoPG) InsertRecords(ctx context.Context, records []*Record) error {
	conn := r.conn(ctx)
	for _, rec := range records {
		_, err := conn.Exec(ctx, `
			INSERT INTO notification_record
				(id, source_id, subscriber_id, line_name, strategy_id,
				 location_id_matched, directly_affected, external_send_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (source_id, subscriber_id, line_name, strategy_id) DO NOTHING`,
			rec.ID, rec.SourceID, rec.SubscriberID, rec.LineName, rec.StrategyID,
			rec.LocationIDMatched, rec.DirectlyAffected, rec.ExternalSendID)
		if err != nil {
			return err
		}
	}
	return nil
}
