package source

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

// NewRepoPG creates a PostgreSQL-backed source registry repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) ListURLs(ctx context.Context) ([]string, error) {
	return listStrings(ctx, r.conn(ctx), `SELECT url FROM source ORDER BY created_at`)
}

func (r *repoPG) GetByURL(ctx context.Context, url string) (*Source, error) {
	var s Source
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, url, created_at FROM source WHERE url = $1`, url).
		Scan(&s.ID, &s.URL, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) ListManualURLs(ctx context.Context) ([]string, error) {
	return listStrings(ctx, r.conn(ctx), `SELECT url FROM manually_added_sources ORDER BY created_at`)
}

func (r *repoPG) AddManual(ctx context.Context, url, reason string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO manually_added_sources (id, url, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO UPDATE SET reason = EXCLUDED.reason`,
		uuid.New(), url, reason)
	return err
}

func (r *repoPG) DeleteManual(ctx context.Context, url string) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM manually_added_sources WHERE url = $1`, url)
	return err
}

func listStrings(ctx context.Context, q queryable, sql string) ([]string, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
