package subscriber

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

// NewRepoPG creates a PostgreSQL-backed subscriber repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cols = `id, external_id, name, email, last_login, created_at, updated_at`

func scan(row pgx.Row) (*Subscriber, error) {
	var s Subscriber
	err := row.Scan(&s.ID, &s.ExternalID, &s.Name, &s.Email,
		&s.LastLogin, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *repoPG) Upsert(ctx context.Context, externalID, name, email string) (*Subscriber, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO subscriber (id, external_id, name, email, last_login)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (external_id) DO UPDATE
			SET name = EXCLUDED.name, email = EXCLUDED.email,
				last_login = NOW(), updated_at = NOW()
		RETURNING `+cols,
		uuid.New(), externalID, name, email))
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Subscriber, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM subscriber WHERE id = $1`, id))
}

func (r *repoPG) GetByExternalID(ctx context.Context, externalID string) (*Subscriber, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM subscriber WHERE external_id = $1`, externalID))
}
