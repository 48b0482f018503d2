package inbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"finagg/libs/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS inbox_events (
	event_id    text PRIMARY KEY,
	topic       text NOT NULL,
	recorded_at timestamptz NOT NULL DEFAULT now()
);
`

// Repository makes consumption idempotent per envelope id: the first Record
// for an id wins, redeliveries report false.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *Repository) Record(ctx context.Context, eventID string, topic string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, topic)
		VALUES ($1, $2)
	`, eventID, topic)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}

	return false, err
}
