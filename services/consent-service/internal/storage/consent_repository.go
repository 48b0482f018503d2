package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"finagg/libs/db"
)

var ErrNotFound = errors.New("consent not found")

const (
	StatusRequested = "requested"
	StatusGranted   = "granted"
	StatusRevoked   = "revoked"
	StatusExpired   = "expired"
)

type Consent struct {
	ID          string
	UserID      string
	Institution string
	Status      string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS consents (
	id          uuid PRIMARY KEY,
	user_id     uuid NOT NULL,
	institution text NOT NULL,
	status      text NOT NULL,
	expires_at  timestamptz,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS consents_user_idx ON consents (user_id);
`

type ConsentRepository struct {
	pool *db.Pool
}

func NewConsentRepository(pool *db.Pool) *ConsentRepository {
	return &ConsentRepository{pool: pool}
}

func (r *ConsentRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *ConsentRepository) Insert(ctx context.Context, tx pgx.Tx, c Consent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO consents (id, user_id, institution, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, c.ID, c.UserID, c.Institution, c.Status, c.ExpiresAt, c.CreatedAt)
	return err
}

func (r *ConsentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status string, expiresAt *time.Time, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE consents
		SET status = $2, expires_at = COALESCE($3, expires_at), updated_at = $4
		WHERE id = $1
	`, id, status, expiresAt, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ConsentRepository) ByID(ctx context.Context, id string) (Consent, error) {
	var c Consent
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, institution, status, expires_at, created_at, updated_at
		FROM consents WHERE id = $1
	`, id).Scan(&c.ID, &c.UserID, &c.Institution, &c.Status, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Consent{}, ErrNotFound
	}
	return c, err
}

func (r *ConsentRepository) ByUser(ctx context.Context, userID string) ([]Consent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, institution, status, expires_at, created_at, updated_at
		FROM consents WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var consents []Consent
	for rows.Next() {
		var c Consent
		if err := rows.Scan(&c.ID, &c.UserID, &c.Institution, &c.Status, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		consents = append(consents, c)
	}
	return consents, rows.Err()
}
