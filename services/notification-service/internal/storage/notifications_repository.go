package storage

import (
	"context"

	"finagg/libs/db"
)

type Notification struct {
	EventID   string
	UserID    string
	Channel   string
	Recipient string
	Subject   string
	Status    string
}

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	id         bigserial PRIMARY KEY,
	event_id   text NOT NULL,
	user_id    text NOT NULL,
	channel    text NOT NULL,
	recipient  text NOT NULL,
	subject    text NOT NULL,
	status     text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS notifications_user_idx ON notifications (user_id);
`

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

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (event_id, user_id, channel, recipient, subject, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.EventID, n.UserID, n.Channel, n.Recipient, n.Subject, n.Status)
	return err
}
