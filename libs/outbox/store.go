package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"finagg/libs/db"
	"finagg/libs/events"
)

// Entry is one envelope at rest plus its delivery bookkeeping. scheduled_for
// is the earliest instant the entry is eligible for (re)delivery; version is
// the optimistic counter dispatchers claim entries through; seq is the
// monotonic insertion order, which breaks ties when two envelopes share a
// created_at timestamp.
type Entry struct {
	Envelope     events.Envelope
	ScheduledFor time.Time
	Version      int
	Seq          int64
}

const schema = `
CREATE TABLE IF NOT EXISTS outbox_events (
	id             uuid PRIMARY KEY,
	seq            bigserial,
	topic          text NOT NULL,
	correlation_id text NOT NULL DEFAULT '',
	key            text,
	payload_class  text NOT NULL,
	payload        jsonb NOT NULL,
	retry_count    int NOT NULL DEFAULT 0,
	created_at     timestamptz NOT NULL,
	scheduled_for  timestamptz NOT NULL,
	version        int NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS outbox_events_due_idx ON outbox_events (scheduled_for, seq);
`

// PGStore is the Postgres outbox table. Domain code only inserts (through
// Sender, inside its own transaction); all other mutation belongs to the
// dispatcher.
type PGStore struct {
	pool *db.Pool
}

func NewPGStore(pool *db.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Insert persists env inside the caller's transaction. Inserting the same id
// twice is a no-op, so a retried caller cannot produce a second delivery.
func (s *PGStore) Insert(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	var key any
	if env.Key != "" {
		key = env.Key
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, topic, correlation_id, key, payload_class, payload, retry_count, created_at, scheduled_for, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, 0)
		ON CONFLICT (id) DO NOTHING
	`, env.ID, string(env.Topic), env.CorrelationID, key, env.PayloadClass, []byte(env.Payload), env.RetryCount, env.Timestamp)
	return err
}

// FetchDue returns entries eligible for delivery in insertion order. Keyed
// entries are held back while an earlier sibling on the same (topic, key) is
// parked in backoff or leased to another dispatcher, so retries never reorder
// a key's stream.
func (s *PGStore) FetchDue(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, seq, topic, correlation_id, key, payload_class, payload, retry_count, created_at, scheduled_for, version
		FROM outbox_events o
		WHERE o.scheduled_for <= now()
		  AND (o.key IS NULL OR NOT EXISTS (
			SELECT 1 FROM outbox_events p
			WHERE p.topic = o.topic AND p.key = o.key
			  AND p.seq < o.seq
			  AND p.scheduled_for > now()))
		ORDER BY o.seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			topic string
			key   *string
		)
		if err := rows.Scan(&e.Envelope.ID, &e.Seq, &topic, &e.Envelope.CorrelationID, &key, &e.Envelope.PayloadClass,
			&e.Envelope.Payload, &e.Envelope.RetryCount, &e.Envelope.Timestamp, &e.ScheduledFor, &e.Version); err != nil {
			return nil, err
		}
		e.Envelope.Topic = events.Topic(topic)
		if key != nil {
			e.Envelope.Key = *key
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// Claim takes ownership of an entry via compare-and-swap on its version and
// leases it by pushing scheduled_for past the owner's publish deadline, so
// concurrent pollers stop seeing the row until the owner deletes or
// reschedules it. A false return means another dispatcher instance got there
// first.
func (s *PGStore) Claim(ctx context.Context, id string, version int, lease time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET version = version + 1,
		    scheduled_for = now() + ($3::bigint * interval '1 millisecond')
		WHERE id = $1 AND version = $2
	`, id, version, lease.Milliseconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete commits the "delivered" fact after a confirmed publish.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM outbox_events WHERE id = $1`, id)
	return err
}

// Reschedule records a failed attempt: the retry count and the next time the
// entry becomes eligible.
func (s *PGStore) Reschedule(ctx context.Context, id string, retryCount int, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET retry_count = $2, scheduled_for = $3
		WHERE id = $1
	`, id, retryCount, at)
	return err
}
