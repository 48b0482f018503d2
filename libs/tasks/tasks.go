// Package tasks is the boundary to the generic named-task scheduler. Services
// treat it as fire-and-forget: queue a named task with a payload to run at or
// after a given time. How tasks are executed is the scheduler's business.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"finagg/libs/db"
	otelx "finagg/libs/otel"
)

type Task struct {
	// IdempotencyKey deduplicates enqueues; a repeated key is a no-op.
	IdempotencyKey string
	Name           string
	Payload        map[string]any
	RunAt          time.Time
}

// Scheduler queues tasks for later execution.
type Scheduler interface {
	Enqueue(ctx context.Context, task Task) error
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              bigserial PRIMARY KEY,
	idempotency_key text NOT NULL UNIQUE,
	name            text NOT NULL,
	payload         jsonb NOT NULL DEFAULT '{}',
	run_at          timestamptz NOT NULL,
	status          text NOT NULL DEFAULT 'pending',
	attempts        int NOT NULL DEFAULT 0,
	traceparent     text NOT NULL DEFAULT '',
	tracestate      text NOT NULL DEFAULT '',
	created_at      timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tasks_due_idx ON tasks (status, run_at);
`

// PGScheduler queues tasks in Postgres for the scheduler workers to pick up.
type PGScheduler struct {
	pool *db.Pool
}

func NewPGScheduler(pool *db.Pool) *PGScheduler {
	return &PGScheduler{pool: pool}
}

func (s *PGScheduler) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGScheduler) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return err
	}
	// The trace context rides along so workers can continue the trace that
	// queued the task.
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (idempotency_key, name, payload, run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, task.IdempotencyKey, task.Name, payload, task.RunAt, traceparent, tracestate)
	return err
}

var _ Scheduler = (*PGScheduler)(nil)
