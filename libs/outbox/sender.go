package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"

	"finagg/libs/events"
)

// Inserter is the slice of the store the sender needs.
type Inserter interface {
	Insert(ctx context.Context, tx pgx.Tx, env events.Envelope) error
}

// Sender is what domain code calls to emit an event. It writes the envelope
// into the outbox inside the caller's transaction and never talks to the
// broker itself: if the transaction rolls back, the event never happened, and
// broker downtime is invisible at send time.
type Sender struct {
	store Inserter
}

func NewSender(store Inserter) *Sender {
	return &Sender{store: store}
}

// Send emits payload on topic. key, when non-empty, orders this event against
// every other event sharing the same (topic, key). Must be called with the
// transaction the domain change is being written in; any error aborts that
// transaction (a payload that cannot be serialized fails closed).
func (s *Sender) Send(ctx context.Context, tx pgx.Tx, topic events.Topic, key string, payload events.Payload) error {
	env, err := events.NewEnvelope(events.CorrelationID(ctx), topic, key, payload)
	if err != nil {
		return err
	}
	return s.store.Insert(ctx, tx, env)
}
