package kafkax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"finagg/libs/events"
)

type funcHandler struct {
	decl events.Declaration
	fn   func(context.Context, events.Envelope) error
}

func (h *funcHandler) Declaration() events.Declaration { return h.decl }

func (h *funcHandler) Handle(ctx context.Context, env events.Envelope) error {
	return h.fn(ctx, env)
}

type consumePayload struct{}

func (consumePayload) PayloadClass() string { return "test.payload.v1" }

func wireEnvelope(t *testing.T) (events.Envelope, kafka.Message) {
	t.Helper()
	env, err := events.NewEnvelope("corr-9", events.TopicUser, "u-1", consumePayload{})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	data, err := events.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return env, kafka.Message{Topic: events.TopicUser.Destination(), Value: data}
}

func TestConsumer_SuccessCommitsAndScopesCorrelation(t *testing.T) {
	env, msg := wireEnvelope(t)

	var seenCorrelation string
	sub := subscription{topic: events.TopicUser, group: "g", handlers: []events.Handler{
		&funcHandler{fn: func(ctx context.Context, got events.Envelope) error {
			if got.ID != env.ID {
				t.Fatalf("handler received %s, want %s", got.ID, env.ID)
			}
			seenCorrelation = events.CorrelationID(ctx)
			return nil
		}},
	}}

	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, ConsumerConfig{})
	if !c.handleMessage(context.Background(), sub, msg) {
		t.Fatal("successful handling must allow the offset commit")
	}
	if seenCorrelation != "corr-9" {
		t.Fatalf("handler saw correlation %q, want corr-9", seenCorrelation)
	}
}

func TestConsumer_HandlerFailureHoldsOffset(t *testing.T) {
	_, msg := wireEnvelope(t)

	failing := &funcHandler{fn: func(context.Context, events.Envelope) error {
		return errors.New("downstream unavailable")
	}}
	called := false
	healthy := &funcHandler{fn: func(context.Context, events.Envelope) error {
		called = true
		return nil
	}}
	sub := subscription{topic: events.TopicUser, group: "g", handlers: []events.Handler{failing, healthy}}

	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, ConsumerConfig{})
	if c.handleMessage(context.Background(), sub, msg) {
		t.Fatal("a failed handler must hold the offset so the broker redelivers")
	}
	if !called {
		t.Fatal("later handlers must still run after an earlier failure")
	}
}

func TestConsumer_DecodeFailureCommits(t *testing.T) {
	var decodeCalls int
	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, ConsumerConfig{
		OnDecodeError: func(context.Context, kafka.Message, error) { decodeCalls++ },
	})

	sub := subscription{topic: events.TopicUser, group: "g"}
	msg := kafka.Message{Topic: events.TopicUser.Destination(), Value: []byte("not an envelope")}
	if !c.handleMessage(context.Background(), sub, msg) {
		t.Fatal("an unparseable payload must be committed, redelivery cannot fix it")
	}
	if decodeCalls != 1 {
		t.Fatalf("decode policy invoked %d times, want 1", decodeCalls)
	}
}
