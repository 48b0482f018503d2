package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocalBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewLocalBus(testLogger())
	var order []string
	bus.Subscribe(TopicUser, func(context.Context, Envelope) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe(TopicUser, func(context.Context, Envelope) error {
		order = append(order, "second")
		return nil
	})
	bus.Subscribe(TopicConsent, func(context.Context, Envelope) error {
		order = append(order, "wrong-topic")
		return nil
	})

	env, err := NewEnvelope("", TopicUser, "u1", testPayload{})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	bus.Publish(context.Background(), env)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected delivery order %v", order)
	}
}

func TestLocalBus_SubscriberErrorDoesNotStopOthers(t *testing.T) {
	bus := NewLocalBus(testLogger())
	called := false
	bus.Subscribe(TopicUser, func(context.Context, Envelope) error {
		return errors.New("boom")
	})
	bus.Subscribe(TopicUser, func(context.Context, Envelope) error {
		called = true
		return nil
	})

	env, err := NewEnvelope("", TopicUser, "", testPayload{})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	bus.Publish(context.Background(), env)

	if !called {
		t.Fatal("second subscriber skipped after first errored")
	}
}
