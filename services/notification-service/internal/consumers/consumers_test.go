package consumers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"finagg/libs/events"
	"finagg/libs/events/schema"
	"finagg/services/notification-service/internal/storage"
)

type memDedup struct {
	seen map[string]bool
}

func newMemDedup() *memDedup { return &memDedup{seen: map[string]bool{}} }

func (d *memDedup) Record(_ context.Context, eventID string, _ string) (bool, error) {
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

type sentMail struct {
	to      string
	subject string
}

type memEmail struct {
	sent []sentMail
}

func (m *memEmail) Send(to string, subject string, _ string) error {
	m.sent = append(m.sent, sentMail{to: to, subject: subject})
	return nil
}

type memNotifications struct {
	rows []storage.Notification
}

func (m *memNotifications) Insert(_ context.Context, n storage.Notification) error {
	m.rows = append(m.rows, n)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func envelopeFor(t *testing.T, topic events.Topic, payload events.Payload) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope("corr-1", topic, "k-1", payload)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	return env
}

func TestWelcomeHandler_SendsOnce(t *testing.T) {
	email := &memEmail{}
	store := &memNotifications{}
	h := NewWelcomeHandler(newMemDedup(), email, store, discard())

	env := envelopeFor(t, events.TopicUser, schema.UserCreated{
		UserID:      "u-1",
		Email:       "ana@example.com",
		DisplayName: "Ana",
		CreatedAt:   time.Now().UTC(),
	})

	// At-least-once delivery: the same envelope id arrives twice.
	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), env); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
	}

	if len(email.sent) != 1 || email.sent[0].to != "ana@example.com" {
		t.Fatalf("expected exactly one welcome email, got %v", email.sent)
	}
	if len(store.rows) != 1 || store.rows[0].Status != "sent" || store.rows[0].EventID != env.ID {
		t.Fatalf("unexpected notification rows %v", store.rows)
	}
}

func TestWelcomeHandler_IgnoresOtherClasses(t *testing.T) {
	email := &memEmail{}
	h := NewWelcomeHandler(newMemDedup(), email, &memNotifications{}, discard())

	env := envelopeFor(t, events.TopicUser, schema.UserUpdated{UserID: "u-1"})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(email.sent) != 0 {
		t.Fatalf("no email expected, got %v", email.sent)
	}
}

func TestAlertsHandler_Declaration(t *testing.T) {
	h := NewAlertsHandler(newMemDedup(), &memEmail{}, &memNotifications{}, "ops@finagg.local", discard())

	router := events.NewRouter("notification-service")
	if err := router.Register(h); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	topics := router.TopicsFor(h)
	if len(topics) != 2 || topics[0] != events.TopicConsent || topics[1] != events.TopicUserAuth {
		t.Fatalf("expected inherited+explicit union {CONSENT, USER_AUTH}, got %v", topics)
	}
	if got := router.GroupFor(h); got != "alerts" {
		t.Fatalf("expected explicit group alerts, got %q", got)
	}
}

func TestAlertsHandler_LoginFailedAlert(t *testing.T) {
	email := &memEmail{}
	store := &memNotifications{}
	h := NewAlertsHandler(newMemDedup(), email, store, "ops@finagg.local", discard())

	env := envelopeFor(t, events.TopicUserAuth, schema.UserLoginFailed{
		Email:    "ana@example.com",
		Reason:   "bad-password",
		FailedAt: time.Now().UTC(),
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(email.sent) != 1 || email.sent[0].to != "ana@example.com" {
		t.Fatalf("expected alert to the user, got %v", email.sent)
	}
}

func TestAlertsHandler_ConsentRevokedGoesToOps(t *testing.T) {
	email := &memEmail{}
	store := &memNotifications{}
	h := NewAlertsHandler(newMemDedup(), email, store, "ops@finagg.local", discard())

	env := envelopeFor(t, events.TopicConsent, schema.ConsentRevoked{
		ConsentID:   "c-1",
		UserID:      "u-1",
		Institution: "acme-bank",
		RevokedAt:   time.Now().UTC(),
	})
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(email.sent) != 1 || email.sent[0].to != "ops@finagg.local" {
		t.Fatalf("expected ops alert, got %v", email.sent)
	}
	if len(store.rows) != 1 || store.rows[0].UserID != "u-1" {
		t.Fatalf("unexpected rows %v", store.rows)
	}
}
