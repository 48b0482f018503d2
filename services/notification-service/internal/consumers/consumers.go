// Package consumers holds the notification-service event handlers. Each
// handler states what it consumes through an events.Declaration; the shared
// security declaration is extended, not restated, by the handlers that build
// on it.
package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"finagg/libs/events"
	"finagg/libs/events/schema"
	"finagg/services/notification-service/internal/storage"
)

// Deduper suppresses redeliveries of an already-processed envelope id.
type Deduper interface {
	Record(ctx context.Context, eventID string, topic string) (bool, error)
}

// EmailSender is the email-provider boundary.
type EmailSender interface {
	Send(to string, subject string, body string) error
}

// Notifications records what was (or wasn't) sent.
type Notifications interface {
	Insert(ctx context.Context, n storage.Notification) error
}

// securityDeclaration is the base every security-relevant handler inherits:
// authentication events are always in scope.
var securityDeclaration = events.Declaration{
	Topics: []events.Topic{events.TopicUserAuth},
}

// WelcomeHandler emails new users when their account event arrives.
type WelcomeHandler struct {
	dedup  Deduper
	email  EmailSender
	store  Notifications
	logger *slog.Logger
}

func NewWelcomeHandler(dedup Deduper, email EmailSender, store Notifications, logger *slog.Logger) *WelcomeHandler {
	return &WelcomeHandler{dedup: dedup, email: email, store: store, logger: logger}
}

func (h *WelcomeHandler) Declaration() events.Declaration {
	return events.Declaration{Topics: []events.Topic{events.TopicUser}}
}

func (h *WelcomeHandler) Handle(ctx context.Context, env events.Envelope) error {
	if env.PayloadClass != schema.ClassUserCreated {
		return nil
	}
	fresh, err := h.dedup.Record(ctx, env.ID, string(env.Topic))
	if err != nil {
		return err
	}
	if !fresh {
		h.logger.Info("duplicate event ignored", "event_id", env.ID)
		return nil
	}

	var created schema.UserCreated
	if err := json.Unmarshal(env.Payload, &created); err != nil {
		return fmt.Errorf("payload %s: %w", env.PayloadClass, err)
	}

	subject := "Welcome to finagg"
	body := fmt.Sprintf("Hi %s,\n\nYour account is ready. Link a bank to get started.", displayName(created.DisplayName, created.Email))
	status := "sent"
	if err := h.email.Send(created.Email, subject, body); err != nil {
		status = "failed"
		h.logger.Error("welcome email failed", "err", err, "user_id", created.UserID)
	}

	return h.store.Insert(ctx, storage.Notification{
		EventID:   env.ID,
		UserID:    created.UserID,
		Channel:   "email",
		Recipient: created.Email,
		Subject:   subject,
		Status:    status,
	})
}

// AlertsHandler notifies on security-relevant events. It extends the inherited
// security declaration with consent lifecycle topics and pins an explicit
// group so every instance of the alerts fleet shares one delivery stream.
type AlertsHandler struct {
	dedup        Deduper
	email        EmailSender
	store        Notifications
	opsRecipient string
	logger       *slog.Logger
}

func NewAlertsHandler(dedup Deduper, email EmailSender, store Notifications, opsRecipient string, logger *slog.Logger) *AlertsHandler {
	return &AlertsHandler{dedup: dedup, email: email, store: store, opsRecipient: opsRecipient, logger: logger}
}

func (h *AlertsHandler) Declaration() events.Declaration {
	return events.Merge(securityDeclaration, events.Declaration{
		Topics: []events.Topic{events.TopicConsent},
		Group:  "alerts",
	})
}

func (h *AlertsHandler) Handle(ctx context.Context, env events.Envelope) error {
	fresh, err := h.dedup.Record(ctx, env.ID, string(env.Topic))
	if err != nil {
		return err
	}
	if !fresh {
		h.logger.Info("duplicate event ignored", "event_id", env.ID)
		return nil
	}

	switch env.PayloadClass {
	case schema.ClassUserLoginFailed:
		var failed schema.UserLoginFailed
		if err := json.Unmarshal(env.Payload, &failed); err != nil {
			return fmt.Errorf("payload %s: %w", env.PayloadClass, err)
		}
		return h.alert(ctx, env.ID, "", failed.Email,
			"Sign-in attempt failed",
			fmt.Sprintf("A sign-in to your account failed (%s). If this wasn't you, change your password.", failed.Reason))

	case schema.ClassConsentRevoked:
		var revoked schema.ConsentRevoked
		if err := json.Unmarshal(env.Payload, &revoked); err != nil {
			return fmt.Errorf("payload %s: %w", env.PayloadClass, err)
		}
		return h.alert(ctx, env.ID, revoked.UserID, h.opsRecipient,
			"Bank consent revoked",
			fmt.Sprintf("Consent %s for %s was revoked.", revoked.ConsentID, revoked.Institution))

	case schema.ClassConsentExpired:
		var expired schema.ConsentExpired
		if err := json.Unmarshal(env.Payload, &expired); err != nil {
			return fmt.Errorf("payload %s: %w", env.PayloadClass, err)
		}
		return h.alert(ctx, env.ID, expired.UserID, h.opsRecipient,
			"Bank consent expired",
			fmt.Sprintf("Consent %s expired and needs re-linking.", expired.ConsentID))
	}
	return nil
}

func (h *AlertsHandler) alert(ctx context.Context, eventID string, userID string, recipient string, subject string, body string) error {
	status := "sent"
	if recipient == "" {
		status = "skipped"
	} else if err := h.email.Send(recipient, subject, body); err != nil {
		status = "failed"
		h.logger.Error("alert email failed", "err", err, "event_id", eventID)
	}
	return h.store.Insert(ctx, storage.Notification{
		EventID:   eventID,
		UserID:    userID,
		Channel:   "email",
		Recipient: recipient,
		Subject:   subject,
		Status:    status,
	})
}

func displayName(name string, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
