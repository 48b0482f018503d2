package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"finagg/libs/db"
	"finagg/libs/events"
	"finagg/libs/events/schema"
	"finagg/libs/outbox"
	"finagg/libs/tasks"
	"finagg/services/consent-service/internal/provider"
	"finagg/services/consent-service/internal/storage"
)

type ConsentHandler struct {
	pool      *db.Pool
	consents  *storage.ConsentRepository
	sender    *outbox.Sender
	provider  provider.Client
	scheduler tasks.Scheduler
	logger    *slog.Logger
}

func NewConsentHandler(
	pool *db.Pool,
	consents *storage.ConsentRepository,
	sender *outbox.Sender,
	providerClient provider.Client,
	scheduler tasks.Scheduler,
	logger *slog.Logger,
) *ConsentHandler {
	return &ConsentHandler{
		pool:      pool,
		consents:  consents,
		sender:    sender,
		provider:  providerClient,
		scheduler: scheduler,
		logger:    logger,
	}
}

type createRequest struct {
	UserID      string `json:"user_id"`
	Institution string `json:"institution"`
}

type consentResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Institution string     `json:"institution"`
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RedirectURL string     `json:"redirect_url,omitempty"`
}

// Create starts a consent link flow: provider call first, then the consent row
// and its CONSENT event in one transaction.
func (h *ConsentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Institution = strings.TrimSpace(req.Institution)
	if req.UserID == "" || req.Institution == "" {
		http.Error(w, "user_id and institution required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	link, err := h.provider.CreateLink(ctx, req.Institution, req.UserID)
	if err != nil {
		h.logger.Error("provider link failed", "institution", req.Institution, "err", err)
		http.Error(w, "provider unavailable", http.StatusBadGateway)
		return
	}

	now := time.Now().UTC()
	consent := storage.Consent{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Institution: req.Institution,
		Status:      storage.StatusRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.consents.Insert(ctx, tx, consent); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.sender.Send(ctx, tx, events.TopicConsent, consent.ID, schema.ConsentRequested{
		ConsentID:   consent.ID,
		UserID:      consent.UserID,
		Institution: consent.Institution,
		RequestedAt: now,
	}); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("consent requested", "consent_id", consent.ID, "institution", consent.Institution)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(consentResponse{
		ID:          consent.ID,
		UserID:      consent.UserID,
		Institution: consent.Institution,
		Status:      consent.Status,
		RedirectURL: link.RedirectURL,
	})
}

type statusRequest struct {
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Consent serves GET and PUT /api/v1/consents/{id}. PUT is the callback path
// the provider webhook bridge drives (granted / revoked / expired).
func (h *ConsentHandler) Consent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/consents/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.updateStatus(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ConsentHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	consent, err := h.consents.ByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(consentResponse{
		ID:          consent.ID,
		UserID:      consent.UserID,
		Institution: consent.Institution,
		Status:      consent.Status,
		ExpiresAt:   consent.ExpiresAt,
	})
}

func (h *ConsentHandler) updateStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	consent, err := h.consents.ByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var payload events.Payload
	switch req.Status {
	case storage.StatusGranted:
		if req.ExpiresAt == nil {
			http.Error(w, "expires_at required for granted", http.StatusBadRequest)
			return
		}
		payload = schema.ConsentGranted{
			ConsentID:   id,
			UserID:      consent.UserID,
			Institution: consent.Institution,
			ExpiresAt:   *req.ExpiresAt,
			GrantedAt:   now,
		}
	case storage.StatusRevoked:
		payload = schema.ConsentRevoked{
			ConsentID:   id,
			UserID:      consent.UserID,
			Institution: consent.Institution,
			RevokedAt:   now,
		}
	case storage.StatusExpired:
		payload = schema.ConsentExpired{
			ConsentID: id,
			UserID:    consent.UserID,
			ExpiredAt: now,
		}
	default:
		http.Error(w, "unsupported status", http.StatusBadRequest)
		return
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.consents.UpdateStatus(ctx, tx, id, req.Status, req.ExpiresAt, now); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.sender.Send(ctx, tx, events.TopicConsent, id, payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if req.Status == storage.StatusGranted && req.ExpiresAt != nil {
		h.scheduleRepoll(ctx, id, *req.ExpiresAt)
	}

	h.logger.Info("consent updated", "consent_id", id, "status", req.Status)
	w.WriteHeader(http.StatusNoContent)
}

// scheduleRepoll queues a re-poll shortly before the consent expires so the
// link can be refreshed or expired on time. Fire-and-forget: a failed enqueue
// is logged, the consent change itself already committed.
func (h *ConsentHandler) scheduleRepoll(ctx context.Context, consentID string, expiresAt time.Time) {
	runAt := expiresAt.Add(-24 * time.Hour)
	if runAt.Before(time.Now().UTC()) {
		runAt = time.Now().UTC()
	}
	err := h.scheduler.Enqueue(ctx, tasks.Task{
		IdempotencyKey: "consent.repoll:" + consentID,
		Name:           "consent.repoll",
		Payload:        map[string]any{"consent_id": consentID},
		RunAt:          runAt,
	})
	if err != nil {
		h.logger.Error("repoll enqueue failed", "consent_id", consentID, "err", err)
	}
}
