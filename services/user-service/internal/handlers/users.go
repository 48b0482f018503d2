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
	"golang.org/x/crypto/bcrypt"

	"finagg/libs/db"
	"finagg/libs/events"
	"finagg/libs/events/schema"
	"finagg/libs/outbox"
	"finagg/services/user-service/internal/cache"
	"finagg/services/user-service/internal/storage"
)

type UserHandler struct {
	pool   *db.Pool
	users  *storage.UserRepository
	sender *outbox.Sender
	bus    *events.LocalBus
	cache  *cache.UserCache
	logger *slog.Logger
}

func NewUserHandler(
	pool *db.Pool,
	users *storage.UserRepository,
	sender *outbox.Sender,
	bus *events.LocalBus,
	userCache *cache.UserCache,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		pool:   pool,
		users:  users,
		sender: sender,
		bus:    bus,
		cache:  userCache,
		logger: logger,
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		http.Error(w, "valid email required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	user := storage.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created := schema.UserCreated{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		CreatedAt:   now,
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.users.Insert(ctx, tx, user); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.sender.Send(ctx, tx, events.TopicUser, user.ID, created); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.notifyLocal(ctx, user.ID, created)
	h.logger.Info("user registered", "user_id", user.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(userResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ctx := r.Context()
	now := time.Now().UTC()

	user, err := h.users.ByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.recordAuthEvent(ctx, req.Email, schema.UserLoginFailed{
				Email:    req.Email,
				Reason:   "unknown-email",
				FailedAt: now,
			})
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.recordAuthEvent(ctx, user.ID, schema.UserLoginFailed{
			Email:    req.Email,
			Reason:   "bad-password",
			FailedAt: now,
		})
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.recordAuthEvent(ctx, user.ID, schema.UserLoggedIn{
		UserID:   user.ID,
		Email:    user.Email,
		LoggedAt: now,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"user_id": user.ID})
}

// recordAuthEvent emits an USER_AUTH event in its own small transaction. The
// login itself has no domain write, so the outbox insert is the only thing
// the transaction carries.
func (h *UserHandler) recordAuthEvent(ctx context.Context, key string, payload events.Payload) {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		h.logger.Error("auth event tx failed", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.sender.Send(ctx, tx, events.TopicUserAuth, key, payload); err != nil {
		h.logger.Error("auth event send failed", "err", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("auth event commit failed", "err", err)
	}
}

type updateRequest struct {
	DisplayName string `json:"display_name"`
}

// Profile serves GET and PATCH on /api/v1/users/{id}.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getProfile(w, r, id)
	case http.MethodPatch:
		h.updateProfile(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *UserHandler) getProfile(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	user, ok := h.cache.Get(ctx, id)
	if !ok {
		var err error
		user, err = h.users.ByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.cache.Set(ctx, user)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(userResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
	})
}

func (h *UserHandler) updateProfile(w http.ResponseWriter, r *http.Request, id string) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		http.Error(w, "display_name required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	updated := schema.UserUpdated{UserID: id, DisplayName: req.DisplayName, UpdatedAt: now}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.users.UpdateDisplayName(ctx, tx, id, req.DisplayName, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.sender.Send(ctx, tx, events.TopicUser, id, updated); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.notifyLocal(ctx, id, updated)
	w.WriteHeader(http.StatusNoContent)
}

// notifyLocal fires the in-process observers after the durable write is
// committed. This path is at-most-once and strictly separate from the outbox.
func (h *UserHandler) notifyLocal(ctx context.Context, key string, payload events.Payload) {
	env, err := events.NewEnvelope(events.CorrelationID(ctx), events.TopicUser, key, payload)
	if err != nil {
		return
	}
	h.bus.Publish(ctx, env)
}
