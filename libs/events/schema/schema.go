// Package schema defines the payload bodies services publish and consume.
// Payload classes are versioned and frozen: changing a shape means adding a
// new class, never editing an existing one.
package schema

import "time"

const (
	ClassUserCreated      = "user.created.v1"
	ClassUserUpdated      = "user.updated.v1"
	ClassUserLoggedIn     = "user.logged-in.v1"
	ClassUserLoginFailed  = "user.login-failed.v1"
	ClassConsentRequested = "consent.requested.v1"
	ClassConsentGranted   = "consent.granted.v1"
	ClassConsentRevoked   = "consent.revoked.v1"
	ClassConsentExpired   = "consent.expired.v1"
)

type UserCreated struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func (UserCreated) PayloadClass() string { return ClassUserCreated }

type UserUpdated struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (UserUpdated) PayloadClass() string { return ClassUserUpdated }

type UserLoggedIn struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email"`
	LoggedAt time.Time `json:"logged_at"`
}

func (UserLoggedIn) PayloadClass() string { return ClassUserLoggedIn }

type UserLoginFailed struct {
	Email    string    `json:"email"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

func (UserLoginFailed) PayloadClass() string { return ClassUserLoginFailed }

type ConsentRequested struct {
	ConsentID   string    `json:"consent_id"`
	UserID      string    `json:"user_id"`
	Institution string    `json:"institution"`
	RequestedAt time.Time `json:"requested_at"`
}

func (ConsentRequested) PayloadClass() string { return ClassConsentRequested }

type ConsentGranted struct {
	ConsentID   string    `json:"consent_id"`
	UserID      string    `json:"user_id"`
	Institution string    `json:"institution"`
	ExpiresAt   time.Time `json:"expires_at"`
	GrantedAt   time.Time `json:"granted_at"`
}

func (ConsentGranted) PayloadClass() string { return ClassConsentGranted }

type ConsentRevoked struct {
	ConsentID   string    `json:"consent_id"`
	UserID      string    `json:"user_id"`
	Institution string    `json:"institution"`
	RevokedAt   time.Time `json:"revoked_at"`
}

func (ConsentRevoked) PayloadClass() string { return ClassConsentRevoked }

type ConsentExpired struct {
	ConsentID string    `json:"consent_id"`
	UserID    string    `json:"user_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

func (ConsentExpired) PayloadClass() string { return ClassConsentExpired }
