package core

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// User is an account holder. Every entry belongs to exactly one user.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	TOTPSecret   string    `json:"-"`
	TOTPEnabled  bool      `json:"totpEnabled"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is a login. A session with TwoFactorPending set only grants
// access to the second-factor verification step.
type Session struct {
	ID               string    `json:"id"`
	UserID           int64     `json:"userId"`
	ExpiresAt        time.Time `json:"expiresAt"`
	Revoked          bool      `json:"revoked"`
	TwoFactorPending bool      `json:"twoFactorPending"`
	CreatedAt        time.Time `json:"createdAt"`
	UserAgent        string    `json:"userAgent,omitempty"`
}

// Active reports whether the session can still be used at now.
func (s Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// Activity is an audit record of one entry change.
type Activity struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	Entity     string    `json:"entity"`
	Action     string    `json:"action"`
	EntityID   int64     `json:"entityId"`
	OccurredAt time.Time `json:"occurredAt"`
}
