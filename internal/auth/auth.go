// Package auth handles accounts, password login, sessions and optional
// TOTP two-factor authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"gigfin/internal/core"
	"gigfin/internal/log"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt ignores anything longer
)

var (
	ErrUnauthorized       = errors.New("authentication required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTwoFactorRequired  = errors.New("two-factor verification required")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidPassword    = fmt.Errorf("password must be between %d and %d characters", MinPasswordLength, MaxPasswordLength)
	ErrTOTPNotSetUp       = errors.New("two-factor setup has not been started")
	ErrTOTPAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTOTPNotEnabled     = errors.New("two-factor authentication is not enabled")
)

// Store is the persistence the service needs.
type Store interface {
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	GetUserByID(ctx context.Context, id int64) (core.User, error)
	SetTOTP(ctx context.Context, userID int64, secret string, enabled bool) error
	CreateSession(ctx context.Context, s core.Session) error
	GetSession(ctx context.Context, id string) (core.Session, error)
	CompleteTwoFactor(ctx context.Context, id string) error
	RevokeSession(ctx context.Context, id string) error
	RevokeOtherSessions(ctx context.Context, userID int64, keepID string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	SessionTTL time.Duration
	BcryptCost int
	Issuer     string
}

type Service struct {
	store     Store
	cfg       Config
	now       func() time.Time
	dummyHash []byte
	logger    *log.Logger
}

// LoginResult is the outcome of a password login. When TwoFactorRequired is
// set the session only unlocks the verification step.
type LoginResult struct {
	User              core.User
	Session           core.Session
	TwoFactorRequired bool
}

func NewService(store Store, cfg Config) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "GigFin"
	}
	// Compared against when the email is unknown so both paths cost a bcrypt round.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("gigfin-placeholder"), cfg.BcryptCost)
	return &Service{
		store:     store,
		cfg:       cfg,
		now:       time.Now,
		dummyHash: dummy,
		logger:    log.WithComponent(log.ComponentAuth),
	}
}

// NormalizeEmail trims and lower-cases an address and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) Register(ctx context.Context, email, password string) (core.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return core.User{}, err
	}
	if err := validatePassword(password); err != nil {
		return core.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.CreateUser(ctx, core.User{Email: email, PasswordHash: string(hash)})
	if errors.Is(err, core.ErrConflict) {
		return core.User{}, ErrEmailTaken
	}
	if err != nil {
		return core.User{}, err
	}
	s.logger.InfoContext(ctx, "User registered", log.FieldUserID, u.ID)
	return u, nil
}

// Login checks the password and opens a session. Users with TOTP enabled
// get a pending session that must be completed with VerifyTwoFactor.
func (s *Service) Login(ctx context.Context, email, password, userAgent string) (LoginResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "Login failed", log.FieldUserID, u.ID)
		return LoginResult{}, ErrInvalidCredentials
	}

	sess, err := s.openSession(ctx, u.ID, u.TOTPEnabled, userAgent)
	if err != nil {
		return LoginResult{}, err
	}
	s.logger.InfoContext(ctx, "User logged in", log.FieldUserID, u.ID, "two_factor_pending", sess.TwoFactorPending)
	return LoginResult{User: u, Session: sess, TwoFactorRequired: sess.TwoFactorPending}, nil
}

func (s *Service) openSession(ctx context.Context, userID int64, pending bool, userAgent string) (core.Session, error) {
	now := s.now()
	sess := core.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		ExpiresAt:        now.Add(s.cfg.SessionTTL),
		TwoFactorPending: pending,
		CreatedAt:        now,
		UserAgent:        truncate(userAgent, 255),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return core.Session{}, err
	}
	return sess, nil
}

// Resolve maps a session id to its user. Missing, revoked and expired
// sessions all yield ErrUnauthorized. Pending sessions are returned as is;
// callers decide what they may access.
func (s *Service) Resolve(ctx context.Context, sessionID string) (core.User, core.Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return core.User{}, core.Session{}, ErrUnauthorized
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, core.ErrNotFound) {
		return core.User{}, core.Session{}, ErrUnauthorized
	}
	if err != nil {
		return core.User{}, core.Session{}, fmt.Errorf("load session: %w", err)
	}
	if !sess.Active(s.now()) {
		return core.User{}, core.Session{}, ErrUnauthorized
	}
	u, err := s.store.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, core.ErrNotFound) {
		return core.User{}, core.Session{}, ErrUnauthorized
	}
	if err != nil {
		return core.User{}, core.Session{}, fmt.Errorf("load user: %w", err)
	}
	return u, sess, nil
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	err := s.store.RevokeSession(ctx, sessionID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) RevokeOtherSessions(ctx context.Context, userID int64, keepID string) (int64, error) {
	n, err := s.store.RevokeOtherSessions(ctx, userID, keepID)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "Sessions revoked", log.FieldUserID, userID, "count", n)
	return n, nil
}

// PurgeSessions deletes expired and revoked sessions.
func (s *Service) PurgeSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.now())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
