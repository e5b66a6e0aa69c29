package storage

import (
	"context"
	"fmt"
	"time"

	"gigfin/internal/core"
)

const userColumns = `id, email, password_hash, totp_secret, totp_enabled, created_at`

func scanUser(s rowScanner) (core.User, error) {
	var (
		u       core.User
		created string
	)
	if err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TOTPSecret, &u.TOTPEnabled, &created); err != nil {
		return u, err
	}
	u.CreatedAt = parseStamp(created)
	return u, nil
}

// CreateUser returns core.ErrConflict when the email is already registered.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)
		RETURNING `+userColumns,
		u.Email, u.PasswordHash, r.stamp())
	created, err := scanUser(row)
	if isUniqueViolation(err) {
		return created, core.ErrConflict
	}
	if err != nil {
		return created, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	return u, notFound(err)
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (core.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	return u, notFound(err)
}

// SetTOTP stores the secret and enabled flag together. An empty secret with
// enabled=false turns two-factor authentication off.
func (r *SQLiteRepository) SetTOTP(ctx context.Context, userID int64, secret string, enabled bool) error {
	return affected(r.db.ExecContext(ctx,
		`UPDATE users SET totp_secret = ?, totp_enabled = ? WHERE id = ?`, secret, enabled, userID))
}

const sessionColumns = `id, user_id, expires_at, revoked, two_factor_pending, user_agent, created_at`

func scanSession(s rowScanner) (core.Session, error) {
	var (
		sess             core.Session
		expires, created string
	)
	if err := s.Scan(&sess.ID, &sess.UserID, &expires, &sess.Revoked, &sess.TwoFactorPending, &sess.UserAgent, &created); err != nil {
		return sess, err
	}
	sess.ExpiresAt = parseStamp(expires)
	sess.CreatedAt = parseStamp(created)
	return sess, nil
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s core.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, revoked, two_factor_pending, user_agent, created_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)`,
		s.ID, s.UserID, s.ExpiresAt.UTC().Format(timeLayout), s.TwoFactorPending, s.UserAgent, r.stamp())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (core.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	return s, notFound(err)
}

func (r *SQLiteRepository) CompleteTwoFactor(ctx context.Context, id string) error {
	return affected(r.db.ExecContext(ctx,
		`UPDATE sessions SET two_factor_pending = 0 WHERE id = ? AND revoked = 0`, id))
}

func (r *SQLiteRepository) RevokeSession(ctx context.Context, id string) error {
	return affected(r.db.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE id = ?`, id))
}

// RevokeOtherSessions revokes every live session of userID except keepID and
// returns how many were revoked.
func (r *SQLiteRepository) RevokeOtherSessions(ctx context.Context, userID int64, keepID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = 1 WHERE user_id = ? AND id <> ? AND revoked = 0`, userID, keepID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredSessions removes sessions that expired or were revoked before now.
func (r *SQLiteRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ? OR revoked = 1`, now.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// InsertActivity records a change. Recording the same event twice is a
// no-op, so a redelivered message leaves a single record.
func (r *SQLiteRepository) InsertActivity(ctx context.Context, a core.Activity) error {
	occurred := a.OccurredAt
	if occurred.IsZero() {
		occurred = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO activity_log (user_id, entity, action, entity_id, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		a.UserID, a.Entity, a.Action, a.EntityID, occurred.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest limit records of userID.
func (r *SQLiteRepository) ListActivity(ctx context.Context, userID int64, limit int) ([]core.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, entity, action, entity_id, occurred_at FROM activity_log
		WHERE user_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return collect(rows, func(s rowScanner) (core.Activity, error) {
		var (
			a        core.Activity
			occurred string
		)
		err := s.Scan(&a.ID, &a.UserID, &a.Entity, &a.Action, &a.EntityID, &occurred)
		a.OccurredAt = parseStamp(occurred)
		return a, err
	})
}
