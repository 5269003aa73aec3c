package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"centsible/internal/apperr"
	"centsible/internal/models"
	"centsible/internal/storage"
)

// DefaultSessionTTL is how long sessions last (two weeks).
const DefaultSessionTTL = 14 * 24 * time.Hour

// SessionRepository is the persistence the session manager needs.
type SessionRepository interface {
	CreateSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	ValidateSession(ctx context.Context, tokenHash string, now time.Time) (*storage.SessionInfo, error)
	RenewSession(ctx context.Context, tokenHash string, now, newExpiresAt time.Time) error
	DeleteSession(ctx context.Context, tokenHash string) error
	CleanExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// SessionManager issues, validates and revokes server-side sessions.
//
// Sessions are rolling: once less than half of the TTL remains, a successful
// validation pushes the expiry out to a full TTL again.
type SessionManager struct {
	repo SessionRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewSessionManager returns a manager issuing sessions valid for ttl.
// A non-positive ttl selects DefaultSessionTTL.
func NewSessionManager(repo SessionRepository, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{repo: repo, ttl: ttl, now: time.Now}
}

// TTL returns the lifetime of a fresh session.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Login creates a session for userID and returns it with its raw token.
func (m *SessionManager) Login(ctx context.Context, userID int64) (*models.Session, error) {
	token, err := GenerateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	if err := m.repo.CreateSession(ctx, HashToken(token), userID, expiresAt); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &models.Session{
		Token:        token,
		UserID:       userID,
		ExpiresAt:    expiresAt,
		LastActivity: now,
	}, nil
}

// Logout invalidates the session identified by token immediately.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return apperr.ErrUnauthenticated
	}
	if err := m.repo.DeleteSession(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// RequireAuthenticated resolves token to a live session or fails with
// apperr.ErrUnauthenticated.
func (m *SessionManager) RequireAuthenticated(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, apperr.ErrUnauthenticated
	}

	now := m.now()
	hash := HashToken(token)
	info, err := m.repo.ValidateSession(ctx, hash, now)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}

	sess := &models.Session{
		Token:        token,
		UserID:       info.User.ID,
		User:         info.User,
		ExpiresAt:    info.ExpiresAt,
		LastActivity: info.LastActivity,
	}

	if info.ExpiresAt.Sub(now) < m.ttl/2 {
		expiresAt := now.Add(m.ttl)
		// A failed renewal leaves the current, still valid session in place.
		if err := m.repo.RenewSession(ctx, hash, now, expiresAt); err == nil {
			sess.ExpiresAt = expiresAt
			sess.LastActivity = now
			sess.Renewed = true
		}
	}

	return sess, nil
}

// Purge deletes expired sessions and reports how many were removed.
func (m *SessionManager) Purge(ctx context.Context) (int64, error) {
	return m.repo.CleanExpiredSessions(ctx, m.now())
}
