package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/store"
)

type ValidateReason string

const (
	ReasonNone           ValidateReason = ""
	ReasonSessionNotFound ValidateReason = "SESSION_NOT_FOUND"
	ReasonSessionRevoked ValidateReason = "SESSION_REVOKED"
	ReasonSessionExpired ValidateReason = "SESSION_EXPIRED"
)

type ValidateResult struct {
	Valid  bool
	User   *store.User
	Reason ValidateReason
}

type cachedSession struct {
	Session *store.Session `json:"session"`
	User    *store.User    `json:"user"`
}

// ValidateSession checks the fast cache first, falling back to the store
// on a miss or a cache failure (graceful degradation).
func (s *Service) ValidateSession(ctx context.Context, sessionID uuid.UUID, accessTokenRemaining time.Duration, loadUser func(context.Context, uuid.UUID) (*store.User, error)) (ValidateResult, error) {
	key := sessionCacheKey(sessionID)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cached cachedSession
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return s.evaluate(cached.Session, cached.User), nil
		}
	}

	sess, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return ValidateResult{Valid: false, Reason: ReasonSessionNotFound}, nil
	}
	user, err := loadUser(ctx, sess.UserID)
	if err != nil {
		return ValidateResult{Valid: false, Reason: ReasonSessionNotFound}, nil
	}

	result := s.evaluate(sess, user)
	if result.Valid {
		ttl := accessTokenRemaining
		if ttl <= 0 {
			ttl = time.Minute
		}
		raw, marshalErr := json.Marshal(cachedSession{Session: sess, User: user})
		if marshalErr == nil {
			_ = s.cache.Set(ctx, key, string(raw), ttl)
		}
	}
	return result, nil
}

func (s *Service) evaluate(sess *store.Session, user *store.User) ValidateResult {
	if sess == nil {
		return ValidateResult{Valid: false, Reason: ReasonSessionNotFound}
	}
	now := s.clock.Now()
	if sess.RevokedAt != nil {
		return ValidateResult{Valid: false, Reason: ReasonSessionRevoked}
	}
	if !now.Before(sess.ExpiresAt) {
		return ValidateResult{Valid: false, Reason: ReasonSessionExpired}
	}
	return ValidateResult{Valid: true, User: user}
}

// IsTokenBlacklisted checks the fast cache first, falling back to the store.
func (s *Service) IsTokenBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	if _, ok, err := s.cache.Get(ctx, blacklistCacheKey(tokenHash)); err == nil && ok {
		return true, nil
	}
	return s.store.IsTokenBlacklisted(ctx, tokenHash)
}

// CleanupExpiredBlacklistedTokens purges store rows past their residual
// life; intended to run as a periodic background task.
func (s *Service) CleanupExpiredBlacklistedTokens(ctx context.Context) (int, error) {
	return s.store.DeleteExpiredBlacklistedTokens(ctx, s.clock.Now())
}
