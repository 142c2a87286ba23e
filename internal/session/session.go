// Package session implements the Session Service (§4.F): refresh with
// rotation and reuse detection, listing, revocation, inactivity timeout,
// concurrent-session capping, and token-blacklist lookups.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/token"
)

const (
	MaxConcurrentSessions = 5
	InactivityTimeout     = 60 * time.Minute
	TimeoutWarningWindow  = 5 * time.Minute
	cacheKeyPrefix        = "session:"
	blacklistKeyPrefix    = "blacklist:"
)

type Service struct {
	store   store.SessionStore
	cache   cache.Cache
	tokens  *token.Service
	audit   audit.Sink
	clock   clock.Clock
}

func NewService(st store.SessionStore, c cache.Cache, tokens *token.Service, auditSink audit.Sink, clk clock.Clock) *Service {
	return &Service{store: st, cache: c, tokens: tokens, audit: auditSink, clock: clk}
}

func sessionCacheKey(id uuid.UUID) string   { return cacheKeyPrefix + id.String() }
func blacklistCacheKey(hash string) string  { return blacklistKeyPrefix + hash }

func (s *Service) invalidateCache(ctx context.Context, id uuid.UUID) {
	_ = s.cache.Delete(ctx, sessionCacheKey(id))
}

// Create persists a freshly issued session; the login pipeline calls
// this once EnforceConcurrentLimit has made room.
func (s *Service) Create(ctx context.Context, sess *store.Session) error {
	return s.store.CreateSession(ctx, sess)
}

// EnforceConcurrentLimit is invoked by the login pipeline before a new
// session is created: if the caller already has MaxConcurrentSessions
// active sessions, the oldest is revoked to make room.
func (s *Service) EnforceConcurrentLimit(ctx context.Context, userID uuid.UUID) error {
	now := s.clock.Now()
	active, err := s.store.ListActiveSessionsByUser(ctx, userID, now)
	if err != nil {
		return err
	}
	if len(active) < MaxConcurrentSessions {
		return nil
	}
	oldest := active[0]
	for _, sess := range active {
		if sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	if err := s.store.RevokeSession(ctx, oldest.ID, store.ReasonConcurrentLimit, now); err != nil {
		return err
	}
	if err := s.blacklistSessionTokens(ctx, oldest, store.ReasonConcurrentLimit); err != nil {
		return err
	}
	s.invalidateCache(ctx, oldest.ID)
	s.audit.Log(ctx, audit.EventConcurrentLimitEnforced, audit.Params{
		UserID: &userID, TargetType: "session", TargetID: oldest.ID.String(),
	})
	return nil
}

func (s *Service) blacklistSessionTokens(ctx context.Context, sess *store.Session, reason store.RevokeReason) error {
	tokens := []*store.BlacklistedToken{
		{TokenHash: sess.AccessTokenHash, ExpiresAt: sess.ExpiresAt, Reason: reason},
		{TokenHash: sess.RefreshTokenHash, ExpiresAt: sess.ExpiresAt, Reason: reason},
	}
	return s.store.CreateBlacklistedTokens(ctx, tokens)
}

// RevokeSession handles the single-session revoke operation, verifying
// ownership before acting.
func (s *Service) RevokeSession(ctx context.Context, sessionID, callerUserID uuid.UUID, reason store.RevokeReason) error {
	sess, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != callerUserID {
		return apierr.Forbiddenf("session does not belong to caller")
	}
	now := s.clock.Now()
	if err := s.store.RevokeSession(ctx, sessionID, reason, now); err != nil {
		return err
	}
	if err := s.blacklistSessionTokens(ctx, sess, store.ReasonSessionRevoked); err != nil {
		return err
	}
	s.invalidateCache(ctx, sessionID)
	s.audit.Log(ctx, audit.EventSessionRevoked, audit.Params{
		UserID: &callerUserID, TargetType: "session", TargetID: sessionID.String(),
	})
	return nil
}

// RevokeAllExceptCurrent revokes every other active session for a user.
// Callers are responsible for re-verifying the caller's password first
// (§4.I's re-verification requirement).
func (s *Service) RevokeAllExceptCurrent(ctx context.Context, userID, currentSessionID uuid.UUID) (int, error) {
	now := s.clock.Now()
	active, err := s.store.ListActiveSessionsByUser(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	var tokens []*store.BlacklistedToken
	for _, sess := range active {
		if sess.ID == currentSessionID {
			continue
		}
		tokens = append(tokens,
			&store.BlacklistedToken{TokenHash: sess.AccessTokenHash, ExpiresAt: sess.ExpiresAt, Reason: store.ReasonSessionRevoked},
			&store.BlacklistedToken{TokenHash: sess.RefreshTokenHash, ExpiresAt: sess.ExpiresAt, Reason: store.ReasonSessionRevoked},
		)
	}
	if len(tokens) > 0 {
		if err := s.store.CreateBlacklistedTokens(ctx, tokens); err != nil {
			return 0, err
		}
	}
	count, err := s.store.RevokeSessionsByUserExcept(ctx, userID, currentSessionID, store.ReasonSessionRevoked, now)
	if err != nil {
		return 0, err
	}
	for _, sess := range active {
		if sess.ID != currentSessionID {
			s.invalidateCache(ctx, sess.ID)
		}
	}
	s.audit.Log(ctx, audit.EventAllSessionsRevoked, audit.Params{
		UserID: &userID, Metadata: map[string]any{"revokedSessionCount": count},
	})
	return count, nil
}

// Heartbeat updates lastActivityAt and drops the session's fast-cache
// entry; it does not extend that entry's TTL.
func (s *Service) Heartbeat(ctx context.Context, sessionID uuid.UUID) error {
	now := s.clock.Now()
	if err := s.store.TouchActivity(ctx, sessionID, now); err != nil {
		return err
	}
	s.invalidateCache(ctx, sessionID)
	return nil
}

type TimeoutStatus struct {
	Valid            bool
	RemainingMinutes int
	ShowWarning      bool
}

// CheckSessionTimeout reports remaining time before the 60-minute
// inactivity window elapses, auto-revoking the session once it does.
func (s *Service) CheckSessionTimeout(ctx context.Context, sessionID uuid.UUID) (TimeoutStatus, error) {
	sess, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return TimeoutStatus{}, err
	}
	now := s.clock.Now()
	elapsed := now.Sub(sess.LastActivityAt)
	if elapsed >= InactivityTimeout {
		if err := s.store.RevokeSession(ctx, sessionID, store.ReasonInactivityTimeout, now); err != nil {
			return TimeoutStatus{}, err
		}
		_ = s.blacklistSessionTokens(ctx, sess, store.ReasonInactivityTimeout)
		s.invalidateCache(ctx, sessionID)
		return TimeoutStatus{Valid: false}, nil
	}
	remaining := InactivityTimeout - elapsed
	remainingMinutes := int(remaining / time.Minute)
	return TimeoutStatus{
		Valid:            true,
		RemainingMinutes: remainingMinutes,
		ShowWarning:      remaining <= TimeoutWarningWindow,
	}, nil
}
