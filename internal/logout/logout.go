// Package logout implements the Logout Service (§4.J): single-session
// logout, bulk logout of every other device, and admin-forced logout.
package logout

import (
	"context"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/token"
)

const sessionCachePrefix = "session:"

type Service struct {
	store  store.SessionStore
	cache  cache.Cache
	hasher *cryptosvc.PasswordHasher
	users  store.UserStore
	audit  audit.Sink
	clock  clock.Clock
}

func NewService(st store.SessionStore, c cache.Cache, hasher *cryptosvc.PasswordHasher, users store.UserStore, auditSink audit.Sink, clk clock.Clock) *Service {
	return &Service{store: st, cache: c, hasher: hasher, users: users, audit: auditSink, clock: clk}
}

// LogoutParams is the request shape of the single-session logout call.
type LogoutParams struct {
	SessionID   uuid.UUID
	UserID      uuid.UUID
	AccessToken string
	IPAddress   string
}

// LogoutResult always reports success to the caller; a true
// ServerLogoutFailed flag means the server-side cleanup hit an error
// that the client should not be blocked on.
type LogoutResult struct {
	Success           bool
	ServerLogoutFailed bool
}

// Logout is idempotent: a missing or already-revoked session is not an
// error, since the client's own state must be cleared regardless.
func (s *Service) Logout(ctx context.Context, p LogoutParams) LogoutResult {
	sess, err := s.store.GetSessionByID(ctx, p.SessionID)
	if err != nil || sess == nil {
		return LogoutResult{Success: true}
	}
	if sess.RevokedAt != nil {
		return LogoutResult{Success: true}
	}

	now := s.clock.Now()
	if err := s.store.RevokeSession(ctx, sess.ID, store.ReasonUserLogout, now); err != nil {
		return LogoutResult{Success: true, ServerLogoutFailed: true}
	}

	tokens := []*store.BlacklistedToken{
		{TokenHash: token.GetTokenHash(p.AccessToken), ExpiresAt: sess.ExpiresAt, Reason: store.ReasonUserLogout},
		{TokenHash: sess.RefreshTokenHash, ExpiresAt: sess.ExpiresAt, Reason: store.ReasonUserLogout},
	}
	if err := s.store.CreateBlacklistedTokens(ctx, tokens); err != nil {
		return LogoutResult{Success: true, ServerLogoutFailed: true}
	}

	_ = s.cache.Delete(ctx, sessionCachePrefix+sess.ID.String())
	s.audit.Log(ctx, audit.EventUserLogout, audit.Params{
		UserID: &p.UserID, TargetType: "session", TargetID: sess.ID.String(), IPAddress: p.IPAddress,
	})
	return LogoutResult{Success: true}
}

// LogoutAllDevicesParams is the request shape for bulk logout.
type LogoutAllDevicesParams struct {
	UserID           uuid.UUID
	CurrentSessionID uuid.UUID
	Password         string
	IPAddress        string
}

// LogoutAllDevices requires a fresh password check and revokes every
// other active session for the caller.
func (s *Service) LogoutAllDevices(ctx context.Context, p LogoutAllDevicesParams) (int, error) {
	user, err := s.users.GetUserByID(ctx, p.UserID)
	if err != nil {
		return 0, apierr.Unauthorizedf("invalid credentials")
	}
	ok, err := s.hasher.Verify(user.PasswordHash, p.Password)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apierr.Unauthorizedf("invalid credentials")
	}

	now := s.clock.Now()
	active, err := s.store.ListActiveSessionsByUser(ctx, p.UserID, now)
	if err != nil {
		return 0, err
	}

	var tokens []*store.BlacklistedToken
	for _, sess := range active {
		if sess.ID == p.CurrentSessionID {
			continue
		}
		tokens = append(tokens,
			&store.BlacklistedToken{TokenHash: sess.AccessTokenHash, ExpiresAt: sess.ExpiresAt, Reason: store.ReasonLogoutAllDevices},
			&store.BlacklistedToken{TokenHash: sess.RefreshTokenHash, ExpiresAt: sess.ExpiresAt, Reason: store.ReasonLogoutAllDevices},
		)
	}
	if len(tokens) > 0 {
		if err := s.store.CreateBlacklistedTokens(ctx, tokens); err != nil {
			return 0, err
		}
	}

	count, err := s.store.RevokeSessionsByUserExcept(ctx, p.UserID, p.CurrentSessionID, store.ReasonLogoutAllDevices, now)
	if err != nil {
		return 0, err
	}

	for _, sess := range active {
		if sess.ID != p.CurrentSessionID {
			_ = s.cache.Delete(ctx, sessionCachePrefix+sess.ID.String())
		}
	}

	s.audit.Log(ctx, audit.EventLogoutAllDevices, audit.Params{
		UserID: &p.UserID, IPAddress: p.IPAddress, Metadata: map[string]any{"revokedSessionCount": count},
	})
	return count, nil
}

// ForceLogoutParams is the request shape for an admin-initiated logout.
type ForceLogoutParams struct {
	SessionID   uuid.UUID
	AdminUserID uuid.UUID
	Reason      string
	IPAddress   string
}

// ForceLogout needs no password: the caller is an administrator acting
// on someone else's session.
func (s *Service) ForceLogout(ctx context.Context, p ForceLogoutParams) error {
	sess, err := s.store.GetSessionByID(ctx, p.SessionID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.store.RevokeSession(ctx, sess.ID, store.ReasonAdminForceLogout, now); err != nil {
		return err
	}
	tokens := []*store.BlacklistedToken{
		{TokenHash: sess.AccessTokenHash, ExpiresAt: sess.ExpiresAt, Reason: store.ReasonAdminForceLogout},
		{TokenHash: sess.RefreshTokenHash, ExpiresAt: sess.ExpiresAt, Reason: store.ReasonAdminForceLogout},
	}
	if err := s.store.CreateBlacklistedTokens(ctx, tokens); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, sessionCachePrefix+sess.ID.String())
	s.audit.Log(ctx, audit.EventAdminForceLogout, audit.Params{
		UserID: &sess.UserID, TargetType: "session", TargetID: sess.ID.String(), IPAddress: p.IPAddress,
		Metadata: map[string]any{"adminUserId": p.AdminUserID.String(), "reason": p.Reason},
	})
	return nil
}

// CleanupExpiredTokens purges blacklist rows past their expiry; it is
// meant to run on a periodic schedule rather than per-request.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int, error) {
	return s.store.DeleteExpiredBlacklistedTokens(ctx, s.clock.Now())
}
