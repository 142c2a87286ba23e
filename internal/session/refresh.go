package session

import (
	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/token"

	"context"
)

// Refresh runs the refresh-with-rotation-and-reuse-detection algorithm of
// §4.F: verify, detect reuse via the blacklist, rotate, and return a fresh
// token pair sharing the original tokenFamily.
func (s *Service) Refresh(ctx context.Context, refreshToken, ipAddress, userAgent string) (token.Pair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return token.Pair{}, apierr.Unauthorizedf("invalid refresh token")
	}

	oldHash := token.GetTokenHash(refreshToken)
	blacklisted, err := s.IsTokenBlacklisted(ctx, oldHash)
	if err != nil {
		return token.Pair{}, err
	}
	if blacklisted {
		revoked, revokeErr := s.store.RevokeSessionsByFamily(ctx, claims.TokenFamily, store.ReasonTokenReuseDetected, s.clock.Now())
		if revokeErr != nil {
			return token.Pair{}, revokeErr
		}
		for _, sess := range revoked {
			_ = s.blacklistSessionTokens(ctx, sess, store.ReasonTokenReuseDetected)
			s.invalidateCache(ctx, sess.ID)
		}
		s.audit.Log(ctx, audit.EventSessionRevoked, audit.Params{
			TargetType: "token_family", TargetID: claims.TokenFamily,
			Metadata: map[string]any{"reason": "reuse_detected", "sessionsRevoked": len(revoked)},
		})
		return token.Pair{}, apierr.Unauthorizedf("refresh token reuse detected")
	}

	sess, err := s.store.GetSessionByID(ctx, claims.SessionID)
	if err != nil {
		return token.Pair{}, apierr.Unauthorizedf("session not found")
	}
	now := s.clock.Now()
	if !sess.IsUsable(now) {
		return token.Pair{}, apierr.Unauthorizedf("session expired or revoked")
	}

	pair, err := s.tokens.GenerateTokenPair(token.IssueParams{
		UserID:       sess.UserID,
		SessionID:    sess.ID,
		TokenFamily:  sess.TokenFamily,
		IsRemembered: sess.IsRemembered,
	})
	if err != nil {
		return token.Pair{}, err
	}

	if err := s.store.CreateBlacklistedToken(ctx, &store.BlacklistedToken{
		TokenHash: oldHash,
		ExpiresAt: claims.ExpiresAt.Time,
		Reason:    store.ReasonTokenRotated,
	}); err != nil {
		return token.Pair{}, err
	}

	newHash := token.GetTokenHash(pair.RefreshToken)
	ip := ipAddress
	if err := s.store.UpdateSessionRotation(ctx, sess.ID, newHash, now, ip); err != nil {
		return token.Pair{}, err
	}
	s.invalidateCache(ctx, sess.ID)

	s.audit.Log(ctx, audit.EventTokenRefreshed, audit.Params{
		UserID: &sess.UserID, TargetType: "session", TargetID: sess.ID.String(), IPAddress: ipAddress, UserAgent: userAgent,
	})
	return pair, nil
}
