// Package passwordreset implements the Password Reset Service (§4.K):
// request/reset/validate for a forgotten password, plus the
// authenticated change-password operation for a signed-in user.
package passwordreset

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/notify"
	"github.com/lavente-care/aim-core/internal/store"
)

const (
	resetTokenTTL      = time.Hour
	minResponseTime    = 200 * time.Millisecond
	rawTokenBytes      = 32
	historyKeepCount   = 5
	requestedMessage   = "if an account exists for that email, a reset link has been sent"
)

// Store is the narrow slice of UserStore + PasswordResetStore this
// service needs, combined so callers can pass one concrete store.
type Store interface {
	store.PasswordResetStore
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, changedAt time.Time) error
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// sessionRevoker is the one SessionStore capability needed to
// invalidate every active session once a password has been reset.
type sessionRevoker interface {
	RevokeSessionsByUserExcept(ctx context.Context, userID uuid.UUID, exceptID uuid.UUID, reason store.RevokeReason, at time.Time) (int, error)
}

type Service struct {
	store    Store
	sessions sessionRevoker
	hasher   *cryptosvc.PasswordHasher
	audit    audit.Sink
	notifier notify.Notifier
	clock    clock.Clock
}

func NewService(st Store, sessions sessionRevoker, hasher *cryptosvc.PasswordHasher, auditSink audit.Sink, notifier notify.Notifier, clk clock.Clock) *Service {
	return &Service{store: st, sessions: sessions, hasher: hasher, audit: auditSink, notifier: notifier, clock: clk}
}

func MinResponseTime() time.Duration { return minResponseTime }

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RequestParams is the request shape for requestPasswordReset.
type RequestParams struct {
	Email         string
	IPAddress     string
	UserAgent     string
	CorrelationID string
}

// Request always returns the same message regardless of whether the
// email belongs to a real account, to defeat account enumeration.
func (s *Service) Request(ctx context.Context, p RequestParams) (string, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil || user.Status != store.UserActive {
		return requestedMessage, nil
	}

	now := s.clock.Now()
	if err := s.store.InvalidateActiveResetTokens(ctx, user.ID, now); err != nil {
		return requestedMessage, nil
	}

	rawToken, err := cryptosvc.RandomHex(rawTokenBytes)
	if err != nil {
		return requestedMessage, nil
	}
	resetToken := &store.PasswordResetToken{
		ID: uuid.New(), UserID: user.ID, TokenHash: hashToken(rawToken),
		IPAddress: p.IPAddress, ExpiresAt: now.Add(resetTokenTTL), CreatedAt: now,
	}
	if err := s.store.CreatePasswordResetToken(ctx, resetToken); err != nil {
		return requestedMessage, nil
	}

	_ = s.notifier.Enqueue(ctx, notify.Message{
		Type: notify.EmailPasswordReset, Recipient: user.Email,
		Payload: map[string]any{"token": rawToken, "expiresAt": resetToken.ExpiresAt},
	})
	s.audit.Log(ctx, audit.EventPasswordResetRequested, audit.Params{
		UserID: &user.ID, IPAddress: p.IPAddress, UserAgent: p.UserAgent, CorrelationID: p.CorrelationID,
	})
	return requestedMessage, nil
}

// ValidationResult is the no-side-effect result of validateResetToken.
type ValidationResult struct {
	Valid  bool
	Reason string
}

func (s *Service) ValidateResetToken(ctx context.Context, rawToken string) ValidationResult {
	if len(rawToken) != rawTokenBytes*2 {
		return ValidationResult{Reason: "malformed"}
	}
	t, err := s.store.GetPasswordResetTokenByHash(ctx, hashToken(rawToken))
	if err != nil || t == nil {
		return ValidationResult{Reason: "not_found"}
	}
	if t.UsedAt != nil {
		return ValidationResult{Reason: "used"}
	}
	if !t.ExpiresAt.After(s.clock.Now()) {
		return ValidationResult{Reason: "expired"}
	}
	return ValidationResult{Valid: true}
}

// ResetParams is the request shape for resetPassword.
type ResetParams struct {
	Token         string
	Password      string
	IPAddress     string
	UserAgent     string
	CorrelationID string
}

// Reset validates the token, rejects password reuse against the last
// historical hashes, and atomically rotates the password, retires the
// token, and revokes every active session.
func (s *Service) Reset(ctx context.Context, p ResetParams) error {
	if len(p.Token) != rawTokenBytes*2 {
		return apierr.BadRequestf("invalid reset token")
	}
	resetToken, err := s.store.GetPasswordResetTokenByHash(ctx, hashToken(p.Token))
	if err != nil || resetToken == nil {
		return apierr.BadRequestf("invalid reset token")
	}
	now := s.clock.Now()
	if resetToken.UsedAt != nil {
		return apierr.BadRequestf("reset token already used")
	}
	if !resetToken.ExpiresAt.After(now) {
		return apierr.BadRequestf("reset token expired")
	}

	user, err := s.store.GetUserByID(ctx, resetToken.UserID)
	if err != nil {
		return apierr.BadRequestf("invalid reset token")
	}

	if err := s.rejectReusedPassword(ctx, user, p.Password); err != nil {
		return err
	}

	newHash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return err
	}

	if err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.PushPasswordHistory(ctx, &store.PasswordHistoryEntry{
			ID: uuid.New(), UserID: user.ID, PasswordHash: user.PasswordHash, CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := s.store.TrimPasswordHistory(ctx, user.ID, historyKeepCount); err != nil {
			return err
		}
		if err := s.store.UpdatePassword(ctx, user.ID, newHash, now); err != nil {
			return err
		}
		if err := s.store.MarkPasswordResetTokenUsed(ctx, resetToken.ID, now); err != nil {
			return err
		}
		if _, err := s.sessions.RevokeSessionsByUserExcept(ctx, user.ID, uuid.Nil, store.ReasonPasswordReset, now); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return err
	}

	_ = s.notifier.Enqueue(ctx, notify.Message{Type: notify.EmailPasswordChanged, Recipient: user.Email})
	s.audit.Log(ctx, audit.EventPasswordResetCompleted, audit.Params{
		UserID: &user.ID, IPAddress: p.IPAddress, UserAgent: p.UserAgent, CorrelationID: p.CorrelationID,
	})
	return nil
}

// rejectReusedPassword compares the candidate against the current hash
// plus the last historyKeepCount historical hashes.
func (s *Service) rejectReusedPassword(ctx context.Context, user *store.User, candidate string) error {
	if ok, err := s.hasher.Verify(user.PasswordHash, candidate); err == nil && ok {
		return apierr.BadRequestf("password was used recently")
	}
	history, err := s.store.ListPasswordHistory(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, h := range history {
		if ok, verifyErr := s.hasher.Verify(h.PasswordHash, candidate); verifyErr == nil && ok {
			return apierr.BadRequestf("password was used recently")
		}
	}
	return nil
}

// ChangePassword is the authenticated counterpart to Reset: a
// signed-in user supplies their current password instead of a mailed
// token. It reuses the same history/rotation/session-revocation rules.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword, ipAddress, userAgent string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return apierr.Unauthorizedf("invalid credentials")
	}
	ok, err := s.hasher.Verify(user.PasswordHash, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Unauthorizedf("invalid credentials")
	}
	if subtle.ConstantTimeCompare([]byte(currentPassword), []byte(newPassword)) == 1 {
		return apierr.BadRequestf("new password must differ from current password")
	}
	if err := s.rejectReusedPassword(ctx, user, newPassword); err != nil {
		return err
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.PushPasswordHistory(ctx, &store.PasswordHistoryEntry{
			ID: uuid.New(), UserID: user.ID, PasswordHash: user.PasswordHash, CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := s.store.TrimPasswordHistory(ctx, user.ID, historyKeepCount); err != nil {
			return err
		}
		if err := s.store.UpdatePassword(ctx, user.ID, newHash, now); err != nil {
			return err
		}
		if _, err := s.sessions.RevokeSessionsByUserExcept(ctx, user.ID, uuid.Nil, store.ReasonPasswordReset, now); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return err
	}

	_ = s.notifier.Enqueue(ctx, notify.Message{Type: notify.EmailPasswordChanged, Recipient: user.Email})
	s.audit.Log(ctx, audit.EventPasswordResetCompleted, audit.Params{
		UserID: &user.ID, IPAddress: ipAddress, UserAgent: userAgent,
	})
	return nil
}
