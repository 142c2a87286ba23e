package mfa

import (
	"context"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/totp"
)

// CreateChallenge is invoked mid-login once password verification has
// succeeded for a user with MFA enabled. It requires the account not be
// mid-lockout and returns an opaque challenge token the client submits
// the TOTP or backup code against.
func (s *Service) CreateChallenge(ctx context.Context, userID uuid.UUID, ipAddress string) (string, error) {
	cfg, err := s.store.GetMfaConfiguration(ctx, userID)
	if err != nil || !cfg.IsEnabled {
		return "", apierr.BadRequestf("mfa is not enabled")
	}
	now := s.clock.Now()
	if cfg.LockedUntil != nil && now.Before(*cfg.LockedUntil) {
		return "", apierr.TooManyRequestsf("account temporarily locked")
	}

	if err := s.store.DeleteExpiredChallengesForUser(ctx, userID, now); err != nil {
		return "", err
	}

	token, err := cryptosvc.RandomHex(32)
	if err != nil {
		return "", err
	}
	challenge := &store.MfaChallenge{
		ID:             uuid.New(),
		ChallengeToken: token,
		UserID:         userID,
		Type:           store.MfaChallengeTOTP,
		MaxAttempts:    challengeMaxAttempts,
		ExpiresAt:      now.Add(challengeTTL),
		IPAddress:      ipAddress,
	}
	if err := s.store.CreateMfaChallenge(ctx, challenge); err != nil {
		return "", err
	}

	s.audit.Log(ctx, audit.EventMFAChallengeSuccess, audit.Params{UserID: &userID, IPAddress: ipAddress})
	return token, nil
}

// VerifyResult tells the caller (typically the login pipeline) what
// happened so it can decide whether to finish issuing tokens.
type VerifyResult struct {
	Success bool
	UserID  uuid.UUID
}

// VerifyChallenge validates a TOTP code against a pending challenge,
// implementing the attempt-tracking and lockout rules of §4.G.
func (s *Service) VerifyChallenge(ctx context.Context, challengeToken, code, ipAddress string) (VerifyResult, error) {
	challenge, err := s.store.GetMfaChallengeByToken(ctx, challengeToken)
	if err != nil {
		return VerifyResult{}, apierr.BadRequestf("challenge not found or expired")
	}
	now := s.clock.Now()
	if !challenge.IsUsable(now) {
		return VerifyResult{}, apierr.BadRequestf("challenge not found or expired")
	}

	if len(code) != 6 {
		return s.failChallenge(ctx, challenge, ipAddress)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return s.failChallenge(ctx, challenge, ipAddress)
		}
	}

	cfg, err := s.store.GetMfaConfiguration(ctx, challenge.UserID)
	if err != nil {
		return VerifyResult{}, apierr.Internal(err)
	}

	ok, err := s.verifyTOTP(cfg, code)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return s.failChallenge(ctx, challenge, ipAddress)
	}

	challenge.CompletedAt = &now
	if err := s.store.UpdateMfaChallenge(ctx, challenge); err != nil {
		return VerifyResult{}, err
	}
	cfg.FailedAttempts = 0
	cfg.LockedUntil = nil
	cfg.LastUsedAt = &now
	if err := s.store.UpsertMfaConfiguration(ctx, cfg); err != nil {
		return VerifyResult{}, err
	}

	s.audit.Log(ctx, audit.EventMFAVerified, audit.Params{UserID: &challenge.UserID, IPAddress: ipAddress})
	return VerifyResult{Success: true, UserID: challenge.UserID}, nil
}

// ConsumeCompletedChallenge is called by the login pipeline once it
// holds a challenge token it believes was verified. It returns the
// challenge's user only if VerifyChallenge actually marked it
// completed, then deletes it so the token cannot finish a second login.
func (s *Service) ConsumeCompletedChallenge(ctx context.Context, challengeToken string) (uuid.UUID, error) {
	challenge, err := s.store.GetMfaChallengeByToken(ctx, challengeToken)
	if err != nil {
		return uuid.UUID{}, apierr.BadRequestf("mfa challenge expired or invalid")
	}
	if challenge.CompletedAt == nil {
		return uuid.UUID{}, apierr.BadRequestf("mfa challenge has not been verified")
	}
	if err := s.store.DeleteMfaChallenge(ctx, challenge.ID); err != nil {
		return uuid.UUID{}, err
	}
	return challenge.UserID, nil
}

// failChallenge records a failed attempt against both the challenge and
// the account-level failure counter, locking the account at the
// verifyFailLimit threshold.
func (s *Service) failChallenge(ctx context.Context, challenge *store.MfaChallenge, ipAddress string) (VerifyResult, error) {
	now := s.clock.Now()
	challenge.Attempts++
	if err := s.store.UpdateMfaChallenge(ctx, challenge); err != nil {
		return VerifyResult{}, err
	}

	cfg, err := s.store.GetMfaConfiguration(ctx, challenge.UserID)
	if err == nil && cfg != nil {
		cfg.FailedAttempts++
		if cfg.FailedAttempts >= verifyFailLimit {
			lockedUntil := now.Add(lockoutDuration)
			cfg.LockedUntil = &lockedUntil
			_ = s.store.UpsertMfaConfiguration(ctx, cfg)
			s.audit.Log(ctx, audit.EventAccountLocked, audit.Params{UserID: &challenge.UserID, IPAddress: ipAddress})
		} else {
			_ = s.store.UpsertMfaConfiguration(ctx, cfg)
		}
	}

	if challenge.Attempts >= challenge.MaxAttempts {
		if err := s.store.DeleteMfaChallenge(ctx, challenge.ID); err != nil {
			return VerifyResult{}, err
		}
		s.audit.Log(ctx, audit.EventMFAVerificationFailed, audit.Params{UserID: &challenge.UserID, IPAddress: ipAddress})
		return VerifyResult{}, apierr.TooManyRequestsf("too many mfa attempts")
	}

	s.audit.Log(ctx, audit.EventMFAVerificationFailed, audit.Params{UserID: &challenge.UserID, IPAddress: ipAddress})
	return VerifyResult{}, apierr.BadRequestf("invalid verification code")
}

// VerifyBackupCode consumes one unused backup code out of band of the
// normal TOTP challenge, for when the user has lost their device.
func (s *Service) VerifyBackupCode(ctx context.Context, userID uuid.UUID, code, ipAddress, userAgent string) (bool, int, error) {
	codes, err := s.store.ListUnusedBackupCodes(ctx, userID)
	if err != nil {
		return false, 0, err
	}

	var matched *store.MfaBackupCode
	for _, c := range codes {
		ok, verifyErr := totp.VerifyBackupCode(s.hasher, c.CodeHash, code)
		if verifyErr != nil {
			continue
		}
		if ok {
			matched = c
			break
		}
	}
	if matched == nil {
		s.audit.Log(ctx, audit.EventMFAVerificationFailed, audit.Params{UserID: &userID, IPAddress: ipAddress})
		return false, 0, nil
	}

	now := s.clock.Now()
	if err := s.store.MarkBackupCodeUsed(ctx, matched.ID, ipAddress, userAgent, now); err != nil {
		return false, 0, err
	}
	remaining, err := s.store.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return false, 0, err
	}

	s.audit.Log(ctx, audit.EventMFABackupCodeUsed, audit.Params{
		UserID: &userID, IPAddress: ipAddress, UserAgent: userAgent,
		Metadata: map[string]any{"remainingCodes": remaining, "shouldRegenerate": remaining <= 2},
	})
	return true, remaining, nil
}

// RegenerateBackupCodes requires a fresh password and TOTP check
// upstream; it atomically replaces the full set of backup codes.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	codes, err := s.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.EventMFABackupCodesRegenerated, audit.Params{UserID: &userID})
	return codes, nil
}

