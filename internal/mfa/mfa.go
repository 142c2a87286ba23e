// Package mfa implements the MFA Service (§4.G): TOTP setup, verification,
// disable, challenge issuance, and the lockout state machine guarding it.
package mfa

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/notify"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/totp"
)

const (
	setupTokenTTL        = 10 * time.Minute
	challengeTTL         = 5 * time.Minute
	challengeMaxAttempts = 3
	verifyFailLimit      = 5
	lockoutDuration      = 30 * time.Minute
	backupCodeCount      = 10
	setupCacheKeyPrefix  = "mfa:setup:"
	challengeCacheKey    = "mfa:challenge:"
)

type Service struct {
	store    store.MfaStore
	cache    cache.Cache
	totp     *totp.Service
	secrets  *cryptosvc.SecretBox
	hasher   *cryptosvc.PasswordHasher
	audit    audit.Sink
	notifier notify.Notifier
	clock    clock.Clock
}

func NewService(st store.MfaStore, c cache.Cache, totpSvc *totp.Service, secrets *cryptosvc.SecretBox, hasher *cryptosvc.PasswordHasher, auditSink audit.Sink, notifier notify.Notifier, clk clock.Clock) *Service {
	return &Service{store: st, cache: c, totp: totpSvc, secrets: secrets, hasher: hasher, audit: auditSink, notifier: notifier, clock: clk}
}

// Status is the caller-facing projection of a user's MFA configuration.
type Status struct {
	IsEnabled        bool
	VerifiedAt       *time.Time
	RemainingCodes   int
	LockedUntil      *time.Time
}

func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID) (Status, error) {
	cfg, err := s.store.GetMfaConfiguration(ctx, userID)
	if err != nil {
		return Status{}, nil
	}
	remaining, err := s.store.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		IsEnabled:      cfg.IsEnabled,
		VerifiedAt:     cfg.VerifiedAt,
		RemainingCodes: remaining,
		LockedUntil:    cfg.LockedUntil,
	}, nil
}

type setupData struct {
	UserID uuid.UUID `json:"userId"`
	Secret string    `json:"secret"`
}

// InitiateSetup requires a fresh password check upstream by the caller;
// it generates a new TOTP secret and caches it under a short-lived
// setupToken, never persisting the secret until it is verified.
func (s *Service) InitiateSetup(ctx context.Context, userID uuid.UUID, email string) (setupToken string, secret totp.Secret, err error) {
	existing, err := s.store.GetMfaConfiguration(ctx, userID)
	if err == nil && existing != nil {
		if existing.IsEnabled {
			return "", totp.Secret{}, apierr.Conflictf("mfa is already enabled")
		}
		if delErr := s.store.DeleteMfaConfiguration(ctx, userID); delErr != nil {
			return "", totp.Secret{}, delErr
		}
	}

	generated, err := s.totp.GenerateSecret(email)
	if err != nil {
		return "", totp.Secret{}, err
	}

	token, err := cryptosvc.RandomHex(32)
	if err != nil {
		return "", totp.Secret{}, err
	}

	raw, err := json.Marshal(setupData{UserID: userID, Secret: generated.Base32Secret})
	if err != nil {
		return "", totp.Secret{}, err
	}
	if err := s.cache.Set(ctx, setupCacheKeyPrefix+token, string(raw), setupTokenTTL); err != nil {
		return "", totp.Secret{}, err
	}

	s.audit.Log(ctx, audit.EventMFASetupInitiated, audit.Params{UserID: &userID})
	return token, generated, nil
}

// CompleteSetup verifies the caller's first TOTP code against the cached
// secret, persists the configuration, and returns a one-time set of
// plaintext backup codes.
func (s *Service) CompleteSetup(ctx context.Context, userID uuid.UUID, setupToken, code string) ([]string, error) {
	raw, ok, err := s.cache.Get(ctx, setupCacheKeyPrefix+setupToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.BadRequestf("setup token expired or invalid")
	}
	var data setupData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, apierr.Internal(err)
	}
	if data.UserID != userID {
		return nil, apierr.BadRequestf("setup token expired or invalid")
	}

	if !s.totp.VerifyToken(data.Secret, code) {
		return nil, apierr.BadRequestf("invalid verification code")
	}

	encrypted, err := s.secrets.Encrypt(data.Secret)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.store.UpsertMfaConfiguration(ctx, &store.MfaConfiguration{
		UserID:          userID,
		SecretEncrypted: encrypted,
		IsEnabled:       true,
		VerifiedAt:      &now,
	}); err != nil {
		return nil, err
	}

	plainCodes, err := s.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Delete(ctx, setupCacheKeyPrefix+setupToken)
	s.audit.Log(ctx, audit.EventMFAEnabled, audit.Params{UserID: &userID})
	return plainCodes, nil
}

// issueBackupCodes replaces whatever backup codes exist with a fresh set
// of backupCodeCount codes and returns the plaintext values once.
func (s *Service) issueBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	plainCodes, err := s.totp.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}
	rows := make([]*store.MfaBackupCode, len(plainCodes))
	now := s.clock.Now()
	for i, code := range plainCodes {
		hash, err := totp.HashBackupCode(s.hasher, code)
		if err != nil {
			return nil, err
		}
		rows[i] = &store.MfaBackupCode{ID: uuid.New(), UserID: userID, CodeHash: hash, CreatedAt: now}
	}

	return plainCodes, s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.DeleteBackupCodes(ctx, userID); err != nil {
			return err
		}
		return s.store.CreateBackupCodes(ctx, rows)
	})
}

// Disable requires a fresh password check and a current TOTP code,
// both verified upstream; it tears down every MFA artifact for the
// user: configuration, backup codes, and any pending challenges.
func (s *Service) Disable(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.DeleteMfaConfiguration(ctx, userID); err != nil {
			return err
		}
		if err := s.store.DeleteBackupCodes(ctx, userID); err != nil {
			return err
		}
		return s.store.DeleteChallengesForUser(ctx, userID)
	}); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.EventMFADisabled, audit.Params{UserID: &userID})
	_ = s.notifier.Enqueue(ctx, notify.Message{Type: notify.EmailMFADisabled, Payload: map[string]any{"userId": userID.String()}})
	return nil
}

// verifyTOTP checks code against the user's decrypted secret. It does
// no attempt counting or lockout; failChallenge in challenge.go does.
func (s *Service) verifyTOTP(cfg *store.MfaConfiguration, code string) (bool, error) {
	secret, err := s.secrets.Decrypt(cfg.SecretEncrypted)
	if err != nil {
		return false, err
	}
	return s.totp.VerifyToken(secret, code), nil
}
