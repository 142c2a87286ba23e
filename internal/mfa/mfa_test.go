package mfa_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache/memcache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/mfa"
	"github.com/lavente-care/aim-core/internal/notify"
	"github.com/lavente-care/aim-core/internal/store/memstore"
	totpsvc "github.com/lavente-care/aim-core/internal/totp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, now time.Time) (*mfa.Service, *memstore.Store, *totpsvc.Service, clock.Frozen) {
	t.Helper()
	frozen := clock.Frozen{At: now}
	st := memstore.New()
	totpSvc := totpsvc.NewService("aim-core-test", frozen)
	masterKey, err := cryptosvc.GenerateMasterKeyHex()
	require.NoError(t, err)
	secrets, err := cryptosvc.NewSecretBox(masterKey)
	require.NoError(t, err)
	hasher := cryptosvc.NewPasswordHasher(cryptosvc.DefaultArgonParams())
	auditSvc := audit.NewService(st, frozen, discardLogger())
	svc := mfa.NewService(st, memcache.New(), totpSvc, secrets, hasher, auditSvc, notify.NewRecorder(), frozen)
	return svc, st, totpSvc, frozen
}

func codeFor(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return code
}

func setupEnabledMFA(t *testing.T, svc *mfa.Service, userID uuid.UUID, at time.Time) string {
	t.Helper()
	setupToken, secret, err := svc.InitiateSetup(context.Background(), userID, "user@example.com")
	require.NoError(t, err)
	code := codeFor(t, secret.Base32Secret, at)
	_, err = svc.CompleteSetup(context.Background(), userID, setupToken, code)
	require.NoError(t, err)
	return secret.Base32Secret
}

func TestInitiateSetup_CachesSecretUnderSetupToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _, _ := newFixture(t, now)
	userID := uuid.New()

	token, secret, err := svc.InitiateSetup(context.Background(), userID, "user@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotEmpty(t, secret.Base32Secret)
}

func TestInitiateSetup_RejectsWhenAlreadyEnabled(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _, _ := newFixture(t, now)
	userID := uuid.New()
	setupEnabledMFA(t, svc, userID, now)

	_, _, err := svc.InitiateSetup(context.Background(), userID, "user@example.com")
	require.Error(t, err)
}

func TestCompleteSetup_EnablesMFAAndReturnsBackupCodes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, _, _ := newFixture(t, now)
	userID := uuid.New()

	setupToken, secret, err := svc.InitiateSetup(context.Background(), userID, "user@example.com")
	require.NoError(t, err)
	code := codeFor(t, secret.Base32Secret, now)

	codes, err := svc.CompleteSetup(context.Background(), userID, setupToken, code)
	require.NoError(t, err)
	assert.Len(t, codes, 10)

	status, err := svc.GetStatus(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, status.IsEnabled)
	assert.Equal(t, 10, status.RemainingCodes)

	cfg, err := st.GetMfaConfiguration(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled)
}

func TestCreateChallengeAndVerify_Success(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _, _ := newFixture(t, now)
	userID := uuid.New()
	secret := setupEnabledMFA(t, svc, userID, now)

	challengeToken, err := svc.CreateChallenge(context.Background(), userID, "1.2.3.4")
	require.NoError(t, err)

	code := codeFor(t, secret, now)
	result, err := svc.VerifyChallenge(context.Background(), challengeToken, code, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, userID, result.UserID)
}

func TestVerifyChallenge_LocksAccountAfterRepeatedFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, _, _ := newFixture(t, now)
	userID := uuid.New()
	setupEnabledMFA(t, svc, userID, now)

	for i := 0; i < 5; i++ {
		challengeToken, err := svc.CreateChallenge(context.Background(), userID, "1.2.3.4")
		require.NoError(t, err)
		_, _ = svc.VerifyChallenge(context.Background(), challengeToken, "000000", "1.2.3.4")
	}

	cfg, err := st.GetMfaConfiguration(context.Background(), userID)
	require.NoError(t, err)
	assert.NotNil(t, cfg.LockedUntil)
}

func TestVerifyChallenge_ExhaustsAttemptsAndDeletesChallenge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _, _ := newFixture(t, now)
	userID := uuid.New()
	setupEnabledMFA(t, svc, userID, now)

	challengeToken, err := svc.CreateChallenge(context.Background(), userID, "1.2.3.4")
	require.NoError(t, err)

	var lastErr error
	for i := 0; i < 3; i++ {
		_, lastErr = svc.VerifyChallenge(context.Background(), challengeToken, "000000", "1.2.3.4")
	}
	require.Error(t, lastErr)

	_, err = svc.VerifyChallenge(context.Background(), challengeToken, "000000", "1.2.3.4")
	require.Error(t, err)
}

func TestVerifyBackupCode_ConsumesFirstMatch(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _, _ := newFixture(t, now)
	userID := uuid.New()

	setupToken, secret, err := svc.InitiateSetup(context.Background(), userID, "user@example.com")
	require.NoError(t, err)
	code := codeFor(t, secret.Base32Secret, now)
	codes, err := svc.CompleteSetup(context.Background(), userID, setupToken, code)
	require.NoError(t, err)
	require.NotEmpty(t, codes)

	ok, remaining, err := svc.VerifyBackupCode(context.Background(), userID, codes[0], "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9, remaining)

	ok, _, err = svc.VerifyBackupCode(context.Background(), userID, codes[0], "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegenerateBackupCodes_ReplacesFullSet(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _, _ := newFixture(t, now)
	userID := uuid.New()
	setupEnabledMFA(t, svc, userID, now)

	fresh, err := svc.RegenerateBackupCodes(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, fresh, 10)

	status, err := svc.GetStatus(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 10, status.RemainingCodes)
}

func TestDisable_RemovesConfigurationAndBackupCodes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, _, _ := newFixture(t, now)
	userID := uuid.New()
	setupEnabledMFA(t, svc, userID, now)

	require.NoError(t, svc.Disable(context.Background(), userID))

	_, err := st.GetMfaConfiguration(context.Background(), userID)
	assert.Error(t, err)

	remaining, err := st.CountUnusedBackupCodes(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestDisable_RemovesPendingChallenges(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _, _ := newFixture(t, now)
	userID := uuid.New()
	setupEnabledMFA(t, svc, userID, now)

	challengeToken, err := svc.CreateChallenge(context.Background(), userID, "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, svc.Disable(context.Background(), userID))

	_, err = svc.VerifyChallenge(context.Background(), challengeToken, "000000", "1.2.3.4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found or expired")
}
