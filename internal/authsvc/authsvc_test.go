package authsvc_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/authsvc"
	"github.com/lavente-care/aim-core/internal/cache/memcache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/mfa"
	"github.com/lavente-care/aim-core/internal/notify"
	"github.com/lavente-care/aim-core/internal/ratelimit"
	"github.com/lavente-care/aim-core/internal/session"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/store/memstore"
	"github.com/lavente-care/aim-core/internal/token"
	totpsvc "github.com/lavente-care/aim-core/internal/totp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const plainPassword = "correct horse battery staple"

type fixture struct {
	svc      *authsvc.Service
	mfaSvc   *mfa.Service
	st       *memstore.Store
	notifier *notify.Recorder
	clk      *stepClock
	userID   uuid.UUID
}

// stepClock stands still until a test moves it forward.
type stepClock struct{ at time.Time }

func (c *stepClock) Now() time.Time { return c.at }

var _ clock.Clock = (*stepClock)(nil)

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	clk := &stepClock{at: now}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	st := memstore.New()
	c := memcache.New()
	hasher := cryptosvc.NewPasswordHasher(cryptosvc.DefaultArgonParams())
	tokens := token.NewService(key, token.Config{Issuer: "test", Audience: "test"}, clk)
	auditSvc := audit.NewService(st, clk, discardLogger())
	sessions := session.NewService(st, c, tokens, auditSvc, clk)
	limiter := ratelimit.New(c, clk)
	notifier := notify.NewRecorder()

	masterKey, err := cryptosvc.GenerateMasterKeyHex()
	require.NoError(t, err)
	secrets, err := cryptosvc.NewSecretBox(masterKey)
	require.NoError(t, err)
	totpSvc := totpsvc.NewService("aim-core-test", clk)
	mfaSvc := mfa.NewService(st, c, totpSvc, secrets, hasher, auditSvc, notifier, clk)

	userID := uuid.New()
	passwordHash, err := hasher.Hash(plainPassword)
	require.NoError(t, err)
	verifiedAt := now
	st.PutUser(&store.User{
		ID: userID, Email: "user@example.com", PasswordHash: passwordHash,
		Status: store.UserActive, EmailVerifiedAt: &verifiedAt, CreatedAt: now, UpdatedAt: now,
	})

	svc := authsvc.NewService(st, st, limiter, c, hasher, tokens, sessions, mfaSvc, st, auditSvc, notifier, clk)
	return &fixture{svc: svc, mfaSvc: mfaSvc, st: st, notifier: notifier, clk: clk, userID: userID}
}

func TestLogin_SucceedsWithCorrectPassword(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, now)

	res, err := fx.svc.Login(context.Background(), authsvc.LoginParams{
		Email: "user@example.com", Password: plainPassword,
		DeviceFingerprint: "device-1", IPAddress: "1.2.3.4", UserAgent: "ua",
	})
	require.NoError(t, err)
	assert.False(t, res.MFARequired)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEqual(t, uuid.Nil, res.SessionID)
}

func TestLogin_RejectsWrongPasswordWithGenericMessage(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, now)

	_, err := fx.svc.Login(context.Background(), authsvc.LoginParams{
		Email: "user@example.com", Password: "wrong password",
		DeviceFingerprint: "device-1", IPAddress: "1.2.3.4", UserAgent: "ua",
	})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.Unauthorized))
	assert.Contains(t, err.Error(), "invalid email or password")
}

func TestLogin_UnknownUserReturnsSameMessageAsWrongPassword(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, now)

	_, err := fx.svc.Login(context.Background(), authsvc.LoginParams{
		Email: "nobody@example.com", Password: "whatever",
		DeviceFingerprint: "device-1", IPAddress: "1.2.3.4", UserAgent: "ua",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid email or password")
}

func TestLogin_LocksAccountAfterRepeatedFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, now)

	for i := 0; i < 10; i++ {
		// Space the attempts out so the per-email limit (5 per 15
		// minutes) never rejects one before the lockout threshold.
		fx.clk.at = fx.clk.at.Add(4 * time.Minute)
		_, err := fx.svc.Login(context.Background(), authsvc.LoginParams{
			Email: "user@example.com", Password: "wrong password",
			DeviceFingerprint: "device-1", IPAddress: "1.2.3.4", UserAgent: "ua",
		})
		require.Error(t, err)
	}

	_, err := fx.svc.Login(context.Background(), authsvc.LoginParams{
		Email: "user@example.com", Password: plainPassword,
		DeviceFingerprint: "device-1", IPAddress: "1.2.3.4", UserAgent: "ua",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	alerts, _, err := fx.st.ListAlerts(context.Background(), store.AlertFilter{UserID: &fx.userID})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, store.AlertAccountLocked, alerts[0].Type)

	found := false
	for _, msg := range fx.notifier.Messages() {
		if msg.Type == notify.EmailAccountLocked {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLogin_EnforcesEmailRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, now)

	for i := 0; i < 5; i++ {
		_, _ = fx.svc.Login(context.Background(), authsvc.LoginParams{
			Email: "user@example.com", Password: "wrong password",
			DeviceFingerprint: "device-1", IPAddress: "9.9.9.9", UserAgent: "ua",
		})
	}

	_, err := fx.svc.Login(context.Background(), authsvc.LoginParams{
		Email: "user@example.com", Password: plainPassword,
		DeviceFingerprint: "device-1", IPAddress: "9.9.9.9", UserAgent: "ua",
	})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.TooManyRequests))
}

func TestLogin_RequiresMFAWhenEnabledThenResumesOnCompletion(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, now)

	setupToken, secret, err := fx.mfaSvc.InitiateSetup(context.Background(), fx.userID, "user@example.com")
	require.NoError(t, err)
	setupCode, err := totp.GenerateCode(secret.Base32Secret, now)
	require.NoError(t, err)
	_, err = fx.mfaSvc.CompleteSetup(context.Background(), fx.userID, setupToken, setupCode)
	require.NoError(t, err)

	res, err := fx.svc.Login(context.Background(), authsvc.LoginParams{
		Email: "user@example.com", Password: plainPassword,
		DeviceFingerprint: "device-1", IPAddress: "1.2.3.4", UserAgent: "ua",
	})
	require.NoError(t, err)
	assert.True(t, res.MFARequired)
	assert.NotEmpty(t, res.MFAChallengeID)

	// A caller in possession of only the challenge id, without ever
	// verifying a TOTP code, must not be able to finish the login.
	_, err = fx.svc.CompleteMFALogin(context.Background(), res.MFAChallengeID)
	require.Error(t, err)

	loginCode, err := totp.GenerateCode(secret.Base32Secret, now)
	require.NoError(t, err)
	verifyResult, err := fx.mfaSvc.VerifyChallenge(context.Background(), res.MFAChallengeID, loginCode, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, verifyResult.Success)

	final, err := fx.svc.CompleteMFALogin(context.Background(), res.MFAChallengeID)
	require.NoError(t, err)
	assert.False(t, final.MFARequired)
	assert.NotEmpty(t, final.Tokens.AccessToken)
}

func TestLogin_NewDeviceTriggersAuditAndNotification(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, now)

	_, err := fx.svc.Login(context.Background(), authsvc.LoginParams{
		Email: "user@example.com", Password: plainPassword,
		DeviceFingerprint: "brand-new-device", IPAddress: "1.2.3.4", UserAgent: "ua",
	})
	require.NoError(t, err)

	found := false
	for _, msg := range fx.notifier.Messages() {
		if msg.Type == notify.EmailNewDeviceLogin {
			found = true
		}
	}
	assert.True(t, found)
}
