package logout_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache/memcache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/logout"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/store/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const plainPassword = "correct horse battery staple"

func newFixture(t *testing.T, now time.Time) (*logout.Service, *memstore.Store, uuid.UUID) {
	t.Helper()
	frozen := clock.Frozen{At: now}
	st := memstore.New()
	hasher := cryptosvc.NewPasswordHasher(cryptosvc.DefaultArgonParams())
	auditSvc := audit.NewService(st, frozen, discardLogger())

	userID := uuid.New()
	passwordHash, err := hasher.Hash(plainPassword)
	require.NoError(t, err)
	st.PutUser(&store.User{ID: userID, Email: "user@example.com", PasswordHash: passwordHash, Status: store.UserActive, CreatedAt: now, UpdatedAt: now})

	svc := logout.NewService(st, memcache.New(), hasher, st, auditSvc, frozen)
	return svc, st, userID
}

func seedSession(t *testing.T, st *memstore.Store, userID uuid.UUID, now time.Time) *store.Session {
	t.Helper()
	sess := &store.Session{
		ID: uuid.New(), UserID: userID,
		AccessTokenHash:  "access-hash",
		RefreshTokenHash: "refresh-hash",
		LastActivityAt:   now,
		ExpiresAt:        now.Add(7 * 24 * time.Hour),
		CreatedAt:        now,
	}
	require.NoError(t, st.CreateSession(context.Background(), sess))
	return sess
}

func TestLogout_RevokesAndBlacklistsTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, userID := newFixture(t, now)
	sess := seedSession(t, st, userID, now)

	res := svc.Logout(context.Background(), logout.LogoutParams{
		SessionID: sess.ID, UserID: userID, AccessToken: "raw-access-token", IPAddress: "1.2.3.4",
	})
	assert.True(t, res.Success)
	assert.False(t, res.ServerLogoutFailed)

	reloaded, err := st.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.RevokedAt)
	assert.Equal(t, store.ReasonUserLogout, reloaded.RevokeReason)

	blacklisted, err := st.IsTokenBlacklisted(context.Background(), "refresh-hash")
	require.NoError(t, err)
	assert.True(t, blacklisted)
}

func TestLogout_IsIdempotentOnMissingSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID := newFixture(t, now)

	res := svc.Logout(context.Background(), logout.LogoutParams{
		SessionID: uuid.New(), UserID: userID, AccessToken: "raw-access-token", IPAddress: "1.2.3.4",
	})
	assert.True(t, res.Success)
}

func TestLogout_IsIdempotentOnAlreadyRevokedSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, userID := newFixture(t, now)
	sess := seedSession(t, st, userID, now)
	require.NoError(t, st.RevokeSession(context.Background(), sess.ID, store.ReasonUserLogout, now))

	res := svc.Logout(context.Background(), logout.LogoutParams{
		SessionID: sess.ID, UserID: userID, AccessToken: "raw-access-token", IPAddress: "1.2.3.4",
	})
	assert.True(t, res.Success)
}

func TestLogoutAllDevices_RequiresPasswordAndRevokesOthers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, userID := newFixture(t, now)
	current := seedSession(t, st, userID, now)
	other1 := seedSession(t, st, userID, now)
	other2 := seedSession(t, st, userID, now)

	_, err := svc.LogoutAllDevices(context.Background(), logout.LogoutAllDevicesParams{
		UserID: userID, CurrentSessionID: current.ID, Password: "wrong password", IPAddress: "1.2.3.4",
	})
	require.Error(t, err)

	count, err := svc.LogoutAllDevices(context.Background(), logout.LogoutAllDevicesParams{
		UserID: userID, CurrentSessionID: current.ID, Password: plainPassword, IPAddress: "1.2.3.4",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	reloadedCurrent, err := st.GetSessionByID(context.Background(), current.ID)
	require.NoError(t, err)
	assert.Nil(t, reloadedCurrent.RevokedAt)

	reloadedOther1, err := st.GetSessionByID(context.Background(), other1.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloadedOther1.RevokedAt)

	reloadedOther2, err := st.GetSessionByID(context.Background(), other2.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloadedOther2.RevokedAt)
}

func TestForceLogout_RevokesWithoutPassword(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, userID := newFixture(t, now)
	sess := seedSession(t, st, userID, now)
	adminID := uuid.New()

	err := svc.ForceLogout(context.Background(), logout.ForceLogoutParams{
		SessionID: sess.ID, AdminUserID: adminID, Reason: "compromised credentials", IPAddress: "1.2.3.4",
	})
	require.NoError(t, err)

	reloaded, err := st.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.RevokedAt)
	assert.Equal(t, store.ReasonAdminForceLogout, reloaded.RevokeReason)
}

func TestCleanupExpiredTokens_PurgesPastExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, _ := newFixture(t, now)
	require.NoError(t, st.CreateBlacklistedToken(context.Background(), &store.BlacklistedToken{
		TokenHash: "stale-hash", ExpiresAt: now.Add(-time.Hour), Reason: store.ReasonUserLogout,
	}))

	count, err := svc.CleanupExpiredTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
