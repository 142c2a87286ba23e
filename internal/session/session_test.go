package session_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
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
	"github.com/lavente-care/aim-core/internal/session"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/store/memstore"
	"github.com/lavente-care/aim-core/internal/token"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, now time.Time) (*session.Service, *memstore.Store, *token.Service, clock.Frozen) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	frozen := clock.Frozen{At: now}
	tokens := token.NewService(key, token.Config{Issuer: "test", Audience: "test"}, frozen)
	st := memstore.New()
	auditSvc := audit.NewService(st, frozen, discardLogger())
	svc := session.NewService(st, memcache.New(), tokens, auditSvc, frozen)
	return svc, st, tokens, frozen
}

func seedSession(t *testing.T, st *memstore.Store, tokens *token.Service, frozen clock.Frozen, userID uuid.UUID, family string) (*store.Session, token.Pair) {
	t.Helper()
	pair, err := tokens.GenerateTokenPair(token.IssueParams{UserID: userID, SessionID: uuid.New(), TokenFamily: family})
	require.NoError(t, err)
	claims, err := tokens.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	sess := &store.Session{
		ID: claims.SessionID, UserID: userID,
		AccessTokenHash:  token.GetTokenHash(pair.AccessToken),
		RefreshTokenHash: token.GetTokenHash(pair.RefreshToken),
		TokenFamily:      family,
		LastActivityAt:   frozen.Now(),
		ExpiresAt:        frozen.Now().Add(7 * 24 * time.Hour),
		CreatedAt:        frozen.Now(),
	}
	require.NoError(t, st.CreateSession(context.Background(), sess))
	return sess, pair
}

func TestRefresh_RotatesTokenAndBlacklistsOld(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, tokens, frozen := newFixture(t, now)
	userID := uuid.New()
	sess, pair := seedSession(t, st, tokens, frozen, userID, "family-1")

	newPair, err := svc.Refresh(context.Background(), pair.RefreshToken, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	blacklisted, err := svc.IsTokenBlacklisted(context.Background(), token.GetTokenHash(pair.RefreshToken))
	require.NoError(t, err)
	assert.True(t, blacklisted)

	updated, err := st.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, token.GetTokenHash(newPair.RefreshToken), updated.RefreshTokenHash)
}

func TestRefresh_ReuseDetectionRevokesFamily(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, tokens, frozen := newFixture(t, now)
	userID := uuid.New()
	_, pair := seedSession(t, st, tokens, frozen, userID, "family-2")

	_, err := svc.Refresh(context.Background(), pair.RefreshToken, "1.2.3.4", "ua")
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken, "1.2.3.4", "ua")
	require.Error(t, err)
}

func TestEnforceConcurrentLimit_RevokesOldest(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, tokens, frozen := newFixture(t, now)
	userID := uuid.New()

	var oldest *store.Session
	for i := 0; i < session.MaxConcurrentSessions; i++ {
		sess, _ := seedSession(t, st, tokens, frozen, userID, "family")
		if oldest == nil {
			oldest = sess
		}
		frozen.At = frozen.At.Add(time.Minute)
	}

	require.NoError(t, svc.EnforceConcurrentLimit(context.Background(), userID))

	got, err := st.GetSessionByID(context.Background(), oldest.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt)
	assert.Equal(t, store.ReasonConcurrentLimit, got.RevokeReason)
}

func TestRevokeSession_RejectsNonOwner(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, tokens, frozen := newFixture(t, now)
	owner := uuid.New()
	sess, _ := seedSession(t, st, tokens, frozen, owner, "family")

	err := svc.RevokeSession(context.Background(), sess.ID, uuid.New(), store.ReasonUserLogout)
	require.Error(t, err)

	got, err := st.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RevokedAt)
}

func TestCheckSessionTimeout_RevokesAfterInactivity(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, st, tokens, frozen := newFixture(t, start)
	userID := uuid.New()
	sess, _ := seedSession(t, st, tokens, frozen, userID, "family")

	later := clock.Frozen{At: start.Add(61 * time.Minute)}
	svc2 := session.NewService(st, memcache.New(), tokens, audit.NewService(st, later, discardLogger()), later)

	status, err := svc2.CheckSessionTimeout(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.False(t, status.Valid)

	got, err := st.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReasonInactivityTimeout, got.RevokeReason)
}

func TestCheckSessionTimeout_ShowsWarningNearExpiry(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, st, tokens, frozen := newFixture(t, start)
	userID := uuid.New()
	sess, _ := seedSession(t, st, tokens, frozen, userID, "family")

	later := clock.Frozen{At: start.Add(57 * time.Minute)}
	svc2 := session.NewService(st, memcache.New(), tokens, audit.NewService(st, later, discardLogger()), later)

	status, err := svc2.CheckSessionTimeout(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, status.Valid)
	assert.True(t, status.ShowWarning)
}

func TestMaskIP(t *testing.T) {
	assert.Equal(t, "***.***.***.42", session.MaskIP("10.0.0.42"))
	assert.Equal(t, "not-an-ip", session.MaskIP("not-an-ip"))
}

func TestParseUserAgent_DetectsMobileChrome(t *testing.T) {
	info := session.ParseUserAgent("Mozilla/5.0 (Linux; Android 14) Chrome/120.0 Mobile Safari/537.36")
	assert.Equal(t, "mobile", info.Type)
	assert.Equal(t, "Chrome", info.Browser)
	assert.Equal(t, "Android", info.OS)
}

func TestListSessions_OrdersByMostRecentActivity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, tokens, frozen := newFixture(t, now)
	userID := uuid.New()

	first, _ := seedSession(t, st, tokens, frozen, userID, "family")
	frozen.At = frozen.At.Add(time.Hour)
	second, _ := seedSession(t, st, tokens, frozen, userID, "family")

	views, err := svc.ListSessions(context.Background(), userID, second.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID)
	assert.True(t, views[0].IsCurrent)
	assert.Equal(t, first.ID, views[1].ID)
}
