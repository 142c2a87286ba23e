package security_test

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
	"github.com/lavente-care/aim-core/internal/security"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/store/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, now time.Time) (*security.Service, *memstore.Store) {
	t.Helper()
	frozen := clock.Frozen{At: now}
	st := memstore.New()
	auditSvc := audit.NewService(st, frozen, discardLogger())
	svc := security.NewService(st, memcache.New(), auditSvc, frozen)
	return svc, st
}

func TestCreateAlert_StartsActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	userID := uuid.New()

	alert, err := svc.CreateAlert(context.Background(), security.CreateAlertParams{
		UserID: &userID, Type: store.AlertAccountLocked, Severity: store.SeverityHigh, Title: "Account locked",
	})
	require.NoError(t, err)
	assert.Equal(t, store.AlertActive, alert.Status)
}

func TestAcknowledgeThenResolve_FollowsLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()

	alert, err := svc.CreateAlert(context.Background(), security.CreateAlertParams{
		Type: store.AlertNewDeviceLogin, Severity: store.SeverityMedium, Title: "New device",
	})
	require.NoError(t, err)

	acked, err := svc.Acknowledge(context.Background(), alert.ID, actorID, "investigating")
	require.NoError(t, err)
	assert.Equal(t, store.AlertAcknowledged, acked.Status)
	assert.Equal(t, actorID.String(), acked.Metadata["acknowledgedBy"])

	resolved, err := svc.Resolve(context.Background(), alert.ID, actorID, "confirmed legitimate", []string{"none"})
	require.NoError(t, err)
	assert.Equal(t, store.AlertResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, actorID, *resolved.ResolvedBy)
}

func TestResolve_RejectsTransitionFromTerminalState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()

	alert, err := svc.CreateAlert(context.Background(), security.CreateAlertParams{
		Type: store.AlertMFADisabled, Severity: store.SeverityHigh, Title: "MFA disabled",
	})
	require.NoError(t, err)

	_, err = svc.Dismiss(context.Background(), alert.ID, actorID, "not a concern", true)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), alert.ID, actorID, "too late", nil)
	require.Error(t, err)
}

func TestDashboardSummary_IsCachedAcrossCalls(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newFixture(t, now)

	_, err := svc.CreateAlert(context.Background(), security.CreateAlertParams{
		Type: store.AlertBruteForceDetected, Severity: store.SeverityCritical, Title: "Brute force",
	})
	require.NoError(t, err)

	first, err := svc.DashboardSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.ActiveCount)

	extraUser := uuid.New()
	require.NoError(t, st.CreateAlert(context.Background(), &store.SecurityAlert{
		ID: uuid.New(), UserID: &extraUser, Type: store.AlertTokenReuseDetected, Severity: store.SeverityCritical,
		Status: store.AlertActive, Title: "Token reuse", CreatedAt: now,
	}))

	second, err := svc.DashboardSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.ActiveCount, "stale cached summary should be returned until invalidated")
}

func TestCreateSubscription_RejectsDuplicateEndpoint(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	userID := uuid.New()

	_, err := svc.CreateSubscription(context.Background(), security.CreateSubscriptionParams{
		UserID: userID, Channel: store.ChannelEmail, Endpoint: "user@example.com", EventTypes: []string{"alert.created"},
	})
	require.NoError(t, err)

	_, err = svc.CreateSubscription(context.Background(), security.CreateSubscriptionParams{
		UserID: userID, Channel: store.ChannelEmail, Endpoint: "user@example.com", EventTypes: []string{"alert.created"},
	})
	require.Error(t, err)
}

func TestDeleteSubscription_RejectsNonOwner(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	userID := uuid.New()
	intruder := uuid.New()

	sub, err := svc.CreateSubscription(context.Background(), security.CreateSubscriptionParams{
		UserID: userID, Channel: store.ChannelEmail, Endpoint: "user@example.com", EventTypes: []string{"alert.created"},
	})
	require.NoError(t, err)

	err = svc.DeleteSubscription(context.Background(), sub.ID, intruder)
	require.Error(t, err)

	err = svc.DeleteSubscription(context.Background(), sub.ID, userID)
	require.NoError(t, err)
}
