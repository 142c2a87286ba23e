package passwordreset_test

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
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/notify"
	"github.com/lavente-care/aim-core/internal/passwordreset"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/store/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const plainPassword = "correct horse battery staple"

func newFixture(t *testing.T, now time.Time) (*passwordreset.Service, *memstore.Store, *notify.Recorder, uuid.UUID) {
	t.Helper()
	frozen := clock.Frozen{At: now}
	st := memstore.New()
	hasher := cryptosvc.NewPasswordHasher(cryptosvc.DefaultArgonParams())
	auditSvc := audit.NewService(st, frozen, discardLogger())
	notifier := notify.NewRecorder()

	userID := uuid.New()
	passwordHash, err := hasher.Hash(plainPassword)
	require.NoError(t, err)
	st.PutUser(&store.User{ID: userID, Email: "user@example.com", PasswordHash: passwordHash, Status: store.UserActive, CreatedAt: now, UpdatedAt: now})

	svc := passwordreset.NewService(st, st, hasher, auditSvc, notifier, frozen)
	return svc, st, notifier, userID
}

func TestRequest_ReturnsSameMessageRegardlessOfAccountExistence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, notifier, _ := newFixture(t, now)

	known, err := svc.Request(context.Background(), passwordreset.RequestParams{Email: "user@example.com", IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	unknown, err := svc.Request(context.Background(), passwordreset.RequestParams{Email: "nobody@example.com", IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, known, unknown)

	require.Len(t, notifier.Messages(), 1)
	assert.Equal(t, notify.EmailPasswordReset, notifier.Messages()[0].Type)
}

func TestRequestThenReset_RotatesPasswordAndRevokesSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, notifier, userID := newFixture(t, now)

	_, err := svc.Request(context.Background(), passwordreset.RequestParams{Email: "user@example.com", IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	require.Len(t, notifier.Messages(), 1)
	rawToken, _ := notifier.Messages()[0].Payload["token"].(string)
	require.NotEmpty(t, rawToken)

	result := svc.ValidateResetToken(context.Background(), rawToken)
	assert.True(t, result.Valid)

	err = svc.Reset(context.Background(), passwordreset.ResetParams{Token: rawToken, Password: "a brand new password", IPAddress: "1.2.3.4"})
	require.NoError(t, err)

	user, err := st.GetUserByID(context.Background(), userID)
	require.NoError(t, err)
	hasher := cryptosvc.NewPasswordHasher(cryptosvc.DefaultArgonParams())
	ok, err := hasher.Verify(user.PasswordHash, "a brand new password")
	require.NoError(t, err)
	assert.True(t, ok)

	reused := svc.ValidateResetToken(context.Background(), rawToken)
	assert.False(t, reused.Valid)
	assert.Equal(t, "used", reused.Reason)
}

func TestReset_RejectsReuseOfCurrentPassword(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, notifier, _ := newFixture(t, now)

	_, err := svc.Request(context.Background(), passwordreset.RequestParams{Email: "user@example.com", IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	rawToken, _ := notifier.Messages()[0].Payload["token"].(string)

	err = svc.Reset(context.Background(), passwordreset.ResetParams{Token: rawToken, Password: plainPassword, IPAddress: "1.2.3.4"})
	require.Error(t, err)
}

func TestReset_RejectsMalformedToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _, _ := newFixture(t, now)

	err := svc.Reset(context.Background(), passwordreset.ResetParams{Token: "too-short", Password: "a brand new password"})
	require.Error(t, err)
}

func TestChangePassword_RequiresCurrentPasswordAndRejectsSameValue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, _, userID := newFixture(t, now)

	err := svc.ChangePassword(context.Background(), userID, "wrong current password", "a brand new password", "1.2.3.4", "ua")
	require.Error(t, err)

	err = svc.ChangePassword(context.Background(), userID, plainPassword, plainPassword, "1.2.3.4", "ua")
	require.Error(t, err)

	err = svc.ChangePassword(context.Background(), userID, plainPassword, "a brand new password", "1.2.3.4", "ua")
	require.NoError(t, err)
}
