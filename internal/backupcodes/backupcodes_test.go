package backupcodes_test

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
	"github.com/lavente-care/aim-core/internal/backupcodes"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/store/memstore"
	totpsvc "github.com/lavente-care/aim-core/internal/totp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const plainPassword = "correct horse battery staple"

func newFixture(t *testing.T, now time.Time) (*backupcodes.Service, *memstore.Store, uuid.UUID, string) {
	t.Helper()
	frozen := clock.Frozen{At: now}
	st := memstore.New()
	hasher := cryptosvc.NewPasswordHasher(cryptosvc.DefaultArgonParams())
	masterKey, err := cryptosvc.GenerateMasterKeyHex()
	require.NoError(t, err)
	secrets, err := cryptosvc.NewSecretBox(masterKey)
	require.NoError(t, err)
	totpSvc := totpsvc.NewService("aim-core-test", frozen)
	auditSvc := audit.NewService(st, frozen, discardLogger())

	userID := uuid.New()
	passwordHash, err := hasher.Hash(plainPassword)
	require.NoError(t, err)
	st.PutUser(&store.User{ID: userID, Email: "user@example.com", PasswordHash: passwordHash, Status: store.UserActive, CreatedAt: now, UpdatedAt: now})

	secretKey, err := totpSvc.GenerateSecret("user@example.com")
	require.NoError(t, err)
	encrypted, err := secrets.Encrypt(secretKey.Base32Secret)
	require.NoError(t, err)
	require.NoError(t, st.UpsertMfaConfiguration(context.Background(), &store.MfaConfiguration{UserID: userID, SecretEncrypted: encrypted, IsEnabled: true}))

	codes, err := totpSvc.GenerateBackupCodes(10)
	require.NoError(t, err)
	rows := make([]*store.MfaBackupCode, len(codes))
	for i, code := range codes {
		hash, hashErr := totpsvc.HashBackupCode(hasher, code)
		require.NoError(t, hashErr)
		rows[i] = &store.MfaBackupCode{ID: uuid.New(), UserID: userID, CodeHash: hash, CreatedAt: now}
	}
	require.NoError(t, st.CreateBackupCodes(context.Background(), rows))

	svc := backupcodes.NewService(st, st, totpSvc, secrets, hasher, auditSvc, frozen)
	return svc, st, userID, secretKey.Base32Secret
}

func TestGetStatus_ReportsRemainingCodes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID, _ := newFixture(t, now)

	status, err := svc.GetStatus(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, status.IsEnabled)
	assert.Equal(t, 10, status.RemainingCodes)
	assert.False(t, status.ShouldRegenerate)
}

func TestVerifyDirect_FailsOnUnknownCode(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID, _ := newFixture(t, now)

	_, _, _, err := svc.VerifyDirect(context.Background(), userID, "ZZZZZZZZ", "1.2.3.4", "ua")
	require.Error(t, err)
}

func TestRegenerateCodes_RequiresValidPasswordAndTOTP(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID, secret := newFixture(t, now)

	_, err := svc.RegenerateCodes(context.Background(), userID, "wrong password", "000000")
	require.Error(t, err)

	code, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)
	fresh, err := svc.RegenerateCodes(context.Background(), userID, plainPassword, code)
	require.NoError(t, err)
	assert.Len(t, fresh, 10)
}

func TestExportCodes_ProducesTextAndPDF(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID, secret := newFixture(t, now)
	code, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)

	textExport, err := svc.ExportCodes(context.Background(), userID, plainPassword, code, "text")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", textExport.MimeType)
	assert.NotEmpty(t, textExport.Payload)

	code2, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)
	pdfExport, err := svc.ExportCodes(context.Background(), userID, plainPassword, code2, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfExport.MimeType)
	assert.Contains(t, string(pdfExport.Payload), "%PDF")
}

func TestListUsedCodes_Paginates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st, userID, _ := newFixture(t, now)

	unused, err := st.ListUnusedBackupCodes(context.Background(), userID)
	require.NoError(t, err)
	require.NoError(t, st.MarkBackupCodeUsed(context.Background(), unused[0].ID, "1.2.3.4", "ua", now))

	page, err := svc.ListUsedCodes(context.Background(), userID, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Len(t, page.Entries, 1)
	assert.False(t, page.HasNext)
	assert.False(t, page.HasPrevious)
}
