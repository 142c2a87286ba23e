package totp

import (
	"testing"
	"time"

	realtotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
)

func TestGenerateSecret_ProducesValidOtpauthURL(t *testing.T) {
	svc := NewService("LaventeCare", clock.Real{})
	secret, err := svc.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, secret.OtpauthURL, "otpauth://totp/")
	assert.Contains(t, secret.OtpauthURL, "alice@example.com")
	assert.Contains(t, secret.QRCodeDataURL, "data:image/png;base64,")
}

func TestVerifyToken_AcceptsCurrentCode(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService("LaventeCare", clock.Frozen{At: now})

	secret, err := svc.GenerateSecret("bob@example.com")
	require.NoError(t, err)

	code, err := realtotp.GenerateCode(secret.Base32Secret, now)
	require.NoError(t, err)

	assert.True(t, svc.VerifyToken(secret.Base32Secret, code))
	assert.False(t, svc.VerifyToken(secret.Base32Secret, "000000"))
}

func TestVerifyToken_RejectsMalformedCode(t *testing.T) {
	svc := NewService("LaventeCare", clock.Real{})
	assert.False(t, svc.VerifyToken("ANYSECRET", "12345"))
	assert.False(t, svc.VerifyToken("ANYSECRET", "abcdef"))
}

func TestGenerateBackupCodes_UniqueAndFormatted(t *testing.T) {
	svc := NewService("LaventeCare", clock.Real{})
	codes, err := svc.GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.Len(t, c, 8)
		seen[c] = true
	}
	assert.Len(t, seen, 10)
}

func TestHashAndVerifyBackupCode_CaseInsensitive(t *testing.T) {
	hasher := cryptosvc.NewPasswordHasher(cryptosvc.DefaultArgonParams())
	hash, err := HashBackupCode(hasher, "abcd1234")
	require.NoError(t, err)

	ok, err := VerifyBackupCode(hasher, hash, "ABCD1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyBackupCode(hasher, hash, "wrongcode")
	require.NoError(t, err)
	assert.False(t, ok)
}
