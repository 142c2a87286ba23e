package token

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/aim-core/internal/clock"
)

func testService(t *testing.T) *Service {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewService(key, Config{Issuer: "https://aim.test", Audience: "aim-core"}, clock.Real{})
}

func TestGenerateTokenPair_RoundTrip(t *testing.T) {
	svc := testService(t)
	userID := uuid.New()
	sessionID := uuid.New()

	pair, err := svc.GenerateTokenPair(IssueParams{
		UserID:      userID,
		SessionID:   sessionID,
		Roles:       []string{"ADMIN"},
		TokenFamily: "fam-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	accessClaims, err := svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), accessClaims.Subject)
	assert.Equal(t, sessionID, accessClaims.SessionID)
	assert.Equal(t, []string{"ADMIN"}, accessClaims.Roles)

	refreshClaims, err := svc.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "fam-1", refreshClaims.TokenFamily)
	assert.Equal(t, sessionID, refreshClaims.SessionID)
}

func TestGenerateTokenPair_RememberedExtendsRefreshTTL(t *testing.T) {
	svc := testService(t)
	normal, err := svc.GenerateTokenPair(IssueParams{UserID: uuid.New(), SessionID: uuid.New(), TokenFamily: "f"})
	require.NoError(t, err)

	remembered, err := svc.GenerateTokenPair(IssueParams{UserID: uuid.New(), SessionID: uuid.New(), TokenFamily: "f", IsRemembered: true})
	require.NoError(t, err)

	assert.True(t, remembered.RefreshTokenExpiresAt.After(normal.RefreshTokenExpiresAt))
}

func TestVerifyAccessToken_RejectsTamperedSignature(t *testing.T) {
	svc := testService(t)
	pair, err := svc.GenerateTokenPair(IssueParams{UserID: uuid.New(), SessionID: uuid.New(), TokenFamily: "f"})
	require.NoError(t, err)

	// The last base64url character of a 2048-bit signature carries only
	// two bits, so pick a replacement that always changes them.
	replacement := "A"
	if pair.AccessToken[len(pair.AccessToken)-1] == 'A' {
		replacement = "Q"
	}
	tampered := pair.AccessToken[:len(pair.AccessToken)-1] + replacement
	_, err = svc.VerifyAccessToken(tampered)
	assert.Error(t, err)
}

func TestGetTokenHash_Deterministic(t *testing.T) {
	h1 := GetTokenHash("some-raw-token")
	h2 := GetTokenHash("some-raw-token")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, GetTokenHash("other-token"))
}

func TestGetJWKS_ExposesPublicKey(t *testing.T) {
	svc := testService(t)
	jwks := svc.GetJWKS()
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "RSA", jwks.Keys[0].Kty)
	assert.Equal(t, "sig-1", jwks.Keys[0].Kid)
	assert.NotEmpty(t, jwks.Keys[0].N)
}
