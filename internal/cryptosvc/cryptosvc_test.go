package cryptosvc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	h := NewPasswordHasher(DefaultArgonParams())

	hash, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "argon2id$v=19$m=65536,t=3,p=4$"))

	ok, err := h.Verify(hash, "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(hash, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHasher_RaisesBelowFloorParams(t *testing.T) {
	h := NewPasswordHasher(ArgonParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1})
	hash, err := h.Hash("x")
	require.NoError(t, err)
	assert.Contains(t, hash, "m=65536,t=3,p=4")
}

func TestSecretBox_RoundTrip(t *testing.T) {
	key, err := GenerateMasterKeyHex()
	require.NoError(t, err)

	box, err := NewSecretBox(key)
	require.NoError(t, err)

	encoded, err := box.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(encoded, ":")))

	plain, err := box.Decrypt(encoded)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", plain)
}

func TestSecretBox_RejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateMasterKeyHex()
	require.NoError(t, err)
	box, err := NewSecretBox(key)
	require.NoError(t, err)

	encoded, err := box.Encrypt("secret-value")
	require.NoError(t, err)

	parts := strings.Split(encoded, ":")
	// flip a hex char in the ciphertext segment
	tampered := parts[0] + ":" + parts[1] + ":" + "00" + parts[2][2:]

	_, err = box.Decrypt(tampered)
	assert.Error(t, err)
}

func TestRandomHex_Length(t *testing.T) {
	s, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, s, 32)
}
