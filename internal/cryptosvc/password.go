// Package cryptosvc implements the Crypto Service: password hashing,
// symmetric secret encryption, and random generation. It is the one
// place in the module allowed to touch raw key material.
package cryptosvc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ArgonParams controls the Argon2id cost. Defaults satisfy the module's
// minimum memory/iteration/parallelism floor; NewPasswordHasher raises
// any weaker value to that floor (64 MiB, t=3, p=4).
type ArgonParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

func DefaultArgonParams() ArgonParams {
	return ArgonParams{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLen:     16,
		KeyLen:      32,
	}
}

// PasswordHasher hashes and verifies passwords with Argon2id.
type PasswordHasher struct {
	params ArgonParams
}

func NewPasswordHasher(params ArgonParams) *PasswordHasher {
	if params.MemoryKiB < 64*1024 {
		params.MemoryKiB = 64 * 1024
	}
	if params.Iterations < 3 {
		params.Iterations = 3
	}
	if params.Parallelism < 4 {
		params.Parallelism = 4
	}
	if params.SaltLen == 0 {
		params.SaltLen = 16
	}
	if params.KeyLen == 0 {
		params.KeyLen = 32
	}
	return &PasswordHasher{params: params}
}

// encoded format: argon2id$v=19$m=<kib>,t=<iter>,p=<par>$<salt-b64>$<hash-b64>
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(sum)
	return fmt.Sprintf("argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		h.params.MemoryKiB, h.params.Iterations, h.params.Parallelism, b64Salt, b64Hash), nil
}

// Verify reports whether password matches the encoded hash, constant
// time relative to the candidate's derived output.
func (h *PasswordHasher) Verify(encodedHash, password string) (bool, error) {
	params, salt, expected, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(candidate, expected) == 1, nil
}

func decodeHash(encoded string) (ArgonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return ArgonParams{}, nil, nil, errors.New("cryptosvc: malformed password hash")
	}
	var params ArgonParams
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Iterations, &params.Parallelism); err != nil {
		return ArgonParams{}, nil, nil, fmt.Errorf("cryptosvc: malformed password hash params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return ArgonParams{}, nil, nil, fmt.Errorf("cryptosvc: malformed salt: %w", err)
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ArgonParams{}, nil, nil, fmt.Errorf("cryptosvc: malformed digest: %w", err)
	}
	return params, salt, sum, nil
}

// StableDummyHash is a fixed, well-formed Argon2id hash string (all-zero
// salt and digest, default cost parameters) used to perform a decoy
// verification when no user matches a login attempt, so wall time is
// identical to the real-user path.
const StableDummyHash = "argon2id$v=19$m=65536,t=3,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("cryptosvc: random bytes: %w", err)
	}
	return b, nil
}

func RandomHex(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
