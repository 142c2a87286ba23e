package cryptosvc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretBox encrypts and decrypts small secrets (TOTP seeds) using
// AES-256-GCM. The encoded form is "iv:authTag:ciphertext", each
// segment hex, so it is safe to store as a single text column without
// any further escaping.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox builds a box from a 32-byte (64 hex char) master key.
func NewSecretBox(masterKeyHex string) (*SecretBox, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("cryptosvc: master key must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptosvc: master key must decode to 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptosvc: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptosvc: new gcm: %w", err)
	}
	return &SecretBox{aead: gcm}, nil
}

// Encrypt returns "iv:authTag:ciphertext" — GCM's combined seal output
// is split back into tag and ciphertext so the wire format matches the
// three-part contract exactly; a 96-bit iv and a 128-bit tag.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("cryptosvc: generate iv: %w", err)
	}
	sealed := b.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagSize := b.aead.Overhead()
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

func (b *SecretBox) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("cryptosvc: malformed secret (expected iv:authTag:ciphertext)")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("cryptosvc: malformed iv: %w", err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("cryptosvc: malformed auth tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("cryptosvc: malformed ciphertext: %w", err)
	}
	if len(iv) != b.aead.NonceSize() {
		return "", fmt.Errorf("cryptosvc: invalid iv length %d", len(iv))
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := b.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("cryptosvc: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// GenerateMasterKeyHex returns a fresh random 32-byte key, hex-encoded,
// in the form NewSecretBox and AES_MASTER_KEY expect.
func GenerateMasterKeyHex() (string, error) {
	return RandomHex(32)
}
