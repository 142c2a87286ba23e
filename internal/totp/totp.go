// Package totp implements the TOTP Service: secret lifecycle, RFC 6238
// verification, and backup-code generation/hashing.
package totp

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
)

// Secret is the result of initiating MFA setup.
type Secret struct {
	Base32Secret string
	OtpauthURL   string
	QRCodeDataURL string
}

// Service wraps pquerna/otp with the issuer baked in.
type Service struct {
	issuer string
	clock  clock.Clock
}

func NewService(issuer string, clk clock.Clock) *Service {
	return &Service{issuer: issuer, clock: clk}
}

// GenerateSecret creates a fresh 160-bit base32 secret bound to email.
func (s *Service) GenerateSecret(email string) (Secret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: email,
		SecretSize:  20, // 160 bits
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		Period:      30,
	})
	if err != nil {
		return Secret{}, fmt.Errorf("totp: generate secret: %w", err)
	}

	img, err := key.Image(256, 256)
	if err != nil {
		return Secret{}, fmt.Errorf("totp: render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Secret{}, fmt.Errorf("totp: encode qr png: %w", err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	return Secret{
		Base32Secret:  key.Secret(),
		OtpauthURL:    key.URL(),
		QRCodeDataURL: dataURL,
	}, nil
}

// VerifyToken validates a 6-digit code against secret with a ±1 step
// (30s) window, per RFC 6238.
func (s *Service) VerifyToken(secret, code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	ok, err := totp.ValidateCustom(code, secret, s.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

// backupCodeAlphabet excludes visually ambiguous characters (I, O, 0, 1).
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateBackupCodes returns n fresh 8-character uppercase codes.
func (s *Service) GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, n)
	for i := range codes {
		code, err := randomCode(8)
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

func randomCode(length int) (string, error) {
	b := make([]byte, length)
	idx := make([]byte, length)
	if _, err := rand.Read(idx); err != nil {
		return "", fmt.Errorf("totp: random backup code: %w", err)
	}
	for i, v := range idx {
		b[i] = backupCodeAlphabet[int(v)%len(backupCodeAlphabet)]
	}
	return string(b), nil
}

// HashBackupCode and VerifyBackupCode delegate to Argon2id so backup
// codes are never stored or compared in plaintext.
func HashBackupCode(hasher *cryptosvc.PasswordHasher, code string) (string, error) {
	return hasher.Hash(normalizeCode(code))
}

func VerifyBackupCode(hasher *cryptosvc.PasswordHasher, hash, candidate string) (bool, error) {
	return hasher.Verify(hash, normalizeCode(candidate))
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
