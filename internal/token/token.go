// Package token implements the Token Service: RS256 access/refresh
// token issuance and verification, plus JWKS publication.
package token

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/clock"
)

// clockSkew absorbs small drift between signer and verifier clocks.
const clockSkew = 1 * time.Minute

// Pair is the result of issuing a fresh access+refresh token pair.
type Pair struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
}

// IssueParams describes the session a token pair is being minted for.
type IssueParams struct {
	UserID       uuid.UUID
	SessionID    uuid.UUID
	Roles        []string
	OrgID        *uuid.UUID
	TokenFamily  string
	IsRemembered bool
}

// Claims covers both access and refresh tokens; refresh tokens leave
// Roles empty and carry TokenFamily, access tokens do the reverse.
type Claims struct {
	jwt.RegisteredClaims
	SessionID   uuid.UUID `json:"sessionId"`
	Roles       []string  `json:"roles,omitempty"`
	OrgID       *uuid.UUID `json:"orgId,omitempty"`
	TokenFamily string    `json:"tokenFamily,omitempty"`
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Service issues and verifies RS256 token pairs.
type Service struct {
	privateKey  *rsa.PrivateKey
	publicKey   *rsa.PublicKey
	kid         string
	issuer      string
	audience    string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	rememberTTL time.Duration
	clock       clock.Clock
}

type Config struct {
	Issuer      string
	Audience    string
	KeyID       string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	RememberTTL time.Duration
}

func NewService(privateKey *rsa.PrivateKey, cfg Config, clk clock.Clock) *Service {
	if cfg.KeyID == "" {
		cfg.KeyID = "sig-1"
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.RememberTTL == 0 {
		cfg.RememberTTL = 30 * 24 * time.Hour
	}
	return &Service{
		privateKey:  privateKey,
		publicKey:   &privateKey.PublicKey,
		kid:         cfg.KeyID,
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		rememberTTL: cfg.RememberTTL,
		clock:       clk,
	}
}

// GenerateTokenPair mints a fresh access token and refresh token that
// share sessionId; the refresh token additionally carries tokenFamily.
func (s *Service) GenerateTokenPair(p IssueParams) (Pair, error) {
	now := s.clock.Now()

	refreshTTL := s.refreshTTL
	if p.IsRemembered {
		refreshTTL = s.rememberTTL
	}

	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(refreshTTL)

	access, err := s.sign(Claims{
		RegisteredClaims: s.registered(p.UserID, now, accessExp),
		SessionID:        p.SessionID,
		Roles:            p.Roles,
		OrgID:            p.OrgID,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("token: sign access: %w", err)
	}

	refresh, err := s.sign(Claims{
		RegisteredClaims: s.registered(p.UserID, now, refreshExp),
		SessionID:        p.SessionID,
		TokenFamily:      p.TokenFamily,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("token: sign refresh: %w", err)
	}

	return Pair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

func (s *Service) registered(userID uuid.UUID, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now.Add(-clockSkew)),
		NotBefore: jwt.NewNumericDate(now.Add(-clockSkew)),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (s *Service) sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.privateKey)
}

// VerifyAccessToken parses and validates an access token, returning its claims.
func (s *Service) VerifyAccessToken(raw string) (*Claims, error) {
	return s.verify(raw)
}

// VerifyRefreshToken parses and validates a refresh token, returning its claims.
func (s *Service) VerifyRefreshToken(raw string) (*Claims, error) {
	return s.verify(raw)
}

func (s *Service) verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.publicKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience), jwt.WithLeeway(clockSkew))
	if err != nil {
		return nil, apierr.Wrap(apierr.Unauthorized, "invalid token", err)
	}
	return claims, nil
}

// GetTokenHash returns a deterministic, non-reversible fingerprint used
// as the blacklist key and for session storage; raw tokens are never
// persisted.
func GetTokenHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GetJWKS exposes the public signing key in JWK Set form.
func (s *Service) GetJWKS() JWKS {
	n := base64.RawURLEncoding.EncodeToString(s.publicKey.N.Bytes())
	eBytes := big2bytes(s.publicKey.E)
	e := base64.RawURLEncoding.EncodeToString(eBytes)

	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Kid: s.kid,
		Alg: "RS256",
		N:   n,
		E:   e,
	}}}
}

func big2bytes(e int) []byte {
	if e == 0 {
		return []byte{0}
	}
	var b []byte
	for e > 0 {
		b = append([]byte{byte(e & 0xff)}, b...)
		e >>= 8
	}
	return b
}
