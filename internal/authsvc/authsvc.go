// Package authsvc implements the Auth Service (§4.I): the ten-step
// login pipeline tying together rate limiting, credential verification,
// lockout, MFA branching, device tracking, and token issuance.
package authsvc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/mfa"
	"github.com/lavente-care/aim-core/internal/notify"
	"github.com/lavente-care/aim-core/internal/ratelimit"
	"github.com/lavente-care/aim-core/internal/session"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/token"
)

const (
	minResponseTime    = 200 * time.Millisecond
	emailRateLimit     = 5
	emailRateWindow    = 15 * time.Minute
	ipRateLimit        = 20
	ipRateWindow       = time.Hour
	failureWindow      = 30 * time.Minute
	failureLockLimit   = 10
	lockoutDuration    = 30 * time.Minute
	mfaChallengePrefix = "mfa:challenge:"
	mfaChallengeTTL    = 300 * time.Second
)

type Service struct {
	store    store.UserStore
	devices  deviceStore
	limiter  *ratelimit.Limiter
	cache    cache.Cache
	hasher   *cryptosvc.PasswordHasher
	tokens   *token.Service
	sessions *session.Service
	mfaSvc   *mfa.Service
	alerts   alertCreator
	audit    audit.Sink
	notifier notify.Notifier
	clock    clock.Clock
}

// deviceStore is the narrow slice of SessionStore the login pipeline
// touches directly (device bookkeeping and login-attempt logging).
type deviceStore interface {
	GetDeviceByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*store.UserDevice, error)
	CreateDevice(ctx context.Context, d *store.UserDevice) error
	UpdateDeviceLastSeen(ctx context.Context, id uuid.UUID, ip string, at time.Time) error
	CreateLoginAttempt(ctx context.Context, a *store.LoginAttempt) error
}

// alertCreator is the one SecurityStore capability the login pipeline
// needs directly: raising an ACCOUNT_LOCKED alert on lockout.
type alertCreator interface {
	CreateAlert(ctx context.Context, a *store.SecurityAlert) error
}

func NewService(
	users store.UserStore,
	devices deviceStore,
	limiter *ratelimit.Limiter,
	c cache.Cache,
	hasher *cryptosvc.PasswordHasher,
	tokens *token.Service,
	sessions *session.Service,
	mfaSvc *mfa.Service,
	alerts alertCreator,
	auditSink audit.Sink,
	notifier notify.Notifier,
	clk clock.Clock,
) *Service {
	return &Service{
		store: users, devices: devices, limiter: limiter, cache: c, hasher: hasher,
		tokens: tokens, sessions: sessions, mfaSvc: mfaSvc, alerts: alerts, audit: auditSink, notifier: notifier, clock: clk,
	}
}

// LoginParams is the request shape of §4.I.
type LoginParams struct {
	Email             string
	Password          string
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	CorrelationID     string
	RememberMe        bool
}

// LoginResult covers both the immediate-token and MFA-required outcomes.
type LoginResult struct {
	MFARequired    bool
	MFAChallengeID string
	Tokens         token.Pair
	SessionID      uuid.UUID
}

// invalidCredentialsMessage is returned for both "no such user" and
// "wrong password" so the two are indistinguishable to a caller.
const invalidCredentialsMessage = "invalid email or password"

type mfaPendingLogin struct {
	UserID            uuid.UUID `json:"userId"`
	Email             string    `json:"email"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
	IPAddress         string    `json:"ipAddress"`
	UserAgent         string    `json:"userAgent"`
	RememberMe        bool      `json:"rememberMe"`
}

// Login runs the full ten-step pipeline described in §4.I. The caller
// is responsible for timing the call and padding it up to
// minResponseTime if it returns sooner; MinResponseTime exposes that
// constant for exactly this purpose.
func MinResponseTime() time.Duration { return minResponseTime }

func (s *Service) Login(ctx context.Context, p LoginParams) (LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))

	// Step 1: rate limits.
	emailRes, err := s.limiter.Check(ctx, "login:email", email, emailRateLimit, emailRateWindow)
	if err != nil {
		return LoginResult{}, err
	}
	ipRes, err := s.limiter.Check(ctx, "login:ip", p.IPAddress, ipRateLimit, ipRateWindow)
	if err != nil {
		return LoginResult{}, err
	}
	if !emailRes.Allowed || !ipRes.Allowed {
		s.audit.Log(ctx, audit.EventRateLimitExceeded, audit.Params{
			TargetType: "email", TargetID: email, IPAddress: p.IPAddress, CorrelationID: p.CorrelationID,
		})
		return LoginResult{}, apierr.TooManyRequestsf("too many login attempts")
	}

	// Step 2: user lookup, decoy hash on miss.
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil || user.Status == store.UserDeleted {
		_, _ = s.hasher.Verify(cryptosvc.StableDummyHash, p.Password)
		_ = s.devices.CreateLoginAttempt(ctx, &store.LoginAttempt{
			ID: uuid.New(), Email: email, Status: store.LoginFailedInvalidCreds,
			IPAddress: p.IPAddress, UserAgent: p.UserAgent, CreatedAt: s.clock.Now(),
		})
		return LoginResult{}, apierr.Unauthorizedf(invalidCredentialsMessage)
	}

	// Step 3: account status.
	if user.Status == store.UserSuspended {
		return LoginResult{}, apierr.Forbiddenf("account suspended")
	}
	if user.EmailVerifiedAt == nil {
		return LoginResult{}, apierr.Forbiddenf("account not verified")
	}

	// Step 4: lockout.
	lockedKey := lockedCacheKey(user.ID)
	if _, ok, cacheErr := s.cache.Get(ctx, lockedKey); cacheErr == nil && ok {
		_ = s.devices.CreateLoginAttempt(ctx, &store.LoginAttempt{
			ID: uuid.New(), UserID: &user.ID, Email: email, Status: store.LoginFailedAccountLocked,
			IPAddress: p.IPAddress, UserAgent: p.UserAgent, CreatedAt: s.clock.Now(),
		})
		return LoginResult{}, apierr.Forbiddenf("account temporarily locked")
	}

	// Step 5: password verify.
	ok, err := s.hasher.Verify(user.PasswordHash, p.Password)
	if err != nil {
		return LoginResult{}, apierr.Internal(err)
	}
	if !ok {
		return LoginResult{}, s.handleFailedPassword(ctx, user, email, p)
	}

	// Step 6: clear failure counter.
	_ = s.cache.Delete(ctx, failureCounterKey(user.ID))

	// Step 7: MFA branch.
	mfaStatus, err := s.mfaSvc.GetStatus(ctx, user.ID)
	if err == nil && mfaStatus.IsEnabled {
		challengeID, chErr := s.stashMFAChallenge(ctx, user, email, p)
		if chErr != nil {
			return LoginResult{}, chErr
		}
		s.audit.Log(ctx, audit.EventMFAChallengeSuccess, audit.Params{
			UserID: &user.ID, IPAddress: p.IPAddress, UserAgent: p.UserAgent, CorrelationID: p.CorrelationID,
		})
		return LoginResult{MFARequired: true, MFAChallengeID: challengeID}, nil
	}

	return s.finishLogin(ctx, user, p)
}

func (s *Service) handleFailedPassword(ctx context.Context, user *store.User, email string, p LoginParams) error {
	count, err := s.cache.Incr(ctx, failureCounterKey(user.ID), failureWindow)
	if err != nil {
		return err
	}
	if count >= failureLockLimit {
		_ = s.cache.Set(ctx, lockedCacheKey(user.ID), "1", lockoutDuration)
		_ = s.alerts.CreateAlert(ctx, &store.SecurityAlert{
			ID: uuid.New(), UserID: &user.ID, Type: store.AlertAccountLocked, Severity: store.SeverityHigh,
			Status: store.AlertActive, Title: "Account locked", Description: "account locked after repeated failed login attempts",
			IPAddress: p.IPAddress, CreatedAt: s.clock.Now(),
		})
		s.audit.Log(ctx, audit.EventAccountLocked, audit.Params{UserID: &user.ID, IPAddress: p.IPAddress})
		_ = s.notifier.Enqueue(ctx, notify.Message{
			Type: notify.EmailAccountLocked, Recipient: user.Email,
			Payload: map[string]any{"userId": user.ID.String()},
		})
	}
	s.audit.Log(ctx, audit.EventLoginFailed, audit.Params{
		UserID: &user.ID, IPAddress: p.IPAddress, UserAgent: p.UserAgent, CorrelationID: p.CorrelationID,
	})
	_ = s.devices.CreateLoginAttempt(ctx, &store.LoginAttempt{
		ID: uuid.New(), UserID: &user.ID, Email: email, Status: store.LoginFailedInvalidCreds,
		IPAddress: p.IPAddress, UserAgent: p.UserAgent, CreatedAt: s.clock.Now(),
	})
	return apierr.Unauthorizedf(invalidCredentialsMessage)
}

// stashMFAChallenge creates the actual store-backed MFA challenge via
// mfaSvc.CreateChallenge and stashes the pending login params under
// that same challenge token, so CompleteMFALogin can later demand
// proof the token was actually verified rather than trusting its mere
// possession.
func (s *Service) stashMFAChallenge(ctx context.Context, user *store.User, email string, p LoginParams) (string, error) {
	challengeToken, err := s.mfaSvc.CreateChallenge(ctx, user.ID, p.IPAddress)
	if err != nil {
		return "", err
	}
	pending := mfaPendingLogin{
		UserID: user.ID, Email: email, DeviceFingerprint: p.DeviceFingerprint,
		IPAddress: p.IPAddress, UserAgent: p.UserAgent, RememberMe: p.RememberMe,
	}
	raw, err := marshalPending(pending)
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, mfaChallengePrefix+challengeToken, raw, mfaChallengeTTL); err != nil {
		return "", err
	}
	return challengeToken, nil
}

// finishLogin runs steps 8-10: device tracking, concurrent-session cap,
// and token issuance.
func (s *Service) finishLogin(ctx context.Context, user *store.User, p LoginParams) (LoginResult, error) {
	now := s.clock.Now()

	device, err := s.devices.GetDeviceByFingerprint(ctx, user.ID, p.DeviceFingerprint)
	if err != nil || device == nil {
		newDevice := &store.UserDevice{
			ID: uuid.New(), UserID: user.ID, Fingerprint: p.DeviceFingerprint,
			LastIPAddress: p.IPAddress, LastUsedAt: now,
		}
		if createErr := s.devices.CreateDevice(ctx, newDevice); createErr != nil {
			return LoginResult{}, createErr
		}
		s.audit.Log(ctx, audit.EventNewDeviceLogin, audit.Params{UserID: &user.ID, IPAddress: p.IPAddress, UserAgent: p.UserAgent})
		_ = s.notifier.Enqueue(ctx, notify.Message{
			Type: notify.EmailNewDeviceLogin, Recipient: user.Email,
			Payload: map[string]any{"ipAddress": p.IPAddress, "userAgent": p.UserAgent},
		})
	} else {
		_ = s.devices.UpdateDeviceLastSeen(ctx, device.ID, p.IPAddress, now)
	}

	if err := s.sessions.EnforceConcurrentLimit(ctx, user.ID); err != nil {
		return LoginResult{}, err
	}

	sessionID := uuid.New()
	family := uuid.New().String()
	pair, err := s.tokens.GenerateTokenPair(token.IssueParams{
		UserID: user.ID, SessionID: sessionID, TokenFamily: family, IsRemembered: p.RememberMe,
	})
	if err != nil {
		return LoginResult{}, err
	}

	sess := &store.Session{
		ID: sessionID, UserID: user.ID,
		AccessTokenHash:   token.GetTokenHash(pair.AccessToken),
		RefreshTokenHash:  token.GetTokenHash(pair.RefreshToken),
		TokenFamily:       family,
		DeviceFingerprint: p.DeviceFingerprint,
		UserAgent:         p.UserAgent,
		IPAddress:         p.IPAddress,
		IsRemembered:      p.RememberMe,
		LastActivityAt:    now,
		ExpiresAt:         pair.RefreshTokenExpiresAt,
		CreatedAt:         now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return LoginResult{}, err
	}

	s.audit.Log(ctx, audit.EventLoginSuccess, audit.Params{
		UserID: &user.ID, TargetType: "session", TargetID: sessionID.String(),
		IPAddress: p.IPAddress, UserAgent: p.UserAgent, CorrelationID: p.CorrelationID,
	})
	return LoginResult{Tokens: pair, SessionID: sessionID}, nil
}

func failureCounterKey(userID uuid.UUID) string { return "login:failures:" + userID.String() }
func lockedCacheKey(userID uuid.UUID) string    { return "account:locked:" + userID.String() }
