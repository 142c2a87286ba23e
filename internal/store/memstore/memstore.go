// Package memstore is an in-process implementation of store.Store backing
// unit tests for the service layer, mirroring how cache/memcache stands in
// for Redis.
package memstore

import (
	"context"
	"sync"

	"github.com/lavente-care/aim-core/internal/store"
)

type Store struct {
	mu sync.Mutex

	users               map[string]*store.User
	sessions            map[string]*store.Session
	blacklist           map[string]*store.BlacklistedToken
	devices             map[string]*store.UserDevice
	loginAttempts       []*store.LoginAttempt
	mfaConfigs          map[string]*store.MfaConfiguration
	mfaChallenges       map[string]*store.MfaChallenge
	backupCodes         map[string]*store.MfaBackupCode
	roles               map[string]*store.Role
	roleHierarchy       []store.RoleHierarchyEntry
	rolePermissions     map[string][]string
	userRoles           map[string]*store.UserRole
	effectivePerms      map[string]*store.EffectivePermissions
	permissions         map[string]*store.Permission
	userPermissions     map[string]*store.UserPermission
	resetTokens         map[string]*store.PasswordResetToken
	passwordHistory     map[string][]*store.PasswordHistoryEntry
	alerts              map[string]*store.SecurityAlert
	subscriptions       map[string]*store.NotificationSubscription
	auditEvents         []*store.AuditEvent
}

func New() *Store {
	return &Store{
		users:           map[string]*store.User{},
		sessions:        map[string]*store.Session{},
		blacklist:       map[string]*store.BlacklistedToken{},
		devices:         map[string]*store.UserDevice{},
		mfaConfigs:      map[string]*store.MfaConfiguration{},
		mfaChallenges:   map[string]*store.MfaChallenge{},
		backupCodes:     map[string]*store.MfaBackupCode{},
		roles:           map[string]*store.Role{},
		rolePermissions: map[string][]string{},
		userRoles:       map[string]*store.UserRole{},
		effectivePerms:  map[string]*store.EffectivePermissions{},
		permissions:     map[string]*store.Permission{},
		userPermissions: map[string]*store.UserPermission{},
		resetTokens:     map[string]*store.PasswordResetToken{},
		passwordHistory: map[string][]*store.PasswordHistoryEntry{},
		alerts:          map[string]*store.SecurityAlert{},
		subscriptions:   map[string]*store.NotificationSubscription{},
	}
}

type txKey struct{}

// WithinTx runs fn directly; memstore has no isolation to offer but
// honors the nesting contract so service code doesn't need a test-only path.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	return fn(context.WithValue(ctx, txKey{}, true))
}

var _ store.Store = (*Store)(nil)
