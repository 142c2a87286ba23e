package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore backs user lookups shared by most of the core.
type UserStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, changedAt time.Time) error
}

// SessionStore backs the Session Service (§4.F).
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetSessionByRefreshHash(ctx context.Context, refreshTokenHash string) (*Session, error)
	ListActiveSessionsByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Session, error)
	UpdateSessionRotation(ctx context.Context, id uuid.UUID, refreshTokenHash string, lastActivityAt time.Time, ipAddress string) error
	RevokeSession(ctx context.Context, id uuid.UUID, reason RevokeReason, at time.Time) error
	RevokeSessionsByFamily(ctx context.Context, tokenFamily string, reason RevokeReason, at time.Time) ([]*Session, error)
	RevokeSessionsByUserExcept(ctx context.Context, userID uuid.UUID, exceptID uuid.UUID, reason RevokeReason, at time.Time) (int, error)
	TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateBlacklistedToken(ctx context.Context, t *BlacklistedToken) error
	CreateBlacklistedTokens(ctx context.Context, tokens []*BlacklistedToken) error
	IsTokenBlacklisted(ctx context.Context, tokenHash string) (bool, error)
	DeleteExpiredBlacklistedTokens(ctx context.Context, before time.Time) (int, error)

	GetDeviceByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*UserDevice, error)
	CreateDevice(ctx context.Context, d *UserDevice) error
	UpdateDeviceLastSeen(ctx context.Context, id uuid.UUID, ip string, at time.Time) error

	CreateLoginAttempt(ctx context.Context, a *LoginAttempt) error
}

// MfaStore backs the MFA and Backup Codes Services (§4.G, §4.H).
type MfaStore interface {
	GetMfaConfiguration(ctx context.Context, userID uuid.UUID) (*MfaConfiguration, error)
	UpsertMfaConfiguration(ctx context.Context, c *MfaConfiguration) error
	DeleteMfaConfiguration(ctx context.Context, userID uuid.UUID) error

	CreateMfaChallenge(ctx context.Context, c *MfaChallenge) error
	GetMfaChallengeByToken(ctx context.Context, token string) (*MfaChallenge, error)
	UpdateMfaChallenge(ctx context.Context, c *MfaChallenge) error
	DeleteMfaChallenge(ctx context.Context, id uuid.UUID) error
	DeleteExpiredChallengesForUser(ctx context.Context, userID uuid.UUID, now time.Time) error
	DeleteChallengesForUser(ctx context.Context, userID uuid.UUID) error

	CreateBackupCodes(ctx context.Context, codes []*MfaBackupCode) error
	DeleteBackupCodes(ctx context.Context, userID uuid.UUID) error
	ListUnusedBackupCodes(ctx context.Context, userID uuid.UUID) ([]*MfaBackupCode, error)
	ListUsedBackupCodes(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*MfaBackupCode, int, error)
	MarkBackupCodeUsed(ctx context.Context, id uuid.UUID, ip, ua string, at time.Time) error
	CountUnusedBackupCodes(ctx context.Context, userID uuid.UUID) (int, error)
}

// RBACStore backs the RBAC Service (§4.L).
type RBACStore interface {
	CreateRole(ctx context.Context, r *Role) error
	GetRoleByID(ctx context.Context, id uuid.UUID) (*Role, error)
	GetRoleByName(ctx context.Context, name string, orgID *uuid.UUID) (*Role, error)
	UpdateRole(ctx context.Context, r *Role) error
	CountActiveUserRolesForRole(ctx context.Context, roleID uuid.UUID) (int, error)

	InsertHierarchyRow(ctx context.Context, e RoleHierarchyEntry) error
	HasHierarchyRow(ctx context.Context, ancestor, descendant uuid.UUID) (bool, error)
	GetAncestors(ctx context.Context, roleID uuid.UUID) ([]RoleHierarchyEntry, error)

	ReplaceRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
	GetRolePermissionKeys(ctx context.Context, roleIDs []uuid.UUID) (map[string][]string, error)

	CreateUserRole(ctx context.Context, ur *UserRole) error
	GetActiveUserRole(ctx context.Context, userID, roleID uuid.UUID) (*UserRole, error)
	ListActiveUserRoles(ctx context.Context, userID uuid.UUID, now time.Time) ([]*UserRole, error)
	CountActiveUserRoles(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
	RevokeUserRole(ctx context.Context, id uuid.UUID, revokedBy uuid.UUID, reason string, at time.Time) error
	ListUserIDsWithRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error)

	GetEffectivePermissionsCache(ctx context.Context, userID uuid.UUID) (*EffectivePermissions, error)
	UpsertEffectivePermissionsCache(ctx context.Context, e *EffectivePermissions) error
}

// PermissionStore backs the Permission Service (§4.M).
type PermissionStore interface {
	CreatePermission(ctx context.Context, p *Permission) error
	GetPermissionByID(ctx context.Context, id uuid.UUID) (*Permission, error)
	GetPermissionByResourceAction(ctx context.Context, resource, action string) (*Permission, error)
	UpdatePermission(ctx context.Context, p *Permission) error
	ListPermissions(ctx context.Context, f PermissionFilter) ([]*Permission, int, error)
	IsPermissionReferenced(ctx context.Context, permissionID uuid.UUID) (bool, error)

	GetUserPermission(ctx context.Context, userID, permissionID uuid.UUID) (*UserPermission, error)
	CreateUserPermission(ctx context.Context, up *UserPermission) error
	DeleteUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error
	ListUserPermissions(ctx context.Context, userID uuid.UUID, now time.Time) ([]*UserPermission, error)
}

type PermissionFilter struct {
	Module          string
	Resource        string
	Search          string
	IncludeInactive bool
	Offset          int
	Limit           int
}

// PasswordResetStore backs the Password Reset Service (§4.K).
type PasswordResetStore interface {
	InvalidateActiveResetTokens(ctx context.Context, userID uuid.UUID, at time.Time) error
	CreatePasswordResetToken(ctx context.Context, t *PasswordResetToken) error
	GetPasswordResetTokenByHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error)
	MarkPasswordResetTokenUsed(ctx context.Context, id uuid.UUID, at time.Time) error

	ListPasswordHistory(ctx context.Context, userID uuid.UUID) ([]*PasswordHistoryEntry, error)
	PushPasswordHistory(ctx context.Context, e *PasswordHistoryEntry) error
	TrimPasswordHistory(ctx context.Context, userID uuid.UUID, keep int) error
}

// SecurityStore backs the Security Events Service (§4.N).
type SecurityStore interface {
	CreateAlert(ctx context.Context, a *SecurityAlert) error
	GetAlertByID(ctx context.Context, id uuid.UUID) (*SecurityAlert, error)
	UpdateAlert(ctx context.Context, a *SecurityAlert) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]*SecurityAlert, int, error)
	AlertStats(ctx context.Context, f AlertStatsFilter) (AlertStats, error)
	RecentAlerts(ctx context.Context, limit int) ([]*SecurityAlert, error)
	CountAlertsSince(ctx context.Context, since time.Time) (int, error)
	TopAlertTypes(ctx context.Context, limit int) ([]AlertTypeCount, error)

	CreateSubscription(ctx context.Context, s *NotificationSubscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*NotificationSubscription, error)
	UpdateSubscription(ctx context.Context, s *NotificationSubscription) error
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
	ListSubscriptions(ctx context.Context, userID uuid.UUID, channel *NotificationChannel, isActive *bool) ([]*NotificationSubscription, error)
}

type AlertFilter struct {
	UserID     *uuid.UUID
	Types      []AlertType
	Severities []AlertSeverity
	Statuses   []AlertStatus
	From, To   *time.Time
	IPAddress  string
	SearchTerm string
	Page, Limit int
}

type AlertStatsFilter struct {
	From, To *time.Time
	UserID   *uuid.UUID
	GroupBy  string // "type" | "severity" | ""
}

type AlertStats struct {
	TotalCount          int
	ActiveCount         int
	AcknowledgedCount   int
	ResolvedCount       int
	DismissedCount      int
	CriticalActiveCount int
	HighActiveCount     int
	ByType              []AlertTypeCount
	BySeverity          []AlertSeverityCount
}

type AlertTypeCount struct {
	Type  AlertType
	Count int
}

type AlertSeverityCount struct {
	Severity AlertSeverity
	Count    int
}

// AuditStore backs the Audit Log Sink (§4.A).
type AuditStore interface {
	CreateAuditEvent(ctx context.Context, e *AuditEvent) error
}
