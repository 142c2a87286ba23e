// Package store defines the entities and persistence interfaces every
// service depends on. Concrete adapters live in subpackages (postgres,
// memstore); the services themselves only ever see these interfaces.
package store

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserPendingVerification UserStatus = "PENDING_VERIFICATION"
	UserActive              UserStatus = "ACTIVE"
	UserSuspended           UserStatus = "SUSPENDED"
	UserDeleted             UserStatus = "DELETED"
)

type User struct {
	ID               uuid.UUID
	Email            string
	PasswordHash     string
	Status           UserStatus
	EmailVerifiedAt  *time.Time
	PasswordChangedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type RevokeReason string

const (
	ReasonUserLogout            RevokeReason = "USER_LOGOUT"
	ReasonTokenRotated          RevokeReason = "TOKEN_ROTATED"
	ReasonSessionRevoked        RevokeReason = "SESSION_REVOKED"
	ReasonAdminForceLogout      RevokeReason = "ADMIN_FORCE_LOGOUT"
	ReasonTokenReuseDetected    RevokeReason = "TOKEN_REUSE_DETECTED"
	ReasonLogoutAllDevices      RevokeReason = "LOGOUT_ALL_DEVICES"
	ReasonPasswordReset         RevokeReason = "PASSWORD_RESET"
	ReasonInactivityTimeout     RevokeReason = "INACTIVITY_TIMEOUT"
	ReasonConcurrentLimit       RevokeReason = "CONCURRENT_LIMIT_ENFORCED"
)

type Session struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	AccessTokenHash    string
	RefreshTokenHash   string
	TokenFamily        string
	DeviceFingerprint  string
	UserAgent          string
	IPAddress          string
	GeoCity            string
	GeoCountry         string
	IsRemembered       bool
	LastActivityAt     time.Time
	ExpiresAt          time.Time
	RevokedAt          *time.Time
	RevokeReason       RevokeReason
	CreatedAt          time.Time
}

func (s Session) IsUsable(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

type BlacklistedToken struct {
	TokenHash string
	ExpiresAt time.Time
	Reason    RevokeReason
}

type UserDevice struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Fingerprint     string
	Name            string
	BrowserName     string
	OSName          string
	LastIPAddress   string
	LastUsedAt      time.Time
	IsTrusted       bool
}

type LoginAttemptStatus string

const (
	LoginSuccess                LoginAttemptStatus = "success"
	LoginFailedInvalidCreds     LoginAttemptStatus = "failed_invalid_credentials"
	LoginFailedAccountLocked    LoginAttemptStatus = "failed_account_locked"
	LoginFailedMFA              LoginAttemptStatus = "failed_mfa"
	LoginFailedRateLimited      LoginAttemptStatus = "failed_rate_limited"
)

type LoginAttempt struct {
	ID        uuid.UUID
	UserID    *uuid.UUID
	Email     string
	Status    LoginAttemptStatus
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

type MfaConfiguration struct {
	UserID          uuid.UUID
	SecretEncrypted string
	IsEnabled       bool
	VerifiedAt      *time.Time
	LastUsedAt      *time.Time
	FailedAttempts  int
	LockedUntil     *time.Time
}

type MfaChallengeType string

const MfaChallengeTOTP MfaChallengeType = "totp"

type MfaChallenge struct {
	ID              uuid.UUID
	ChallengeToken  string
	UserID          uuid.UUID
	Type            MfaChallengeType
	Attempts        int
	MaxAttempts     int
	ExpiresAt       time.Time
	CompletedAt     *time.Time
	IPAddress       string
}

func (c MfaChallenge) IsUsable(now time.Time) bool {
	return c.CompletedAt == nil && c.Attempts < c.MaxAttempts && now.Before(c.ExpiresAt)
}

type MfaBackupCode struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	CodeHash        string
	UsedAt          *time.Time
	UsedIPAddress   string
	UsedUserAgent   string
	CreatedAt       time.Time
}

type Role struct {
	ID             uuid.UUID
	Name           string
	DisplayName    string
	Description    string
	IsSystem       bool
	IsActive       bool
	ParentRoleID   *uuid.UUID
	OrganizationID *uuid.UUID
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RoleHierarchyEntry struct {
	AncestorRoleID   uuid.UUID
	DescendantRoleID uuid.UUID
	Depth            int
}

type UserRole struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	RoleID         uuid.UUID
	OrganizationID *uuid.UUID
	GrantedAt      time.Time
	GrantedBy      uuid.UUID
	ExpiresAt      *time.Time
	RevokedAt      *time.Time
	RevokedBy      *uuid.UUID
	Reason         string
}

func (u UserRole) IsActive(now time.Time) bool {
	if u.RevokedAt != nil {
		return false
	}
	return u.ExpiresAt == nil || now.Before(*u.ExpiresAt)
}

// ConditionType enumerates the known permission-condition vocabulary.
// Any type not in this set is treated as deny-by-default per §9.
type ConditionType string

const ConditionOwnOrganization ConditionType = "own_organization"

type Condition struct {
	Type  ConditionType
	Value map[string]any
}

type Permission struct {
	ID          uuid.UUID
	Resource    string
	Action      string
	DisplayName string
	Description string
	Module      string
	Conditions  []Condition
	IsActive    bool
	CreatedAt   time.Time
}

func (p Permission) Key() string {
	return p.Resource + ":" + p.Action
}

type UserPermission struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	PermissionID uuid.UUID
	IsGranted  bool
	Conditions []Condition
	Reason     string
	ExpiresAt  *time.Time
	GrantedBy  uuid.UUID
	CreatedAt  time.Time
}

func (u UserPermission) IsActive(now time.Time) bool {
	return u.ExpiresAt == nil || now.Before(*u.ExpiresAt)
}

type EffectivePermissions struct {
	UserID          uuid.UUID
	Roles           []string
	PermissionKeys  map[string]bool
	ComputedAt      time.Time
}

type PasswordResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	IPAddress string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

type PasswordHistoryEntry struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	PasswordHash string
	CreatedAt    time.Time
}

type AlertType string

const (
	AlertBruteForceDetected      AlertType = "BRUTE_FORCE_DETECTED"
	AlertAccountLocked           AlertType = "ACCOUNT_LOCKED"
	AlertNewDeviceLogin          AlertType = "NEW_DEVICE_LOGIN"
	AlertMFADisabled             AlertType = "MFA_DISABLED"
	AlertSuspiciousLoginLocation AlertType = "SUSPICIOUS_LOGIN_LOCATION"
	AlertTokenReuseDetected      AlertType = "TOKEN_REUSE_DETECTED"
)

type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertDismissed    AlertStatus = "dismissed"
)

type SecurityAlert struct {
	ID          uuid.UUID
	UserID      *uuid.UUID
	Type        AlertType
	Severity    AlertSeverity
	Status      AlertStatus
	Title       string
	Description string
	Metadata    map[string]any
	IPAddress   string
	ResolvedAt  *time.Time
	ResolvedBy  *uuid.UUID
	CreatedAt   time.Time
}

type NotificationChannel string

const (
	ChannelEmail   NotificationChannel = "email"
	ChannelSMS     NotificationChannel = "sms"
	ChannelWebhook NotificationChannel = "webhook"
	ChannelInApp   NotificationChannel = "in_app"
)

type NotificationSubscription struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Channel    NotificationChannel
	Endpoint   string
	EventTypes []string
	Severities []AlertSeverity
	IsActive   bool
}

type AuditEvent struct {
	ID            uuid.UUID
	EventType     string
	UserID        *uuid.UUID
	ActorID       *uuid.UUID
	TargetType    string
	TargetID      string
	IPAddress     string
	UserAgent     string
	CorrelationID string
	Metadata      map[string]any
	CreatedAt     time.Time
}
