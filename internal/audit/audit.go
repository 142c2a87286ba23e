// Package audit implements the single-operation audit log sink (§4.A):
// append an immutable record, never let a failure interrupt the caller.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/store"
)

type EventType string

const (
	EventLoginSuccess                    EventType = "LOGIN_SUCCESS"
	EventLoginFailed                     EventType = "LOGIN_FAILED"
	EventMFAChallengeSuccess             EventType = "MFA_CHALLENGE_SUCCESS"
	EventMFASetupInitiated               EventType = "MFA_SETUP_INITIATED"
	EventMFAEnabled                      EventType = "MFA_ENABLED"
	EventMFADisabled                     EventType = "MFA_DISABLED"
	EventMFAVerified                     EventType = "MFA_VERIFIED"
	EventMFAVerificationFailed           EventType = "MFA_VERIFICATION_FAILED"
	EventMFABackupCodeUsed               EventType = "MFA_BACKUP_CODE_USED"
	EventMFABackupCodesRegenerated       EventType = "MFA_BACKUP_CODES_REGENERATED"
	EventBackupCodesExported             EventType = "BACKUP_CODES_EXPORTED"
	EventAccountLocked                   EventType = "ACCOUNT_LOCKED"
	EventNewDeviceLogin                  EventType = "NEW_DEVICE_LOGIN"
	EventRateLimitExceeded               EventType = "RATE_LIMIT_EXCEEDED"
	EventTokenRefreshed                  EventType = "TOKEN_REFRESHED"
	EventSessionRevoked                  EventType = "SESSION_REVOKED"
	EventAllSessionsRevoked              EventType = "ALL_SESSIONS_REVOKED"
	EventConcurrentLimitEnforced         EventType = "CONCURRENT_LIMIT_ENFORCED"
	EventUserLogout                      EventType = "USER_LOGOUT"
	EventLogoutAllDevices                EventType = "LOGOUT_ALL_DEVICES"
	EventAdminForceLogout                EventType = "ADMIN_FORCE_LOGOUT"
	EventPasswordResetRequested          EventType = "PASSWORD_RESET_REQUESTED"
	EventPasswordResetCompleted          EventType = "PASSWORD_RESET_COMPLETED"
	EventRoleCreated                     EventType = "ROLE_CREATED"
	EventRoleUpdated                     EventType = "ROLE_UPDATED"
	EventRoleDeleted                     EventType = "ROLE_DELETED"
	EventRolePermissionsUpdated          EventType = "ROLE_PERMISSIONS_UPDATED"
	EventRoleAssigned                    EventType = "ROLE_ASSIGNED"
	EventRoleRevoked                     EventType = "ROLE_REVOKED"
	EventPermissionCreated               EventType = "PERMISSION_CREATED"
	EventPermissionUpdated               EventType = "PERMISSION_UPDATED"
	EventUserPermissionAssigned          EventType = "USER_PERMISSION_ASSIGNED"
	EventUserPermissionRevoked           EventType = "USER_PERMISSION_REVOKED"
	EventBulkPermissionsAssigned         EventType = "BULK_PERMISSIONS_ASSIGNED"
	EventSecurityAlertCreated            EventType = "SECURITY_ALERT_CREATED"
	EventSecurityAlertAcknowledged       EventType = "SECURITY_ALERT_ACKNOWLEDGED"
	EventSecurityAlertResolved           EventType = "SECURITY_ALERT_RESOLVED"
	EventSecurityAlertDismissed          EventType = "SECURITY_ALERT_DISMISSED"
	EventNotificationSubscriptionCreated EventType = "NOTIFICATION_SUBSCRIPTION_CREATED"
	EventNotificationSubscriptionDeleted EventType = "NOTIFICATION_SUBSCRIPTION_DELETED"
)

// Params describes one audit record. UserID is the subject the event is
// about; ActorID is who performed it (they differ for admin actions).
type Params struct {
	UserID        *uuid.UUID
	ActorID       *uuid.UUID
	TargetType    string
	TargetID      string
	IPAddress     string
	UserAgent     string
	CorrelationID string
	Metadata      map[string]any
}

// Sink is the single operation the rest of the core depends on.
type Sink interface {
	Log(ctx context.Context, event EventType, p Params)
}

type Service struct {
	store  store.AuditStore
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(st store.AuditStore, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{store: st, clock: clk, logger: logger}
}

// Log appends an immutable record. It never returns an error: persistence
// failures are logged at error level and swallowed so a broken audit sink
// cannot take down a login, a rotation, or any other business operation.
func (s *Service) Log(ctx context.Context, event EventType, p Params) {
	rec := &store.AuditEvent{
		ID:            uuid.New(),
		EventType:     string(event),
		UserID:        p.UserID,
		ActorID:       p.ActorID,
		TargetType:    p.TargetType,
		TargetID:      p.TargetID,
		IPAddress:     p.IPAddress,
		UserAgent:     p.UserAgent,
		CorrelationID: p.CorrelationID,
		Metadata:      p.Metadata,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.store.CreateAuditEvent(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "audit_write_failed",
			slog.String("event_type", string(event)),
			slog.String("correlation_id", p.CorrelationID),
			slog.Any("error", err),
		)
	}
}

var _ Sink = (*Service)(nil)
