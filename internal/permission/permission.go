// Package permission implements the Permission Service (§4.M):
// permission CRUD, paginated listing, direct user grants/revokes, bulk
// assignment, and conditional-permission evaluation.
package permission

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/store"
)

var (
	resourcePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	actionPattern   = regexp.MustCompile(`^([a-z][a-z0-9_]*|\*)$`)
)

// Store is the narrow persistence surface this service needs: the full
// PermissionStore plus the transaction runner and the three RBACStore
// calls this service makes.
type Store interface {
	store.PermissionStore
	store.TxRunner
	ReplaceRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
	GetRolePermissionKeys(ctx context.Context, roleIDs []uuid.UUID) (map[string][]string, error)
	ListUserIDsWithRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error)
}

type Service struct {
	store Store
	cache cache.Cache
	audit audit.Sink
	clock clock.Clock
}

func NewService(st Store, c cache.Cache, auditSink audit.Sink, clk clock.Clock) *Service {
	return &Service{store: st, cache: c, audit: auditSink, clock: clk}
}

func effPermCacheKey(userID uuid.UUID) string { return "user:effperm:" + userID.String() }

// CreateParams is the request shape of permission creation.
type CreateParams struct {
	Resource    string
	Action      string
	DisplayName string
	Description string
	Module      string
}

func (s *Service) Create(ctx context.Context, p CreateParams, actorID uuid.UUID) (*store.Permission, error) {
	if !resourcePattern.MatchString(p.Resource) {
		return nil, apierr.BadRequestf("resource must match ^[a-z][a-z0-9_]*$")
	}
	if !actionPattern.MatchString(p.Action) {
		return nil, apierr.BadRequestf("action must match ^[a-z][a-z0-9_]*$ or be *")
	}
	if _, err := s.store.GetPermissionByResourceAction(ctx, p.Resource, p.Action); err == nil {
		return nil, apierr.Conflictf("permission %s:%s already exists", p.Resource, p.Action)
	}

	perm := &store.Permission{
		ID: uuid.New(), Resource: p.Resource, Action: p.Action, DisplayName: p.DisplayName,
		Description: p.Description, Module: p.Module, IsActive: true, CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.EventPermissionCreated, audit.Params{ActorID: &actorID, TargetType: "permission", TargetID: perm.ID.String()})
	return perm, nil
}

// UpdateParams is the request shape of permission update.
type UpdateParams struct {
	PermissionID uuid.UUID
	DisplayName  string
	Description  string
	Module       string
	Conditions   []store.Condition
}

func (s *Service) Update(ctx context.Context, p UpdateParams, actorID uuid.UUID) (*store.Permission, error) {
	perm, err := s.store.GetPermissionByID(ctx, p.PermissionID)
	if err != nil {
		return nil, err
	}
	perm.DisplayName = p.DisplayName
	perm.Description = p.Description
	perm.Module = p.Module
	perm.Conditions = p.Conditions
	if err := s.store.UpdatePermission(ctx, perm); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.EventPermissionUpdated, audit.Params{ActorID: &actorID, TargetType: "permission", TargetID: perm.ID.String()})
	return perm, nil
}

// Deactivate soft-deletes a permission, blocked while any role or user
// still references it.
func (s *Service) Deactivate(ctx context.Context, permissionID, actorID uuid.UUID) error {
	perm, err := s.store.GetPermissionByID(ctx, permissionID)
	if err != nil {
		return err
	}
	referenced, err := s.store.IsPermissionReferenced(ctx, permissionID)
	if err != nil {
		return err
	}
	if referenced {
		return apierr.Conflictf("permission is still referenced by a role or user")
	}
	perm.IsActive = false
	if err := s.store.UpdatePermission(ctx, perm); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.EventPermissionUpdated, audit.Params{
		ActorID: &actorID, TargetType: "permission", TargetID: perm.ID.String(), Metadata: map[string]any{"deactivated": true},
	})
	return nil
}

func (s *Service) List(ctx context.Context, f store.PermissionFilter) ([]*store.Permission, int, error) {
	return s.store.ListPermissions(ctx, f)
}

// AssignToUser grants or denies a permission directly to a user.
type AssignToUserParams struct {
	UserID       uuid.UUID
	PermissionID uuid.UUID
	IsGranted    *bool
	Conditions   []store.Condition
	Reason       string
	ExpiresAt    *time.Time
}

func (s *Service) AssignToUser(ctx context.Context, p AssignToUserParams, actorID uuid.UUID) error {
	if _, err := s.store.GetPermissionByID(ctx, p.PermissionID); err != nil {
		return apierr.BadRequestf("permission does not exist")
	}
	if _, err := s.store.GetUserPermission(ctx, p.UserID, p.PermissionID); err == nil {
		return apierr.Conflictf("permission already assigned to user")
	}

	granted := true
	if p.IsGranted != nil {
		granted = *p.IsGranted
	}
	up := &store.UserPermission{
		ID: uuid.New(), UserID: p.UserID, PermissionID: p.PermissionID, IsGranted: granted,
		Conditions: p.Conditions, Reason: p.Reason, ExpiresAt: p.ExpiresAt, GrantedBy: actorID, CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateUserPermission(ctx, up); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, effPermCacheKey(p.UserID))
	s.audit.Log(ctx, audit.EventUserPermissionAssigned, audit.Params{
		ActorID: &actorID, UserID: &p.UserID, TargetType: "permission", TargetID: p.PermissionID.String(),
	})
	return nil
}

func (s *Service) RevokeFromUser(ctx context.Context, userID, permissionID, actorID uuid.UUID) error {
	if _, err := s.store.GetUserPermission(ctx, userID, permissionID); err != nil {
		return apierr.NotFoundf("user does not hold this permission directly")
	}
	if err := s.store.DeleteUserPermission(ctx, userID, permissionID); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, effPermCacheKey(userID))
	s.audit.Log(ctx, audit.EventUserPermissionRevoked, audit.Params{
		ActorID: &actorID, UserID: &userID, TargetType: "permission", TargetID: permissionID.String(),
	})
	return nil
}

type BulkTargetType string

const (
	BulkTargetRole BulkTargetType = "role"
	BulkTargetUser BulkTargetType = "user"
)

type BulkOperation string

const (
	BulkOperationAdd    BulkOperation = "add"
	BulkOperationRemove BulkOperation = "remove"
)

// BulkAssignParams is the request shape of bulk permission assignment.
type BulkAssignParams struct {
	TargetType    BulkTargetType
	TargetID      uuid.UUID
	PermissionIDs []uuid.UUID
	Operation     BulkOperation
}

// BulkAssign validates every permission id up front, then performs the
// whole mutation atomically in a single transaction and audits once.
func (s *Service) BulkAssign(ctx context.Context, p BulkAssignParams, actorID uuid.UUID) error {
	for _, id := range p.PermissionIDs {
		if _, err := s.store.GetPermissionByID(ctx, id); err != nil {
			return apierr.BadRequestf("permission %s does not exist", id)
		}
	}

	if err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		switch p.TargetType {
		case BulkTargetRole:
			return s.bulkAssignRole(ctx, p)
		case BulkTargetUser:
			return s.bulkAssignUser(ctx, p, actorID)
		default:
			return apierr.BadRequestf("unknown bulk target type %q", p.TargetType)
		}
	}); err != nil {
		return err
	}

	s.audit.Log(ctx, audit.EventBulkPermissionsAssigned, audit.Params{
		ActorID: &actorID, TargetType: string(p.TargetType), TargetID: p.TargetID.String(),
		Metadata: map[string]any{"operation": string(p.Operation), "permissionCount": len(p.PermissionIDs)},
	})
	return nil
}

func (s *Service) bulkAssignRole(ctx context.Context, p BulkAssignParams) error {
	existingByRole, err := s.store.GetRolePermissionKeys(ctx, []uuid.UUID{p.TargetID})
	if err != nil {
		return err
	}
	keySet := map[string]bool{}
	for _, k := range existingByRole[p.TargetID.String()] {
		keySet[k] = true
	}

	var finalIDs []uuid.UUID
	for _, id := range p.PermissionIDs {
		perm, err := s.store.GetPermissionByID(ctx, id)
		if err != nil {
			return err
		}
		if p.Operation == BulkOperationAdd {
			keySet[perm.Key()] = true
		} else {
			delete(keySet, perm.Key())
		}
	}
	// GetRolePermissionKeys only returns keys, not ids, so resolve the
	// final id set by matching keys against every permission, inactive
	// ones included.
	all, _, err := s.store.ListPermissions(ctx, store.PermissionFilter{IncludeInactive: true, Limit: 10000})
	if err != nil {
		return err
	}
	for _, perm := range all {
		if keySet[perm.Key()] {
			finalIDs = append(finalIDs, perm.ID)
		}
	}
	return s.store.ReplaceRolePermissions(ctx, p.TargetID, finalIDs)
}

func (s *Service) bulkAssignUser(ctx context.Context, p BulkAssignParams, actorID uuid.UUID) error {
	for _, permID := range p.PermissionIDs {
		switch p.Operation {
		case BulkOperationAdd:
			if _, err := s.store.GetUserPermission(ctx, p.TargetID, permID); err == nil {
				continue
			}
			up := &store.UserPermission{
				ID: uuid.New(), UserID: p.TargetID, PermissionID: permID, IsGranted: true,
				GrantedBy: actorID, CreatedAt: s.clock.Now(),
			}
			if err := s.store.CreateUserPermission(ctx, up); err != nil {
				return err
			}
		case BulkOperationRemove:
			if err := s.store.DeleteUserPermission(ctx, p.TargetID, permID); err != nil {
				return err
			}
		}
	}
	_ = s.cache.Delete(ctx, effPermCacheKey(p.TargetID))
	return nil
}

// CheckContext is the request context supplied to condition evaluation.
type CheckContext struct {
	OrganizationID *uuid.UUID
}

// CheckResult is the outcome of checkPermissionWithContext.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// CheckWithContext resolves whether a user's direct grant for
// resource:action is conditional, and if so evaluates its conditions
// against the supplied request context.
func (s *Service) CheckWithContext(ctx context.Context, userID uuid.UUID, resource, action string, reqCtx CheckContext) (CheckResult, error) {
	perm, err := s.store.GetPermissionByResourceAction(ctx, resource, action)
	if err != nil {
		return CheckResult{Allowed: false, Reason: "permission not found"}, nil
	}
	up, err := s.store.GetUserPermission(ctx, userID, perm.ID)
	if err != nil || !up.IsGranted {
		return CheckResult{Allowed: false, Reason: "no direct grant"}, nil
	}
	if !up.IsActive(s.clock.Now()) {
		return CheckResult{Allowed: false, Reason: "grant expired"}, nil
	}
	if len(up.Conditions) == 0 {
		return CheckResult{Allowed: true}, nil
	}
	for _, cond := range up.Conditions {
		if !evaluateCondition(cond, reqCtx) {
			return CheckResult{Allowed: false, Reason: "condition not satisfied: " + string(cond.Type)}, nil
		}
	}
	return CheckResult{Allowed: true}, nil
}

// evaluateCondition implements the one defined condition type in
// scope; anything else denies by default.
func evaluateCondition(cond store.Condition, reqCtx CheckContext) bool {
	if cond.Type != store.ConditionOwnOrganization {
		return false
	}
	orgID, _ := cond.Value["orgId"].(string)
	if reqCtx.OrganizationID == nil {
		return false
	}
	return strings.EqualFold(orgID, reqCtx.OrganizationID.String())
}
