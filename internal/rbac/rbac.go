// Package rbac implements the RBAC Service (§4.L): role CRUD, a
// transitive-closure role hierarchy, user-role assignment, and the
// effective-permissions resolution algorithm.
package rbac

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/store"
)

const effectivePermCacheTTL = 5 * time.Minute

var roleNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

type Service struct {
	store store.RBACStore
	cache cache.Cache
	audit audit.Sink
	clock clock.Clock
}

func NewService(st store.RBACStore, c cache.Cache, auditSink audit.Sink, clk clock.Clock) *Service {
	return &Service{store: st, cache: c, audit: auditSink, clock: clk}
}

func effPermCacheKey(userID uuid.UUID) string { return "user:effperm:" + userID.String() }

// CreateRoleParams is the request shape of createRole.
type CreateRoleParams struct {
	Name          string
	DisplayName   string
	Description   string
	ParentRoleID  *uuid.UUID
	PermissionIDs []uuid.UUID
}

func (s *Service) CreateRole(ctx context.Context, p CreateRoleParams, actorID uuid.UUID, orgID *uuid.UUID) (*store.Role, error) {
	if !roleNamePattern.MatchString(p.Name) {
		return nil, apierr.BadRequestf("role name must match ^[A-Z][A-Z0-9_]*$")
	}
	if _, err := s.store.GetRoleByName(ctx, p.Name, orgID); err == nil {
		return nil, apierr.Conflictf("a role named %s already exists in this scope", p.Name)
	}

	var parent *store.Role
	if p.ParentRoleID != nil {
		var err error
		parent, err = s.store.GetRoleByID(ctx, *p.ParentRoleID)
		if err != nil {
			return nil, apierr.BadRequestf("parent role does not exist")
		}
		if !parent.IsActive {
			return nil, apierr.BadRequestf("parent role is not active")
		}
	}

	now := s.clock.Now()
	role := &store.Role{
		ID: uuid.New(), Name: p.Name, DisplayName: p.DisplayName, Description: p.Description,
		IsActive: true, ParentRoleID: p.ParentRoleID, OrganizationID: orgID, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	if err := s.store.InsertHierarchyRow(ctx, store.RoleHierarchyEntry{AncestorRoleID: role.ID, DescendantRoleID: role.ID, Depth: 0}); err != nil {
		return nil, err
	}
	if parent != nil {
		if err := s.attachUnderParent(ctx, role.ID, parent.ID); err != nil {
			return nil, err
		}
	}
	if len(p.PermissionIDs) > 0 {
		if err := s.validatePermissionsExist(ctx, p.PermissionIDs); err != nil {
			return nil, err
		}
		if err := s.store.ReplaceRolePermissions(ctx, role.ID, p.PermissionIDs); err != nil {
			return nil, err
		}
	}

	s.audit.Log(ctx, audit.EventRoleCreated, audit.Params{
		ActorID: &actorID, TargetType: "role", TargetID: role.ID.String(),
		Metadata: map[string]any{"name": role.Name},
	})
	return role, nil
}

// attachUnderParent recomputes the transitive closure for a node
// attached under parent: every ancestor of parent (plus parent itself)
// becomes an ancestor of roleID, one level further down.
func (s *Service) attachUnderParent(ctx context.Context, roleID, parentID uuid.UUID) error {
	if ok, err := s.store.HasHierarchyRow(ctx, roleID, parentID); err != nil {
		return err
	} else if ok {
		return apierr.BadRequestf("assigning this parent would create a cycle")
	}

	ancestors, err := s.store.GetAncestors(ctx, parentID)
	if err != nil {
		return err
	}
	rows := append([]store.RoleHierarchyEntry{{AncestorRoleID: parentID, DescendantRoleID: parentID, Depth: 0}}, ancestors...)
	for _, a := range rows {
		if err := s.store.InsertHierarchyRow(ctx, store.RoleHierarchyEntry{
			AncestorRoleID: a.AncestorRoleID, DescendantRoleID: roleID, Depth: a.Depth + 1,
		}); err != nil {
			return err
		}
	}
	return nil
}

type permissionExistenceChecker interface {
	GetPermissionByID(ctx context.Context, id uuid.UUID) (*store.Permission, error)
}

// validatePermissionsExist needs GetPermissionByID, which RBACStore does
// not embed. It checks the ids only when the store passed to NewService
// also has that method; with any other store it accepts them unchecked.
func (s *Service) validatePermissionsExist(ctx context.Context, ids []uuid.UUID) error {
	checker, ok := any(s.store).(permissionExistenceChecker)
	if !ok {
		return nil
	}
	for _, id := range ids {
		if _, err := checker.GetPermissionByID(ctx, id); err != nil {
			return apierr.BadRequestf("permission %s does not exist", id)
		}
	}
	return nil
}

// UpdateRoleParams is the request shape of the role update operation.
type UpdateRoleParams struct {
	RoleID       uuid.UUID
	DisplayName  string
	Description  string
	ParentRoleID *uuid.UUID
}

func (s *Service) UpdateRole(ctx context.Context, p UpdateRoleParams, actorID uuid.UUID) (*store.Role, error) {
	role, err := s.store.GetRoleByID(ctx, p.RoleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, apierr.Forbiddenf("system roles cannot be modified")
	}
	if p.ParentRoleID != nil && *p.ParentRoleID == p.RoleID {
		return nil, apierr.BadRequestf("a role cannot be its own parent")
	}
	if p.ParentRoleID != nil {
		if ok, err := s.store.HasHierarchyRow(ctx, p.RoleID, *p.ParentRoleID); err != nil {
			return nil, err
		} else if ok {
			return nil, apierr.BadRequestf("assigning this parent would create a cycle")
		}
	}

	role.DisplayName = p.DisplayName
	role.Description = p.Description
	role.ParentRoleID = p.ParentRoleID
	role.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	_ = s.cache.Delete(ctx, "role:"+role.ID.String())
	s.audit.Log(ctx, audit.EventRoleUpdated, audit.Params{ActorID: &actorID, TargetType: "role", TargetID: role.ID.String()})
	return role, nil
}

func (s *Service) DeleteRole(ctx context.Context, roleID, actorID uuid.UUID) error {
	role, err := s.store.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return apierr.Forbiddenf("system roles cannot be deleted")
	}
	count, err := s.store.CountActiveUserRolesForRole(ctx, roleID)
	if err != nil {
		return err
	}
	if count > 0 {
		return apierr.Conflictf("role has %d active assignments", count)
	}
	role.IsActive = false
	role.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateRole(ctx, role); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.EventRoleDeleted, audit.Params{ActorID: &actorID, TargetType: "role", TargetID: roleID.String()})
	return nil
}

// UpdateRolePermissions replaces a role's permission set and
// invalidates the effective-permissions cache for every user currently
// holding it.
func (s *Service) UpdateRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID, actorID uuid.UUID) error {
	role, err := s.store.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return apierr.Forbiddenf("system roles cannot be modified")
	}
	if err := s.validatePermissionsExist(ctx, permissionIDs); err != nil {
		return err
	}
	if err := s.store.ReplaceRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}

	userIDs, err := s.store.ListUserIDsWithRole(ctx, roleID)
	if err != nil {
		return err
	}
	for _, uid := range userIDs {
		_ = s.cache.Delete(ctx, effPermCacheKey(uid))
	}

	s.audit.Log(ctx, audit.EventRolePermissionsUpdated, audit.Params{ActorID: &actorID, TargetType: "role", TargetID: roleID.String()})
	return nil
}

// AssignRoleParams is the request shape of assignRole.
type AssignRoleParams struct {
	UserID    uuid.UUID
	RoleID    uuid.UUID
	ExpiresAt *time.Time
	Reason    string
}

func (s *Service) AssignRole(ctx context.Context, p AssignRoleParams, actorID uuid.UUID) error {
	role, err := s.store.GetRoleByID(ctx, p.RoleID)
	if err != nil {
		return err
	}
	if !role.IsActive {
		return apierr.BadRequestf("role is not active")
	}
	if _, err := s.store.GetActiveUserRole(ctx, p.UserID, p.RoleID); err == nil {
		return apierr.Conflictf("user already holds this role")
	}

	ur := &store.UserRole{
		ID: uuid.New(), UserID: p.UserID, RoleID: p.RoleID, GrantedAt: s.clock.Now(),
		GrantedBy: actorID, ExpiresAt: p.ExpiresAt,
	}
	if err := s.store.CreateUserRole(ctx, ur); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, effPermCacheKey(p.UserID))

	s.audit.Log(ctx, audit.EventRoleAssigned, audit.Params{
		ActorID: &actorID, UserID: &p.UserID, TargetType: "role", TargetID: p.RoleID.String(),
		Metadata: map[string]any{"roleId": p.RoleID.String(), "roleName": role.Name, "reason": p.Reason},
	})
	return nil
}

func (s *Service) RevokeRole(ctx context.Context, userID, roleID, actorID uuid.UUID, reason string) error {
	if len(reason) < 5 {
		return apierr.BadRequestf("reason must be at least 5 characters")
	}
	now := s.clock.Now()
	active, err := s.store.ListActiveUserRoles(ctx, userID, now)
	if err != nil {
		return err
	}
	if len(active) <= 1 {
		return apierr.Conflictf("cannot revoke the user's last active role")
	}

	ur, err := s.store.GetActiveUserRole(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if err := s.store.RevokeUserRole(ctx, ur.ID, actorID, reason, now); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, effPermCacheKey(userID))

	s.audit.Log(ctx, audit.EventRoleRevoked, audit.Params{
		ActorID: &actorID, UserID: &userID, TargetType: "role", TargetID: roleID.String(),
		Metadata: map[string]any{"reason": reason},
	})
	return nil
}

// EffectivePermissions is the getUserEffectivePermissions projection.
type EffectivePermissions struct {
	Roles          []string
	PermissionKeys map[string]bool
	RoleKeys       map[string]bool
	DirectKeys     map[string]bool
}

// GetEffectivePermissions implements the central algorithm of §4.L:
// fast cache, then active roles + ancestor closure + direct grants.
func (s *Service) GetEffectivePermissions(ctx context.Context, userID uuid.UUID) (EffectivePermissions, error) {
	if raw, ok, err := s.cache.Get(ctx, effPermCacheKey(userID)); err == nil && ok {
		var cached store.EffectivePermissions
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return EffectivePermissions{Roles: cached.Roles, PermissionKeys: cached.PermissionKeys}, nil
		}
	}

	now := s.clock.Now()
	activeRoles, err := s.store.ListActiveUserRoles(ctx, userID, now)
	if err != nil {
		return EffectivePermissions{}, err
	}

	roleKeys := map[string]bool{}
	var roleNames []string
	for _, ur := range activeRoles {
		role, err := s.store.GetRoleByID(ctx, ur.RoleID)
		if err != nil {
			continue
		}
		roleNames = append(roleNames, role.Name)

		ancestors, err := s.store.GetAncestors(ctx, ur.RoleID)
		if err != nil {
			return EffectivePermissions{}, err
		}
		ancestorIDs := make([]uuid.UUID, 0, len(ancestors))
		for _, a := range ancestors {
			ancestorIDs = append(ancestorIDs, a.AncestorRoleID)
		}
		perKeys, err := s.store.GetRolePermissionKeys(ctx, ancestorIDs)
		if err != nil {
			return EffectivePermissions{}, err
		}
		for _, keys := range perKeys {
			for _, k := range keys {
				roleKeys[k] = true
			}
		}
	}

	direct, err := s.directPermissionKeys(ctx, userID, now)
	if err != nil {
		return EffectivePermissions{}, err
	}

	final := map[string]bool{}
	for k := range roleKeys {
		final[k] = true
	}
	for k, granted := range direct {
		if granted {
			final[k] = true
		} else {
			delete(final, k)
		}
	}

	cached := store.EffectivePermissions{UserID: userID, Roles: roleNames, PermissionKeys: final, ComputedAt: now}
	if raw, err := json.Marshal(cached); err == nil {
		_ = s.cache.Set(ctx, effPermCacheKey(userID), string(raw), effectivePermCacheTTL)
	}
	_ = s.store.UpsertEffectivePermissionsCache(ctx, &cached)

	return EffectivePermissions{Roles: roleNames, PermissionKeys: final, RoleKeys: roleKeys, DirectKeys: direct}, nil
}

type userPermissionLister interface {
	ListUserPermissions(ctx context.Context, userID uuid.UUID, now time.Time) ([]*store.UserPermission, error)
	GetPermissionByID(ctx context.Context, id uuid.UUID) (*store.Permission, error)
}

// directPermissionKeys folds in a user's direct grants/denies, when the
// concrete store also satisfies PermissionStore.
func (s *Service) directPermissionKeys(ctx context.Context, userID uuid.UUID, now time.Time) (map[string]bool, error) {
	lister, ok := any(s.store).(userPermissionLister)
	if !ok {
		return nil, nil
	}
	ups, err := lister.ListUserPermissions(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, up := range ups {
		if !up.IsActive(now) {
			continue
		}
		perm, err := lister.GetPermissionByID(ctx, up.PermissionID)
		if err != nil {
			continue
		}
		out[perm.Key()] = up.IsGranted
	}
	return out, nil
}

// CheckPermission resolves the effective set and reports whether it
// contains resource:action, or a resource:* wildcard.
func (s *Service) CheckPermission(ctx context.Context, userID uuid.UUID, resource, action string) (bool, error) {
	eff, err := s.GetEffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	if eff.PermissionKeys[resource+":"+action] {
		return true, nil
	}
	return eff.PermissionKeys[resource+":*"], nil
}

// PermissionCheck is one entry of a checkPermissions request.
type PermissionCheck struct {
	Resource string
	Action   string
}

// CheckPermissions resolves the effective set once and evaluates every
// requested resource:action pair against it.
func (s *Service) CheckPermissions(ctx context.Context, userID uuid.UUID, checks []PermissionCheck) (map[string]bool, error) {
	eff, err := s.GetEffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(checks))
	for _, c := range checks {
		key := c.Resource + ":" + c.Action
		out[key] = eff.PermissionKeys[key] || eff.PermissionKeys[c.Resource+":*"]
	}
	return out, nil
}
