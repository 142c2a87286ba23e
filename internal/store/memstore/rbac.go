package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) CreateRole(_ context.Context, r *store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.roles[r.ID.String()] = &cp
	return nil
}

func (s *Store) GetRoleByID(_ context.Context, id uuid.UUID) (*store.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id.String()]
	if !ok {
		return nil, apierr.NotFoundf("role not found")
	}
	cp := *r
	return &cp, nil
}

func (s *Store) GetRoleByName(_ context.Context, name string, orgID *uuid.UUID) (*store.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name != name {
			continue
		}
		if (r.OrganizationID == nil) != (orgID == nil) {
			continue
		}
		if r.OrganizationID != nil && orgID != nil && *r.OrganizationID != *orgID {
			continue
		}
		cp := *r
		return &cp, nil
	}
	return nil, apierr.NotFoundf("role not found")
}

func (s *Store) UpdateRole(_ context.Context, r *store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.roles[r.ID.String()]
	if !ok {
		return apierr.NotFoundf("role not found")
	}
	existing.DisplayName = r.DisplayName
	existing.Description = r.Description
	existing.IsActive = r.IsActive
	existing.ParentRoleID = r.ParentRoleID
	existing.Metadata = r.Metadata
	existing.UpdatedAt = r.UpdatedAt
	return nil
}

func (s *Store) CountActiveUserRolesForRole(_ context.Context, roleID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ur := range s.userRoles {
		if ur.RoleID == roleID && ur.RevokedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertHierarchyRow(_ context.Context, e store.RoleHierarchyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roleHierarchy {
		if existing.AncestorRoleID == e.AncestorRoleID && existing.DescendantRoleID == e.DescendantRoleID {
			return nil
		}
	}
	s.roleHierarchy = append(s.roleHierarchy, e)
	return nil
}

func (s *Store) HasHierarchyRow(_ context.Context, ancestor, descendant uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.roleHierarchy {
		if e.AncestorRoleID == ancestor && e.DescendantRoleID == descendant {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetAncestors(_ context.Context, roleID uuid.UUID) ([]store.RoleHierarchyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.RoleHierarchyEntry
	for _, e := range s.roleHierarchy {
		if e.DescendantRoleID == roleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ReplaceRolePermissions(_ context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(permissionIDs))
	for _, pid := range permissionIDs {
		if p, ok := s.permissions[pid.String()]; ok {
			keys = append(keys, p.Key())
		}
	}
	s.rolePermissions[roleID.String()] = keys
	return nil
}

func (s *Store) GetRolePermissionKeys(_ context.Context, roleIDs []uuid.UUID) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]string{}
	for _, rid := range roleIDs {
		out[rid.String()] = append([]string{}, s.rolePermissions[rid.String()]...)
	}
	return out, nil
}

func (s *Store) CreateUserRole(_ context.Context, ur *store.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ur
	s.userRoles[ur.ID.String()] = &cp
	return nil
}

func (s *Store) GetActiveUserRole(_ context.Context, userID, roleID uuid.UUID) (*store.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ur := range s.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID && ur.RevokedAt == nil {
			cp := *ur
			return &cp, nil
		}
	}
	return nil, apierr.NotFoundf("user role not found")
}

func (s *Store) ListActiveUserRoles(_ context.Context, userID uuid.UUID, now time.Time) ([]*store.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.UserRole
	for _, ur := range s.userRoles {
		if ur.UserID == userID && ur.IsActive(now) {
			cp := *ur
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) CountActiveUserRoles(_ context.Context, userID uuid.UUID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ur := range s.userRoles {
		if ur.UserID == userID && ur.IsActive(now) {
			n++
		}
	}
	return n, nil
}

func (s *Store) RevokeUserRole(_ context.Context, id uuid.UUID, revokedBy uuid.UUID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ur, ok := s.userRoles[id.String()]
	if !ok {
		return apierr.NotFoundf("user role not found")
	}
	ur.RevokedAt = &at
	ur.RevokedBy = &revokedBy
	ur.Reason = reason
	return nil
}

func (s *Store) ListUserIDsWithRole(_ context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, ur := range s.userRoles {
		if ur.RoleID == roleID && ur.RevokedAt == nil && !seen[ur.UserID] {
			seen[ur.UserID] = true
			out = append(out, ur.UserID)
		}
	}
	return out, nil
}

func (s *Store) GetEffectivePermissionsCache(_ context.Context, userID uuid.UUID) (*store.EffectivePermissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.effectivePerms[userID.String()]
	if !ok {
		return nil, apierr.NotFoundf("effective permissions cache miss")
	}
	cp := *e
	return &cp, nil
}

func (s *Store) UpsertEffectivePermissionsCache(_ context.Context, e *store.EffectivePermissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.effectivePerms[e.UserID.String()] = &cp
	return nil
}
