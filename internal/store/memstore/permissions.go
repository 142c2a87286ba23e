package memstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) CreatePermission(_ context.Context, p *store.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.permissions[p.ID.String()] = &cp
	return nil
}

func (s *Store) GetPermissionByID(_ context.Context, id uuid.UUID) (*store.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[id.String()]
	if !ok {
		return nil, apierr.NotFoundf("permission not found")
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetPermissionByResourceAction(_ context.Context, resource, action string) (*store.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.permissions {
		if p.Resource == resource && p.Action == action {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apierr.NotFoundf("permission not found")
}

func (s *Store) UpdatePermission(_ context.Context, p *store.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.permissions[p.ID.String()]
	if !ok {
		return apierr.NotFoundf("permission not found")
	}
	existing.DisplayName = p.DisplayName
	existing.Description = p.Description
	existing.Module = p.Module
	existing.Conditions = p.Conditions
	existing.IsActive = p.IsActive
	return nil
}

func (s *Store) ListPermissions(_ context.Context, f store.PermissionFilter) ([]*store.Permission, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*store.Permission
	for _, p := range s.permissions {
		if f.Module != "" && p.Module != f.Module {
			continue
		}
		if f.Resource != "" && p.Resource != f.Resource {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.DisplayName+" "+p.Resource), strings.ToLower(f.Search)) {
			continue
		}
		if !f.IncludeInactive && !p.IsActive {
			continue
		}
		cp := *p
		all = append(all, &cp)
	}
	total := len(all)
	offset, limit := f.Offset, f.Limit
	if limit <= 0 {
		limit = 50
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) IsPermissionReferenced(_ context.Context, permissionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, keys := range s.rolePermissions {
		for _, k := range keys {
			if p, ok := s.permissions[permissionID.String()]; ok && k == p.Key() {
				return true, nil
			}
		}
	}
	for _, up := range s.userPermissions {
		if up.PermissionID == permissionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetUserPermission(_ context.Context, userID, permissionID uuid.UUID) (*store.UserPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, up := range s.userPermissions {
		if up.UserID == userID && up.PermissionID == permissionID {
			cp := *up
			return &cp, nil
		}
	}
	return nil, apierr.NotFoundf("user permission not found")
}

func (s *Store) CreateUserPermission(_ context.Context, up *store.UserPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *up
	s.userPermissions[up.UserID.String()+":"+up.PermissionID.String()] = &cp
	return nil
}

func (s *Store) DeleteUserPermission(_ context.Context, userID, permissionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userPermissions, userID.String()+":"+permissionID.String())
	return nil
}

func (s *Store) ListUserPermissions(_ context.Context, userID uuid.UUID, now time.Time) ([]*store.UserPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.UserPermission
	for _, up := range s.userPermissions {
		if up.UserID == userID && up.IsActive(now) {
			cp := *up
			out = append(out, &cp)
		}
	}
	return out, nil
}
