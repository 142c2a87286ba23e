package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) CreateRole(ctx context.Context, r *store.Role) error {
	meta, err := toJSONB(r.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal role metadata: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `INSERT INTO roles (id, name, display_name, description, is_system, is_active, parent_role_id, organization_id, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		toPgUUID(r.ID), r.Name, r.DisplayName, r.Description, r.IsSystem, r.IsActive,
		toPgUUIDPtr(r.ParentRoleID), toPgUUIDPtr(r.OrganizationID), meta, toPgTime(r.CreatedAt), toPgTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create role: %w", err)
	}
	return nil
}

const roleColumns = `id, name, display_name, description, is_system, is_active, parent_role_id, organization_id, metadata, created_at, updated_at`

func (s *Store) GetRoleByID(ctx context.Context, id uuid.UUID) (*store.Role, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, toPgUUID(id))
	return scanRole(row)
}

func (s *Store) GetRoleByName(ctx context.Context, name string, orgID *uuid.UUID) (*store.Role, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+roleColumns+` FROM roles
		WHERE name = $1 AND organization_id IS NOT DISTINCT FROM $2`, name, toPgUUIDPtr(orgID))
	return scanRole(row)
}

func scanRole(row pgx.Row) (*store.Role, error) {
	var (
		id, parent, org        pgtype.UUID
		name, display, desc    string
		isSystem, isActive     bool
		metaRaw                []byte
		createdAt, updatedAt   pgtype.Timestamptz
	)
	err := row.Scan(&id, &name, &display, &desc, &isSystem, &isActive, &parent, &org, &metaRaw, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("role not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan role: %w", err)
	}
	var meta map[string]any
	_ = fromJSONB(metaRaw, &meta)
	return &store.Role{
		ID: fromPgUUID(id), Name: name, DisplayName: display, Description: desc,
		IsSystem: isSystem, IsActive: isActive, ParentRoleID: fromPgUUIDPtr(parent), OrganizationID: fromPgUUIDPtr(org),
		Metadata: meta, CreatedAt: createdAt.Time, UpdatedAt: updatedAt.Time,
	}, nil
}

func (s *Store) UpdateRole(ctx context.Context, r *store.Role) error {
	meta, err := toJSONB(r.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal role metadata: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `UPDATE roles SET display_name=$1, description=$2, is_active=$3, parent_role_id=$4, metadata=$5, updated_at=$6 WHERE id=$7`,
		r.DisplayName, r.Description, r.IsActive, toPgUUIDPtr(r.ParentRoleID), meta, toPgTime(r.UpdatedAt), toPgUUID(r.ID))
	if err != nil {
		return fmt.Errorf("postgres: update role: %w", err)
	}
	return nil
}

func (s *Store) CountActiveUserRolesForRole(ctx context.Context, roleID uuid.UUID) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND revoked_at IS NULL`, toPgUUID(roleID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count role assignments: %w", err)
	}
	return n, nil
}

func (s *Store) InsertHierarchyRow(ctx context.Context, e store.RoleHierarchyEntry) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO role_hierarchy (ancestor_role_id, descendant_role_id, depth)
		VALUES ($1,$2,$3) ON CONFLICT (ancestor_role_id, descendant_role_id) DO NOTHING`,
		toPgUUID(e.AncestorRoleID), toPgUUID(e.DescendantRoleID), e.Depth)
	if err != nil {
		return fmt.Errorf("postgres: insert hierarchy row: %w", err)
	}
	return nil
}

func (s *Store) HasHierarchyRow(ctx context.Context, ancestor, descendant uuid.UUID) (bool, error) {
	var exists bool
	err := s.db(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM role_hierarchy WHERE ancestor_role_id=$1 AND descendant_role_id=$2)`,
		toPgUUID(ancestor), toPgUUID(descendant)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check hierarchy row: %w", err)
	}
	return exists, nil
}

func (s *Store) GetAncestors(ctx context.Context, roleID uuid.UUID) ([]store.RoleHierarchyEntry, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT ancestor_role_id, descendant_role_id, depth FROM role_hierarchy WHERE descendant_role_id = $1`, toPgUUID(roleID))
	if err != nil {
		return nil, fmt.Errorf("postgres: get ancestors: %w", err)
	}
	defer rows.Close()
	var out []store.RoleHierarchyEntry
	for rows.Next() {
		var e store.RoleHierarchyEntry
		var anc, desc pgtype.UUID
		if err := rows.Scan(&anc, &desc, &e.Depth); err != nil {
			return nil, fmt.Errorf("postgres: scan ancestor row: %w", err)
		}
		e.AncestorRoleID, e.DescendantRoleID = fromPgUUID(anc), fromPgUUID(desc)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	if _, err := s.db(ctx).Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, toPgUUID(roleID)); err != nil {
		return fmt.Errorf("postgres: clear role permissions: %w", err)
	}
	batch := &pgx.Batch{}
	for _, pid := range permissionIDs {
		batch.Queue(`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1,$2)`, toPgUUID(roleID), toPgUUID(pid))
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	br := s.db(ctx).(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	}).SendBatch(ctx, batch)
	defer br.Close()
	for range permissionIDs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert role permissions: %w", err)
		}
	}
	return nil
}

func (s *Store) GetRolePermissionKeys(ctx context.Context, roleIDs []uuid.UUID) (map[string][]string, error) {
	if len(roleIDs) == 0 {
		return map[string][]string{}, nil
	}
	ids := make([]pgtype.UUID, len(roleIDs))
	for i, id := range roleIDs {
		ids[i] = toPgUUID(id)
	}
	rows, err := s.db(ctx).Query(ctx, `
		SELECT rp.role_id, p.resource, p.action FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1) AND p.is_active`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: role permission keys: %w", err)
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var roleID pgtype.UUID
		var resource, action string
		if err := rows.Scan(&roleID, &resource, &action); err != nil {
			return nil, fmt.Errorf("postgres: scan role permission key: %w", err)
		}
		key := fromPgUUID(roleID).String()
		out[key] = append(out[key], resource+":"+action)
	}
	return out, rows.Err()
}

func (s *Store) CreateUserRole(ctx context.Context, ur *store.UserRole) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO user_roles (id, user_id, role_id, organization_id, granted_at, granted_by, expires_at, revoked_at, revoked_by, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		toPgUUID(ur.ID), toPgUUID(ur.UserID), toPgUUID(ur.RoleID), toPgUUIDPtr(ur.OrganizationID),
		toPgTime(ur.GrantedAt), toPgUUID(ur.GrantedBy), toPgTimePtr(ur.ExpiresAt), toPgTimePtr(ur.RevokedAt), toPgUUIDPtr(ur.RevokedBy), ur.Reason)
	if err != nil {
		return fmt.Errorf("postgres: create user role: %w", err)
	}
	return nil
}

const userRoleColumns = `id, user_id, role_id, organization_id, granted_at, granted_by, expires_at, revoked_at, revoked_by, reason`

func (s *Store) GetActiveUserRole(ctx context.Context, userID, roleID uuid.UUID) (*store.UserRole, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+userRoleColumns+` FROM user_roles
		WHERE user_id=$1 AND role_id=$2 AND revoked_at IS NULL`, toPgUUID(userID), toPgUUID(roleID))
	return scanUserRole(row)
}

func (s *Store) ListActiveUserRoles(ctx context.Context, userID uuid.UUID, now time.Time) ([]*store.UserRole, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT `+userRoleColumns+` FROM user_roles
		WHERE user_id=$1 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > $2)`, toPgUUID(userID), toPgTime(now))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active user roles: %w", err)
	}
	defer rows.Close()
	var out []*store.UserRole
	for rows.Next() {
		ur, err := scanUserRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ur)
	}
	return out, rows.Err()
}

func (s *Store) CountActiveUserRoles(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE user_id=$1 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > $2)`,
		toPgUUID(userID), toPgTime(now)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active user roles: %w", err)
	}
	return n, nil
}

func scanUserRole(row pgx.CollectableRow) (*store.UserRole, error) {
	var (
		id, userID, roleID, org pgtype.UUID
		grantedAt               pgtype.Timestamptz
		grantedBy               pgtype.UUID
		expiresAt, revokedAt    pgtype.Timestamptz
		revokedBy               pgtype.UUID
		reason                  pgtype.Text
	)
	err := row.Scan(&id, &userID, &roleID, &org, &grantedAt, &grantedBy, &expiresAt, &revokedAt, &revokedBy, &reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("user role not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan user role: %w", err)
	}
	return &store.UserRole{
		ID: fromPgUUID(id), UserID: fromPgUUID(userID), RoleID: fromPgUUID(roleID), OrganizationID: fromPgUUIDPtr(org),
		GrantedAt: grantedAt.Time, GrantedBy: fromPgUUID(grantedBy), ExpiresAt: fromPgTimePtr(expiresAt),
		RevokedAt: fromPgTimePtr(revokedAt), RevokedBy: fromPgUUIDPtr(revokedBy), Reason: fromPgText(reason),
	}, nil
}

func (s *Store) RevokeUserRole(ctx context.Context, id uuid.UUID, revokedBy uuid.UUID, reason string, at time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE user_roles SET revoked_at=$1, revoked_by=$2, reason=$3 WHERE id=$4 AND revoked_at IS NULL`,
		toPgTime(at), toPgUUID(revokedBy), reason, toPgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: revoke user role: %w", err)
	}
	return nil
}

func (s *Store) ListUserIDsWithRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT DISTINCT user_id FROM user_roles WHERE role_id = $1 AND revoked_at IS NULL`, toPgUUID(roleID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list users with role: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan user id: %w", err)
		}
		out = append(out, fromPgUUID(id))
	}
	return out, rows.Err()
}

func (s *Store) GetEffectivePermissionsCache(ctx context.Context, userID uuid.UUID) (*store.EffectivePermissions, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT user_id, roles, permission_keys, computed_at FROM effective_permissions_cache WHERE user_id = $1`, toPgUUID(userID))
	var (
		uid          pgtype.UUID
		rolesRaw     []byte
		keysRaw      []byte
		computedAt   pgtype.Timestamptz
	)
	err := row.Scan(&uid, &rolesRaw, &keysRaw, &computedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("effective permissions cache miss")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan effective permissions: %w", err)
	}
	var roles []string
	var keys map[string]bool
	_ = fromJSONB(rolesRaw, &roles)
	_ = fromJSONB(keysRaw, &keys)
	return &store.EffectivePermissions{UserID: fromPgUUID(uid), Roles: roles, PermissionKeys: keys, ComputedAt: computedAt.Time}, nil
}

func (s *Store) UpsertEffectivePermissionsCache(ctx context.Context, e *store.EffectivePermissions) error {
	rolesRaw, err := toJSONB(e.Roles)
	if err != nil {
		return fmt.Errorf("postgres: marshal roles: %w", err)
	}
	keysRaw, err := toJSONB(e.PermissionKeys)
	if err != nil {
		return fmt.Errorf("postgres: marshal permission keys: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `INSERT INTO effective_permissions_cache (user_id, roles, permission_keys, computed_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE SET roles=$2, permission_keys=$3, computed_at=$4`,
		toPgUUID(e.UserID), rolesRaw, keysRaw, toPgTime(e.ComputedAt))
	if err != nil {
		return fmt.Errorf("postgres: upsert effective permissions: %w", err)
	}
	return nil
}
