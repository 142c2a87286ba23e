package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) CreatePermission(ctx context.Context, p *store.Permission) error {
	cond, err := toJSONB(p.Conditions)
	if err != nil {
		return fmt.Errorf("postgres: marshal conditions: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `INSERT INTO permissions (id, resource, action, display_name, description, module, conditions, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		toPgUUID(p.ID), p.Resource, p.Action, p.DisplayName, p.Description, p.Module, cond, p.IsActive, toPgTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create permission: %w", err)
	}
	return nil
}

const permissionColumns = `id, resource, action, display_name, description, module, conditions, is_active, created_at`

func (s *Store) GetPermissionByID(ctx context.Context, id uuid.UUID) (*store.Permission, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, toPgUUID(id))
	return scanPermission(row)
}

func (s *Store) GetPermissionByResourceAction(ctx context.Context, resource, action string) (*store.Permission, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE resource=$1 AND action=$2`, resource, action)
	return scanPermission(row)
}

func scanPermission(row pgx.Row) (*store.Permission, error) {
	var (
		id                                   pgtype.UUID
		resource, action, display, desc, mod string
		condRaw                              []byte
		isActive                             bool
		createdAt                            pgtype.Timestamptz
	)
	err := row.Scan(&id, &resource, &action, &display, &desc, &mod, &condRaw, &isActive, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("permission not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan permission: %w", err)
	}
	var cond []store.Condition
	_ = fromJSONB(condRaw, &cond)
	return &store.Permission{
		ID: fromPgUUID(id), Resource: resource, Action: action, DisplayName: display, Description: desc, Module: mod,
		Conditions: cond, IsActive: isActive, CreatedAt: createdAt.Time,
	}, nil
}

func (s *Store) UpdatePermission(ctx context.Context, p *store.Permission) error {
	cond, err := toJSONB(p.Conditions)
	if err != nil {
		return fmt.Errorf("postgres: marshal conditions: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `UPDATE permissions SET display_name=$1, description=$2, module=$3, conditions=$4, is_active=$5 WHERE id=$6`,
		p.DisplayName, p.Description, p.Module, cond, p.IsActive, toPgUUID(p.ID))
	if err != nil {
		return fmt.Errorf("postgres: update permission: %w", err)
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context, f store.PermissionFilter) ([]*store.Permission, int, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Module != "" {
		where = append(where, "module = "+arg(f.Module))
	}
	if f.Resource != "" {
		where = append(where, "resource = "+arg(f.Resource))
	}
	if f.Search != "" {
		where = append(where, "(resource ILIKE "+arg("%"+f.Search+"%")+" OR display_name ILIKE "+arg("%"+f.Search+"%")+")")
	}
	if !f.IncludeInactive {
		where = append(where, "is_active = true")
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := s.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count permissions: %w", err)
	}

	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = 50
	}
	limitArg, offsetArg := arg(limit), arg(offset)
	rows, err := s.db(ctx).Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE `+whereSQL+` ORDER BY resource, action OFFSET `+offsetArg+` LIMIT `+limitArg, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list permissions: %w", err)
	}
	defer rows.Close()
	var out []*store.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (s *Store) IsPermissionReferenced(ctx context.Context, permissionID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db(ctx).QueryRow(ctx, `SELECT EXISTS(
		SELECT 1 FROM role_permissions WHERE permission_id = $1
		UNION ALL
		SELECT 1 FROM user_permissions WHERE permission_id = $1
	)`, toPgUUID(permissionID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check permission references: %w", err)
	}
	return exists, nil
}

func (s *Store) GetUserPermission(ctx context.Context, userID, permissionID uuid.UUID) (*store.UserPermission, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT id, user_id, permission_id, is_granted, conditions, reason, expires_at, granted_by, created_at
		FROM user_permissions WHERE user_id=$1 AND permission_id=$2`, toPgUUID(userID), toPgUUID(permissionID))
	return scanUserPermission(row)
}

func scanUserPermission(row pgx.Row) (*store.UserPermission, error) {
	var (
		id, userID, permID pgtype.UUID
		isGranted          bool
		condRaw            []byte
		reason             pgtype.Text
		expiresAt          pgtype.Timestamptz
		grantedBy          pgtype.UUID
		createdAt          pgtype.Timestamptz
	)
	err := row.Scan(&id, &userID, &permID, &isGranted, &condRaw, &reason, &expiresAt, &grantedBy, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("user permission not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan user permission: %w", err)
	}
	var cond []store.Condition
	_ = fromJSONB(condRaw, &cond)
	return &store.UserPermission{
		ID: fromPgUUID(id), UserID: fromPgUUID(userID), PermissionID: fromPgUUID(permID), IsGranted: isGranted,
		Conditions: cond, Reason: fromPgText(reason), ExpiresAt: fromPgTimePtr(expiresAt), GrantedBy: fromPgUUID(grantedBy),
		CreatedAt: createdAt.Time,
	}, nil
}

func (s *Store) CreateUserPermission(ctx context.Context, up *store.UserPermission) error {
	cond, err := toJSONB(up.Conditions)
	if err != nil {
		return fmt.Errorf("postgres: marshal conditions: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `INSERT INTO user_permissions (id, user_id, permission_id, is_granted, conditions, reason, expires_at, granted_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (user_id, permission_id) DO UPDATE SET is_granted=$4, conditions=$5, reason=$6, expires_at=$7, granted_by=$8, created_at=$9`,
		toPgUUID(up.ID), toPgUUID(up.UserID), toPgUUID(up.PermissionID), up.IsGranted, cond, toPgText(up.Reason), toPgTimePtr(up.ExpiresAt), toPgUUID(up.GrantedBy), toPgTime(up.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create user permission: %w", err)
	}
	return nil
}

func (s *Store) DeleteUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM user_permissions WHERE user_id=$1 AND permission_id=$2`, toPgUUID(userID), toPgUUID(permissionID))
	if err != nil {
		return fmt.Errorf("postgres: delete user permission: %w", err)
	}
	return nil
}

func (s *Store) ListUserPermissions(ctx context.Context, userID uuid.UUID, now time.Time) ([]*store.UserPermission, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT id, user_id, permission_id, is_granted, conditions, reason, expires_at, granted_by, created_at
		FROM user_permissions WHERE user_id=$1 AND (expires_at IS NULL OR expires_at > $2)`, toPgUUID(userID), toPgTime(now))
	if err != nil {
		return nil, fmt.Errorf("postgres: list user permissions: %w", err)
	}
	defer rows.Close()
	var out []*store.UserPermission
	for rows.Next() {
		up, err := scanUserPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, rows.Err()
}
