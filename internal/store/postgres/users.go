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

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	row := s.db(ctx).QueryRow(ctx, `
		SELECT id, email, password_hash, status, email_verified_at, password_changed_at, created_at, updated_at
		FROM users WHERE id = $1`, toPgUUID(id))
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	row := s.db(ctx).QueryRow(ctx, `
		SELECT id, email, password_hash, status, email_verified_at, password_changed_at, created_at, updated_at
		FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Store) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, changedAt time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE users SET password_hash = $1, password_changed_at = $2, updated_at = $2 WHERE id = $3`,
		passwordHash, toPgTime(changedAt), toPgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: update password: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*store.User, error) {
	var (
		idRaw                              pgtype.UUID
		email, passwordHash, status        string
		emailVerifiedAt, passwordChangedAt pgtype.Timestamptz
		createdAt, updatedAt                pgtype.Timestamptz
	)
	err := row.Scan(&idRaw, &email, &passwordHash, &status, &emailVerifiedAt, &passwordChangedAt, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan user: %w", err)
	}
	return &store.User{
		ID:                fromPgUUID(idRaw),
		Email:             email,
		PasswordHash:      passwordHash,
		Status:            store.UserStatus(status),
		EmailVerifiedAt:   fromPgTimePtr(emailVerifiedAt),
		PasswordChangedAt: fromPgTimePtr(passwordChangedAt),
		CreatedAt:         createdAt.Time,
		UpdatedAt:         updatedAt.Time,
	}, nil
}
