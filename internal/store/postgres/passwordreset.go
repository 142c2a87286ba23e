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

func (s *Store) InvalidateActiveResetTokens(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE password_reset_tokens SET used_at = $1 WHERE user_id = $2 AND used_at IS NULL AND expires_at > $1`,
		toPgTime(at), toPgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: invalidate reset tokens: %w", err)
	}
	return nil
}

func (s *Store) CreatePasswordResetToken(ctx context.Context, t *store.PasswordResetToken) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO password_reset_tokens (id, user_id, token_hash, ip_address, expires_at, used_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		toPgUUID(t.ID), toPgUUID(t.UserID), t.TokenHash, toPgText(t.IPAddress), toPgTime(t.ExpiresAt), toPgTimePtr(t.UsedAt), toPgTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create password reset token: %w", err)
	}
	return nil
}

func (s *Store) GetPasswordResetTokenByHash(ctx context.Context, tokenHash string) (*store.PasswordResetToken, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT id, user_id, token_hash, ip_address, expires_at, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = $1`, tokenHash)
	var (
		id, userID pgtype.UUID
		hash       string
		ip         pgtype.Text
		expiresAt  pgtype.Timestamptz
		usedAt     pgtype.Timestamptz
		createdAt  pgtype.Timestamptz
	)
	err := row.Scan(&id, &userID, &hash, &ip, &expiresAt, &usedAt, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("reset token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan reset token: %w", err)
	}
	return &store.PasswordResetToken{
		ID: fromPgUUID(id), UserID: fromPgUUID(userID), TokenHash: hash, IPAddress: fromPgText(ip),
		ExpiresAt: expiresAt.Time, UsedAt: fromPgTimePtr(usedAt), CreatedAt: createdAt.Time,
	}, nil
}

func (s *Store) MarkPasswordResetTokenUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE password_reset_tokens SET used_at = $1 WHERE id = $2 AND used_at IS NULL`, toPgTime(at), toPgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: mark reset token used: %w", err)
	}
	return nil
}

func (s *Store) ListPasswordHistory(ctx context.Context, userID uuid.UUID) ([]*store.PasswordHistoryEntry, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT id, user_id, password_hash, created_at FROM password_history
		WHERE user_id = $1 ORDER BY created_at DESC`, toPgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list password history: %w", err)
	}
	defer rows.Close()
	var out []*store.PasswordHistoryEntry
	for rows.Next() {
		var e store.PasswordHistoryEntry
		var id, uid pgtype.UUID
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&id, &uid, &e.PasswordHash, &createdAt); err != nil {
			return nil, fmt.Errorf("postgres: scan password history: %w", err)
		}
		e.ID, e.UserID, e.CreatedAt = fromPgUUID(id), fromPgUUID(uid), createdAt.Time
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) PushPasswordHistory(ctx context.Context, e *store.PasswordHistoryEntry) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO password_history (id, user_id, password_hash, created_at) VALUES ($1,$2,$3,$4)`,
		toPgUUID(e.ID), toPgUUID(e.UserID), e.PasswordHash, toPgTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: push password history: %w", err)
	}
	return nil
}

func (s *Store) TrimPasswordHistory(ctx context.Context, userID uuid.UUID, keep int) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM password_history WHERE user_id = $1 AND id NOT IN (
		SELECT id FROM password_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	)`, toPgUUID(userID), keep)
	if err != nil {
		return fmt.Errorf("postgres: trim password history: %w", err)
	}
	return nil
}
