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

func (s *Store) GetMfaConfiguration(ctx context.Context, userID uuid.UUID) (*store.MfaConfiguration, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT user_id, secret_encrypted, is_enabled, verified_at, last_used_at, failed_attempts, locked_until
		FROM mfa_configurations WHERE user_id = $1`, toPgUUID(userID))
	var (
		uid              pgtype.UUID
		secret           string
		enabled          bool
		verified, lastUs, lockedUntil pgtype.Timestamptz
		failed           int
	)
	err := row.Scan(&uid, &secret, &enabled, &verified, &lastUs, &failed, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("mfa configuration not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan mfa config: %w", err)
	}
	return &store.MfaConfiguration{
		UserID: fromPgUUID(uid), SecretEncrypted: secret, IsEnabled: enabled,
		VerifiedAt: fromPgTimePtr(verified), LastUsedAt: fromPgTimePtr(lastUs),
		FailedAttempts: failed, LockedUntil: fromPgTimePtr(lockedUntil),
	}, nil
}

func (s *Store) UpsertMfaConfiguration(ctx context.Context, c *store.MfaConfiguration) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO mfa_configurations (user_id, secret_encrypted, is_enabled, verified_at, last_used_at, failed_attempts, locked_until)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET secret_encrypted=$2, is_enabled=$3, verified_at=$4, last_used_at=$5, failed_attempts=$6, locked_until=$7`,
		toPgUUID(c.UserID), c.SecretEncrypted, c.IsEnabled, toPgTimePtr(c.VerifiedAt), toPgTimePtr(c.LastUsedAt), c.FailedAttempts, toPgTimePtr(c.LockedUntil))
	if err != nil {
		return fmt.Errorf("postgres: upsert mfa config: %w", err)
	}
	return nil
}

func (s *Store) DeleteMfaConfiguration(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM mfa_configurations WHERE user_id = $1`, toPgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: delete mfa config: %w", err)
	}
	return nil
}

func (s *Store) CreateMfaChallenge(ctx context.Context, c *store.MfaChallenge) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO mfa_challenges (id, challenge_token, user_id, type, attempts, max_attempts, expires_at, completed_at, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		toPgUUID(c.ID), c.ChallengeToken, toPgUUID(c.UserID), string(c.Type), c.Attempts, c.MaxAttempts,
		toPgTime(c.ExpiresAt), toPgTimePtr(c.CompletedAt), toPgText(c.IPAddress))
	if err != nil {
		return fmt.Errorf("postgres: create mfa challenge: %w", err)
	}
	return nil
}

func (s *Store) GetMfaChallengeByToken(ctx context.Context, token string) (*store.MfaChallenge, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT id, challenge_token, user_id, type, attempts, max_attempts, expires_at, completed_at, ip_address
		FROM mfa_challenges WHERE challenge_token = $1`, token)
	return scanChallenge(row)
}

func scanChallenge(row pgx.Row) (*store.MfaChallenge, error) {
	var (
		id, uid             pgtype.UUID
		token, ctype        string
		attempts, maxAtt    int
		expires, completed  pgtype.Timestamptz
		ip                  pgtype.Text
	)
	err := row.Scan(&id, &token, &uid, &ctype, &attempts, &maxAtt, &expires, &completed, &ip)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("challenge not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan mfa challenge: %w", err)
	}
	return &store.MfaChallenge{
		ID: fromPgUUID(id), ChallengeToken: token, UserID: fromPgUUID(uid), Type: store.MfaChallengeType(ctype),
		Attempts: attempts, MaxAttempts: maxAtt, ExpiresAt: expires.Time, CompletedAt: fromPgTimePtr(completed),
		IPAddress: fromPgText(ip),
	}, nil
}

func (s *Store) UpdateMfaChallenge(ctx context.Context, c *store.MfaChallenge) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE mfa_challenges SET attempts=$1, completed_at=$2 WHERE id=$3`,
		c.Attempts, toPgTimePtr(c.CompletedAt), toPgUUID(c.ID))
	if err != nil {
		return fmt.Errorf("postgres: update mfa challenge: %w", err)
	}
	return nil
}

func (s *Store) DeleteMfaChallenge(ctx context.Context, id uuid.UUID) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM mfa_challenges WHERE id = $1`, toPgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: delete mfa challenge: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredChallengesForUser(ctx context.Context, userID uuid.UUID, now time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM mfa_challenges WHERE user_id = $1 AND expires_at < $2`, toPgUUID(userID), toPgTime(now))
	if err != nil {
		return fmt.Errorf("postgres: cleanup mfa challenges: %w", err)
	}
	return nil
}

func (s *Store) DeleteChallengesForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM mfa_challenges WHERE user_id = $1`, toPgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: delete mfa challenges: %w", err)
	}
	return nil
}

func (s *Store) CreateBackupCodes(ctx context.Context, codes []*store.MfaBackupCode) error {
	batch := &pgx.Batch{}
	for _, c := range codes {
		batch.Queue(`INSERT INTO mfa_backup_codes (id, user_id, code_hash, used_at, used_ip_address, used_user_agent, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			toPgUUID(c.ID), toPgUUID(c.UserID), c.CodeHash, toPgTimePtr(c.UsedAt), toPgText(c.UsedIPAddress), toPgText(c.UsedUserAgent), toPgTime(c.CreatedAt))
	}
	br := s.db(ctx).(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	}).SendBatch(ctx, batch)
	defer br.Close()
	for range codes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: create backup codes: %w", err)
		}
	}
	return nil
}

func (s *Store) DeleteBackupCodes(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, toPgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: delete backup codes: %w", err)
	}
	return nil
}

func (s *Store) ListUnusedBackupCodes(ctx context.Context, userID uuid.UUID) ([]*store.MfaBackupCode, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT id, user_id, code_hash, used_at, used_ip_address, used_user_agent, created_at
		FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NULL ORDER BY created_at ASC`, toPgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list unused backup codes: %w", err)
	}
	defer rows.Close()
	var out []*store.MfaBackupCode
	for rows.Next() {
		c, err := scanBackupCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListUsedBackupCodes(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*store.MfaBackupCode, int, error) {
	var total int
	if err := s.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NOT NULL`, toPgUUID(userID)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count used backup codes: %w", err)
	}
	rows, err := s.db(ctx).Query(ctx, `SELECT id, user_id, code_hash, used_at, used_ip_address, used_user_agent, created_at
		FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NOT NULL ORDER BY used_at DESC OFFSET $2 LIMIT $3`,
		toPgUUID(userID), offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list used backup codes: %w", err)
	}
	defer rows.Close()
	var out []*store.MfaBackupCode
	for rows.Next() {
		c, err := scanBackupCode(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func scanBackupCode(row pgx.CollectableRow) (*store.MfaBackupCode, error) {
	var (
		id, uid      pgtype.UUID
		hash         string
		usedAt       pgtype.Timestamptz
		usedIP, usedUA pgtype.Text
		createdAt    pgtype.Timestamptz
	)
	if err := row.Scan(&id, &uid, &hash, &usedAt, &usedIP, &usedUA, &createdAt); err != nil {
		return nil, fmt.Errorf("postgres: scan backup code: %w", err)
	}
	return &store.MfaBackupCode{
		ID: fromPgUUID(id), UserID: fromPgUUID(uid), CodeHash: hash, UsedAt: fromPgTimePtr(usedAt),
		UsedIPAddress: fromPgText(usedIP), UsedUserAgent: fromPgText(usedUA), CreatedAt: createdAt.Time,
	}, nil
}

func (s *Store) MarkBackupCodeUsed(ctx context.Context, id uuid.UUID, ip, ua string, at time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE mfa_backup_codes SET used_at=$1, used_ip_address=$2, used_user_agent=$3 WHERE id=$4 AND used_at IS NULL`,
		toPgTime(at), toPgText(ip), toPgText(ua), toPgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: mark backup code used: %w", err)
	}
	return nil
}

func (s *Store) CountUnusedBackupCodes(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NULL`, toPgUUID(userID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count unused backup codes: %w", err)
	}
	return n, nil
}
