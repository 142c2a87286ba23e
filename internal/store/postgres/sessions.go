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

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, token_family,
			device_fingerprint, user_agent, ip_address, geo_city, geo_country, is_remembered,
			last_activity_at, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		toPgUUID(sess.ID), toPgUUID(sess.UserID), sess.AccessTokenHash, sess.RefreshTokenHash, sess.TokenFamily,
		toPgText(sess.DeviceFingerprint), toPgText(sess.UserAgent), toPgText(sess.IPAddress),
		toPgText(sess.GeoCity), toPgText(sess.GeoCountry), sess.IsRemembered,
		toPgTime(sess.LastActivityAt), toPgTime(sess.ExpiresAt), toPgTime(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create session: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash, token_family,
	device_fingerprint, user_agent, ip_address, geo_city, geo_country, is_remembered,
	last_activity_at, expires_at, revoked_at, revoke_reason, created_at`

func (s *Store) GetSessionByID(ctx context.Context, id uuid.UUID) (*store.Session, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, toPgUUID(id))
	return scanSession(row)
}

func (s *Store) GetSessionByRefreshHash(ctx context.Context, refreshTokenHash string) (*store.Session, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, refreshTokenHash)
	return scanSession(row)
}

func (s *Store) ListActiveSessionsByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*store.Session, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_activity_at DESC`, toPgUUID(userID), toPgTime(now))
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()
	var out []*store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSessionRotation(ctx context.Context, id uuid.UUID, refreshTokenHash string, lastActivityAt time.Time, ipAddress string) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE sessions SET refresh_token_hash = $1, last_activity_at = $2, ip_address = COALESCE(NULLIF($3,''), ip_address) WHERE id = $4`,
		refreshTokenHash, toPgTime(lastActivityAt), ipAddress, toPgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: rotate session: %w", err)
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, id uuid.UUID, reason store.RevokeReason, at time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE sessions SET revoked_at = $1, revoke_reason = $2 WHERE id = $3 AND revoked_at IS NULL`,
		toPgTime(at), string(reason), toPgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: revoke session: %w", err)
	}
	return nil
}

func (s *Store) RevokeSessionsByFamily(ctx context.Context, tokenFamily string, reason store.RevokeReason, at time.Time) ([]*store.Session, error) {
	rows, err := s.db(ctx).Query(ctx, `UPDATE sessions SET revoked_at = $1, revoke_reason = $2
		WHERE token_family = $3 AND revoked_at IS NULL RETURNING `+sessionColumns,
		toPgTime(at), string(reason), tokenFamily)
	if err != nil {
		return nil, fmt.Errorf("postgres: revoke family: %w", err)
	}
	defer rows.Close()
	var out []*store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) RevokeSessionsByUserExcept(ctx context.Context, userID, exceptID uuid.UUID, reason store.RevokeReason, at time.Time) (int, error) {
	tag, err := s.db(ctx).Exec(ctx, `UPDATE sessions SET revoked_at = $1, revoke_reason = $2
		WHERE user_id = $3 AND id <> $4 AND revoked_at IS NULL`,
		toPgTime(at), string(reason), toPgUUID(userID), toPgUUID(exceptID))
	if err != nil {
		return 0, fmt.Errorf("postgres: revoke all except current: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE sessions SET last_activity_at = $1 WHERE id = $2`, toPgTime(at), toPgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: touch activity: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*store.Session, error) {
	var (
		id, userID                                 pgtype.UUID
		accessHash, refreshHash, family             string
		fingerprint, ua, ip, geoCity, geoCountry    pgtype.Text
		isRemembered                                bool
		lastActivity, expires, revokedAt, createdAt pgtype.Timestamptz
		revokeReason                                pgtype.Text
	)
	err := row.Scan(&id, &userID, &accessHash, &refreshHash, &family, &fingerprint, &ua, &ip,
		&geoCity, &geoCountry, &isRemembered, &lastActivity, &expires, &revokedAt, &revokeReason, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan session: %w", err)
	}
	return &store.Session{
		ID:                fromPgUUID(id),
		UserID:            fromPgUUID(userID),
		AccessTokenHash:   accessHash,
		RefreshTokenHash:  refreshHash,
		TokenFamily:       family,
		DeviceFingerprint: fromPgText(fingerprint),
		UserAgent:         fromPgText(ua),
		IPAddress:         fromPgText(ip),
		GeoCity:           fromPgText(geoCity),
		GeoCountry:        fromPgText(geoCountry),
		IsRemembered:      isRemembered,
		LastActivityAt:    lastActivity.Time,
		ExpiresAt:         expires.Time,
		RevokedAt:         fromPgTimePtr(revokedAt),
		RevokeReason:      store.RevokeReason(fromPgText(revokeReason)),
		CreatedAt:         createdAt.Time,
	}, nil
}

func (s *Store) CreateBlacklistedToken(ctx context.Context, t *store.BlacklistedToken) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO blacklisted_tokens (token_hash, expires_at, reason)
		VALUES ($1,$2,$3) ON CONFLICT (token_hash) DO NOTHING`, t.TokenHash, toPgTime(t.ExpiresAt), string(t.Reason))
	if err != nil {
		return fmt.Errorf("postgres: blacklist token: %w", err)
	}
	return nil
}

func (s *Store) CreateBlacklistedTokens(ctx context.Context, tokens []*store.BlacklistedToken) error {
	batch := &pgx.Batch{}
	for _, t := range tokens {
		batch.Queue(`INSERT INTO blacklisted_tokens (token_hash, expires_at, reason)
			VALUES ($1,$2,$3) ON CONFLICT (token_hash) DO NOTHING`, t.TokenHash, toPgTime(t.ExpiresAt), string(t.Reason))
	}
	br := s.db(ctx).(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	}).SendBatch(ctx, batch)
	defer br.Close()
	for range tokens {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: bulk blacklist: %w", err)
		}
	}
	return nil
}

func (s *Store) IsTokenBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	var exists bool
	err := s.db(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM blacklisted_tokens WHERE token_hash = $1)`, tokenHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check blacklist: %w", err)
	}
	return exists, nil
}

func (s *Store) DeleteExpiredBlacklistedTokens(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db(ctx).Exec(ctx, `DELETE FROM blacklisted_tokens WHERE expires_at < $1`, toPgTime(before))
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup blacklist: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) GetDeviceByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*store.UserDevice, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT id, user_id, fingerprint, name, browser_name, os_name, last_ip_address, last_used_at, is_trusted
		FROM user_devices WHERE user_id = $1 AND fingerprint = $2`, toPgUUID(userID), fingerprint)
	var (
		id, uid                        pgtype.UUID
		fp, name, browser, osName, ip  pgtype.Text
		lastUsed                       pgtype.Timestamptz
		trusted                        bool
	)
	err := row.Scan(&id, &uid, &fp, &name, &browser, &osName, &ip, &lastUsed, &trusted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("device not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan device: %w", err)
	}
	return &store.UserDevice{
		ID: fromPgUUID(id), UserID: fromPgUUID(uid), Fingerprint: fromPgText(fp),
		Name: fromPgText(name), BrowserName: fromPgText(browser), OSName: fromPgText(osName),
		LastIPAddress: fromPgText(ip), LastUsedAt: lastUsed.Time, IsTrusted: trusted,
	}, nil
}

func (s *Store) CreateDevice(ctx context.Context, d *store.UserDevice) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO user_devices (id, user_id, fingerprint, name, browser_name, os_name, last_ip_address, last_used_at, is_trusted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		toPgUUID(d.ID), toPgUUID(d.UserID), d.Fingerprint, toPgText(d.Name), toPgText(d.BrowserName),
		toPgText(d.OSName), toPgText(d.LastIPAddress), toPgTime(d.LastUsedAt), d.IsTrusted)
	if err != nil {
		return fmt.Errorf("postgres: create device: %w", err)
	}
	return nil
}

func (s *Store) UpdateDeviceLastSeen(ctx context.Context, id uuid.UUID, ip string, at time.Time) error {
	_, err := s.db(ctx).Exec(ctx, `UPDATE user_devices SET last_ip_address = $1, last_used_at = $2 WHERE id = $3`,
		toPgText(ip), toPgTime(at), toPgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: touch device: %w", err)
	}
	return nil
}

func (s *Store) CreateLoginAttempt(ctx context.Context, a *store.LoginAttempt) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO login_attempts (id, user_id, email, status, ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		toPgUUID(a.ID), toPgUUIDPtr(a.UserID), a.Email, string(a.Status), toPgText(a.IPAddress), toPgText(a.UserAgent), toPgTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create login attempt: %w", err)
	}
	return nil
}
