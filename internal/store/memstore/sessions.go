package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) CreateSession(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID.String()] = &cp
	return nil
}

func (s *Store) GetSessionByID(_ context.Context, id uuid.UUID) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id.String()]
	if !ok {
		return nil, apierr.NotFoundf("session not found")
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) GetSessionByRefreshHash(_ context.Context, refreshTokenHash string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.RefreshTokenHash == refreshTokenHash {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, apierr.NotFoundf("session not found")
}

func (s *Store) ListActiveSessionsByUser(_ context.Context, userID uuid.UUID, now time.Time) ([]*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.IsUsable(now) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateSessionRotation(_ context.Context, id uuid.UUID, refreshTokenHash string, lastActivityAt time.Time, ipAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id.String()]
	if !ok {
		return apierr.NotFoundf("session not found")
	}
	sess.RefreshTokenHash = refreshTokenHash
	sess.LastActivityAt = lastActivityAt
	sess.IPAddress = ipAddress
	return nil
}

func (s *Store) RevokeSession(_ context.Context, id uuid.UUID, reason store.RevokeReason, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id.String()]
	if !ok {
		return apierr.NotFoundf("session not found")
	}
	sess.RevokedAt = &at
	sess.RevokeReason = reason
	return nil
}

func (s *Store) RevokeSessionsByFamily(_ context.Context, tokenFamily string, reason store.RevokeReason, at time.Time) ([]*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Session
	for _, sess := range s.sessions {
		if sess.TokenFamily == tokenFamily && sess.RevokedAt == nil {
			sess.RevokedAt = &at
			sess.RevokeReason = reason
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) RevokeSessionsByUserExcept(_ context.Context, userID uuid.UUID, exceptID uuid.UUID, reason store.RevokeReason, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ID != exceptID && sess.RevokedAt == nil {
			sess.RevokedAt = &at
			sess.RevokeReason = reason
			n++
		}
	}
	return n, nil
}

func (s *Store) TouchActivity(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id.String()]
	if !ok {
		return apierr.NotFoundf("session not found")
	}
	sess.LastActivityAt = at
	return nil
}

func (s *Store) CreateBlacklistedToken(_ context.Context, t *store.BlacklistedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.blacklist[t.TokenHash] = &cp
	return nil
}

func (s *Store) CreateBlacklistedTokens(_ context.Context, tokens []*store.BlacklistedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		cp := *t
		s.blacklist[t.TokenHash] = &cp
	}
	return nil
}

func (s *Store) IsTokenBlacklisted(_ context.Context, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blacklist[tokenHash]
	return ok, nil
}

func (s *Store) DeleteExpiredBlacklistedTokens(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, t := range s.blacklist {
		if t.ExpiresAt.Before(before) {
			delete(s.blacklist, k)
			n++
		}
	}
	return n, nil
}

func deviceKey(userID uuid.UUID, fingerprint string) string {
	return userID.String() + ":" + fingerprint
}

func (s *Store) GetDeviceByFingerprint(_ context.Context, userID uuid.UUID, fingerprint string) (*store.UserDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceKey(userID, fingerprint)]
	if !ok {
		return nil, apierr.NotFoundf("device not found")
	}
	cp := *d
	return &cp, nil
}

func (s *Store) CreateDevice(_ context.Context, d *store.UserDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.devices[deviceKey(d.UserID, d.Fingerprint)] = &cp
	return nil
}

func (s *Store) UpdateDeviceLastSeen(_ context.Context, id uuid.UUID, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.ID == id {
			d.LastIPAddress = ip
			d.LastUsedAt = at
			return nil
		}
	}
	return apierr.NotFoundf("device not found")
}

func (s *Store) CreateLoginAttempt(_ context.Context, a *store.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.loginAttempts = append(s.loginAttempts, &cp)
	return nil
}
