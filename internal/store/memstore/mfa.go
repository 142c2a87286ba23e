package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) GetMfaConfiguration(_ context.Context, userID uuid.UUID) (*store.MfaConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.mfaConfigs[userID.String()]
	if !ok {
		return nil, apierr.NotFoundf("mfa configuration not found")
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpsertMfaConfiguration(_ context.Context, c *store.MfaConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.mfaConfigs[c.UserID.String()] = &cp
	return nil
}

func (s *Store) DeleteMfaConfiguration(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mfaConfigs, userID.String())
	return nil
}

func (s *Store) CreateMfaChallenge(_ context.Context, c *store.MfaChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.mfaChallenges[c.ChallengeToken] = &cp
	return nil
}

func (s *Store) GetMfaChallengeByToken(_ context.Context, token string) (*store.MfaChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.mfaChallenges[token]
	if !ok {
		return nil, apierr.NotFoundf("challenge not found")
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateMfaChallenge(_ context.Context, c *store.MfaChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.mfaChallenges[c.ChallengeToken]
	if !ok {
		return apierr.NotFoundf("challenge not found")
	}
	existing.Attempts = c.Attempts
	existing.CompletedAt = c.CompletedAt
	return nil
}

func (s *Store) DeleteMfaChallenge(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.mfaChallenges {
		if c.ID == id {
			delete(s.mfaChallenges, k)
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteExpiredChallengesForUser(_ context.Context, userID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.mfaChallenges {
		if c.UserID == userID && now.After(c.ExpiresAt) {
			delete(s.mfaChallenges, k)
		}
	}
	return nil
}

func (s *Store) DeleteChallengesForUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.mfaChallenges {
		if c.UserID == userID {
			delete(s.mfaChallenges, k)
		}
	}
	return nil
}

func (s *Store) CreateBackupCodes(_ context.Context, codes []*store.MfaBackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range codes {
		cp := *c
		s.backupCodes[c.ID.String()] = &cp
	}
	return nil
}

func (s *Store) DeleteBackupCodes(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.backupCodes {
		if c.UserID == userID {
			delete(s.backupCodes, k)
		}
	}
	return nil
}

func (s *Store) ListUnusedBackupCodes(_ context.Context, userID uuid.UUID) ([]*store.MfaBackupCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.MfaBackupCode
	for _, c := range s.backupCodes {
		if c.UserID == userID && c.UsedAt == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListUsedBackupCodes(_ context.Context, userID uuid.UUID, offset, limit int) ([]*store.MfaBackupCode, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*store.MfaBackupCode
	for _, c := range s.backupCodes {
		if c.UserID == userID && c.UsedAt != nil {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UsedAt.After(*all[j].UsedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) MarkBackupCodeUsed(_ context.Context, id uuid.UUID, ip, ua string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.backupCodes[id.String()]
	if !ok {
		return apierr.NotFoundf("backup code not found")
	}
	c.UsedAt = &at
	c.UsedIPAddress = ip
	c.UsedUserAgent = ua
	return nil
}

func (s *Store) CountUnusedBackupCodes(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.backupCodes {
		if c.UserID == userID && c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}
