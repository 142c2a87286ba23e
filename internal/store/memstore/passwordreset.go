package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) InvalidateActiveResetTokens(_ context.Context, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.resetTokens {
		if t.UserID == userID && t.UsedAt == nil && t.ExpiresAt.After(at) {
			t.UsedAt = &at
		}
	}
	return nil
}

func (s *Store) CreatePasswordResetToken(_ context.Context, t *store.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.resetTokens[t.TokenHash] = &cp
	return nil
}

func (s *Store) GetPasswordResetTokenByHash(_ context.Context, tokenHash string) (*store.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.resetTokens[tokenHash]
	if !ok {
		return nil, apierr.NotFoundf("reset token not found")
	}
	cp := *t
	return &cp, nil
}

func (s *Store) MarkPasswordResetTokenUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.resetTokens {
		if t.ID == id {
			t.UsedAt = &at
			return nil
		}
	}
	return apierr.NotFoundf("reset token not found")
}

func (s *Store) ListPasswordHistory(_ context.Context, userID uuid.UUID) ([]*store.PasswordHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]*store.PasswordHistoryEntry{}, s.passwordHistory[userID.String()]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) PushPasswordHistory(_ context.Context, e *store.PasswordHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.passwordHistory[e.UserID.String()] = append(s.passwordHistory[e.UserID.String()], &cp)
	return nil
}

func (s *Store) TrimPasswordHistory(_ context.Context, userID uuid.UUID, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.passwordHistory[userID.String()]
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if len(entries) > keep {
		entries = entries[:keep]
	}
	s.passwordHistory[userID.String()] = entries
	return nil
}
