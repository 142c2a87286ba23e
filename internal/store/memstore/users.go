package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id.String()]
	if !ok {
		return nil, apierr.NotFoundf("user not found")
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apierr.NotFoundf("user not found")
}

func (s *Store) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID.String()]
	if !ok {
		return apierr.NotFoundf("user not found")
	}
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = &changedAt
	u.UpdatedAt = changedAt
	return nil
}

// PutUser seeds a user record; exported for test fixtures only.
func (s *Store) PutUser(u *store.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID.String()] = &cp
}
