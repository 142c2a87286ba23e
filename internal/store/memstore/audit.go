package memstore

import (
	"context"

	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) CreateAuditEvent(_ context.Context, e *store.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.auditEvents = append(s.auditEvents, &cp)
	return nil
}

// Events returns a snapshot of recorded events; exported for test assertions only.
func (s *Store) Events() []*store.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.AuditEvent, len(s.auditEvents))
	copy(out, s.auditEvents)
	return out
}
