package postgres

import (
	"context"
	"fmt"

	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) CreateAuditEvent(ctx context.Context, e *store.AuditEvent) error {
	meta, err := toJSONB(e.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit metadata: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `INSERT INTO audit_events (id, event_type, user_id, actor_id, target_type, target_id, ip_address, user_agent, correlation_id, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		toPgUUID(e.ID), e.EventType, toPgUUIDPtr(e.UserID), toPgUUIDPtr(e.ActorID), toPgText(e.TargetType), toPgText(e.TargetID),
		toPgText(e.IPAddress), toPgText(e.UserAgent), toPgText(e.CorrelationID), meta, toPgTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create audit event: %w", err)
	}
	return nil
}
