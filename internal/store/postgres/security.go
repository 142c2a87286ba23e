package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

const alertColumns = `id, user_id, type, severity, status, title, description, metadata, ip_address, resolved_at, resolved_by, created_at`

func (s *Store) CreateAlert(ctx context.Context, a *store.SecurityAlert) error {
	meta, err := toJSONB(a.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal alert metadata: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `INSERT INTO security_alerts (id, user_id, type, severity, status, title, description, metadata, ip_address, resolved_at, resolved_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		toPgUUID(a.ID), toPgUUIDPtr(a.UserID), string(a.Type), string(a.Severity), string(a.Status), a.Title, a.Description,
		meta, toPgText(a.IPAddress), toPgTimePtr(a.ResolvedAt), toPgUUIDPtr(a.ResolvedBy), toPgTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create alert: %w", err)
	}
	return nil
}

func (s *Store) GetAlertByID(ctx context.Context, id uuid.UUID) (*store.SecurityAlert, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+alertColumns+` FROM security_alerts WHERE id = $1`, toPgUUID(id))
	return scanAlert(row)
}

func scanAlert(row pgx.Row) (*store.SecurityAlert, error) {
	var (
		id, userID                  pgtype.UUID
		typ, severity, status       string
		title, desc                 string
		metaRaw                     []byte
		ip                          pgtype.Text
		resolvedAt                  pgtype.Timestamptz
		resolvedBy                  pgtype.UUID
		createdAt                   pgtype.Timestamptz
	)
	err := row.Scan(&id, &userID, &typ, &severity, &status, &title, &desc, &metaRaw, &ip, &resolvedAt, &resolvedBy, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("alert not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alert: %w", err)
	}
	var meta map[string]any
	_ = fromJSONB(metaRaw, &meta)
	return &store.SecurityAlert{
		ID: fromPgUUID(id), UserID: fromPgUUIDPtr(userID), Type: store.AlertType(typ), Severity: store.AlertSeverity(severity),
		Status: store.AlertStatus(status), Title: title, Description: desc, Metadata: meta, IPAddress: fromPgText(ip),
		ResolvedAt: fromPgTimePtr(resolvedAt), ResolvedBy: fromPgUUIDPtr(resolvedBy), CreatedAt: createdAt.Time,
	}, nil
}

func (s *Store) UpdateAlert(ctx context.Context, a *store.SecurityAlert) error {
	meta, err := toJSONB(a.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal alert metadata: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `UPDATE security_alerts SET status=$1, metadata=$2, resolved_at=$3, resolved_by=$4 WHERE id=$5`,
		string(a.Status), meta, toPgTimePtr(a.ResolvedAt), toPgUUIDPtr(a.ResolvedBy), toPgUUID(a.ID))
	if err != nil {
		return fmt.Errorf("postgres: update alert: %w", err)
	}
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, f store.AlertFilter) ([]*store.SecurityAlert, int, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.UserID != nil {
		where = append(where, "user_id = "+arg(toPgUUID(*f.UserID)))
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		where = append(where, "type = ANY("+arg(types)+")")
	}
	if len(f.Severities) > 0 {
		sevs := make([]string, len(f.Severities))
		for i, sv := range f.Severities {
			sevs[i] = string(sv)
		}
		where = append(where, "severity = ANY("+arg(sevs)+")")
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if f.From != nil {
		where = append(where, "created_at >= "+arg(toPgTime(*f.From)))
	}
	if f.To != nil {
		where = append(where, "created_at <= "+arg(toPgTime(*f.To)))
	}
	if f.IPAddress != "" {
		where = append(where, "ip_address = "+arg(f.IPAddress))
	}
	if f.SearchTerm != "" {
		where = append(where, "(title ILIKE "+arg("%"+f.SearchTerm+"%")+" OR description ILIKE "+arg("%"+f.SearchTerm+"%")+")")
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := s.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM security_alerts WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count alerts: %w", err)
	}

	limit, page := f.Limit, f.Page
	if limit <= 0 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	limitArg, offsetArg := arg(limit), arg(offset)
	rows, err := s.db(ctx).Query(ctx, `SELECT `+alertColumns+` FROM security_alerts WHERE `+whereSQL+` ORDER BY created_at DESC OFFSET `+offsetArg+` LIMIT `+limitArg, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()
	var out []*store.SecurityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *Store) AlertStats(ctx context.Context, f store.AlertStatsFilter) (store.AlertStats, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.From != nil {
		where = append(where, "created_at >= "+arg(toPgTime(*f.From)))
	}
	if f.To != nil {
		where = append(where, "created_at <= "+arg(toPgTime(*f.To)))
	}
	if f.UserID != nil {
		where = append(where, "user_id = "+arg(toPgUUID(*f.UserID)))
	}
	whereSQL := strings.Join(where, " AND ")

	var st store.AlertStats
	row := s.db(ctx).QueryRow(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE status = 'active'),
		COUNT(*) FILTER (WHERE status = 'acknowledged'),
		COUNT(*) FILTER (WHERE status = 'resolved'),
		COUNT(*) FILTER (WHERE status = 'dismissed'),
		COUNT(*) FILTER (WHERE status = 'active' AND severity = 'critical'),
		COUNT(*) FILTER (WHERE status = 'active' AND severity = 'high')
		FROM security_alerts WHERE `+whereSQL, args...)
	if err := row.Scan(&st.TotalCount, &st.ActiveCount, &st.AcknowledgedCount, &st.ResolvedCount, &st.DismissedCount, &st.CriticalActiveCount, &st.HighActiveCount); err != nil {
		return store.AlertStats{}, fmt.Errorf("postgres: scan alert stats: %w", err)
	}

	typeRows, err := s.db(ctx).Query(ctx, `SELECT type, COUNT(*) FROM security_alerts WHERE `+whereSQL+` GROUP BY type ORDER BY COUNT(*) DESC`, args...)
	if err != nil {
		return store.AlertStats{}, fmt.Errorf("postgres: alert stats by type: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var tc store.AlertTypeCount
		var typ string
		if err := typeRows.Scan(&typ, &tc.Count); err != nil {
			return store.AlertStats{}, fmt.Errorf("postgres: scan alert type count: %w", err)
		}
		tc.Type = store.AlertType(typ)
		st.ByType = append(st.ByType, tc)
	}

	sevRows, err := s.db(ctx).Query(ctx, `SELECT severity, COUNT(*) FROM security_alerts WHERE `+whereSQL+` GROUP BY severity ORDER BY COUNT(*) DESC`, args...)
	if err != nil {
		return store.AlertStats{}, fmt.Errorf("postgres: alert stats by severity: %w", err)
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var sc store.AlertSeverityCount
		var sev string
		if err := sevRows.Scan(&sev, &sc.Count); err != nil {
			return store.AlertStats{}, fmt.Errorf("postgres: scan alert severity count: %w", err)
		}
		sc.Severity = store.AlertSeverity(sev)
		st.BySeverity = append(st.BySeverity, sc)
	}
	return st, nil
}

func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]*store.SecurityAlert, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT `+alertColumns+` FROM security_alerts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent alerts: %w", err)
	}
	defer rows.Close()
	var out []*store.SecurityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CountAlertsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM security_alerts WHERE created_at >= $1`, toPgTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count alerts since: %w", err)
	}
	return n, nil
}

func (s *Store) TopAlertTypes(ctx context.Context, limit int) ([]store.AlertTypeCount, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT type, COUNT(*) c FROM security_alerts GROUP BY type ORDER BY c DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top alert types: %w", err)
	}
	defer rows.Close()
	var out []store.AlertTypeCount
	for rows.Next() {
		var tc store.AlertTypeCount
		var typ string
		if err := rows.Scan(&typ, &tc.Count); err != nil {
			return nil, fmt.Errorf("postgres: scan top alert type: %w", err)
		}
		tc.Type = store.AlertType(typ)
		out = append(out, tc)
	}
	return out, rows.Err()
}

func (s *Store) CreateSubscription(ctx context.Context, sub *store.NotificationSubscription) error {
	eventTypes, err := toJSONB(sub.EventTypes)
	if err != nil {
		return fmt.Errorf("postgres: marshal event types: %w", err)
	}
	severities, err := toJSONB(sub.Severities)
	if err != nil {
		return fmt.Errorf("postgres: marshal severities: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `INSERT INTO notification_subscriptions (id, user_id, channel, endpoint, event_types, severities, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		toPgUUID(sub.ID), toPgUUID(sub.UserID), string(sub.Channel), sub.Endpoint, eventTypes, severities, sub.IsActive)
	if err != nil {
		return fmt.Errorf("postgres: create subscription: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, user_id, channel, endpoint, event_types, severities, is_active`

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*store.NotificationSubscription, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM notification_subscriptions WHERE id = $1`, toPgUUID(id))
	return scanSubscription(row)
}

func scanSubscription(row pgx.Row) (*store.NotificationSubscription, error) {
	var (
		id, userID     pgtype.UUID
		channel        string
		endpoint       string
		eventTypesRaw  []byte
		severitiesRaw  []byte
		isActive       bool
	)
	err := row.Scan(&id, &userID, &channel, &endpoint, &eventTypesRaw, &severitiesRaw, &isActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFoundf("subscription not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan subscription: %w", err)
	}
	var eventTypes []string
	var severities []store.AlertSeverity
	_ = fromJSONB(eventTypesRaw, &eventTypes)
	_ = fromJSONB(severitiesRaw, &severities)
	return &store.NotificationSubscription{
		ID: fromPgUUID(id), UserID: fromPgUUID(userID), Channel: store.NotificationChannel(channel),
		Endpoint: endpoint, EventTypes: eventTypes, Severities: severities, IsActive: isActive,
	}, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *store.NotificationSubscription) error {
	eventTypes, err := toJSONB(sub.EventTypes)
	if err != nil {
		return fmt.Errorf("postgres: marshal event types: %w", err)
	}
	severities, err := toJSONB(sub.Severities)
	if err != nil {
		return fmt.Errorf("postgres: marshal severities: %w", err)
	}
	_, err = s.db(ctx).Exec(ctx, `UPDATE notification_subscriptions SET endpoint=$1, event_types=$2, severities=$3, is_active=$4 WHERE id=$5`,
		sub.Endpoint, eventTypes, severities, sub.IsActive, toPgUUID(sub.ID))
	if err != nil {
		return fmt.Errorf("postgres: update subscription: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM notification_subscriptions WHERE id = $1`, toPgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: delete subscription: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, userID uuid.UUID, channel *store.NotificationChannel, isActive *bool) ([]*store.NotificationSubscription, error) {
	where := []string{"user_id = $1"}
	args := []any{toPgUUID(userID)}
	if channel != nil {
		args = append(args, string(*channel))
		where = append(where, fmt.Sprintf("channel = $%d", len(args)))
	}
	if isActive != nil {
		args = append(args, *isActive)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	rows, err := s.db(ctx).Query(ctx, `SELECT `+subscriptionColumns+` FROM notification_subscriptions WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions: %w", err)
	}
	defer rows.Close()
	var out []*store.NotificationSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
