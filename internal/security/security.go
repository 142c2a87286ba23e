// Package security implements the Security Events Service (§4.N): the
// alert lifecycle state machine, paginated listing, stats, a
// short-lived cached dashboard summary, and notification subscriptions.
package security

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/store"
)

const (
	dashboardCacheKey = "security:dashboard:summary"
	dashboardCacheTTL = 60 * time.Second
	topAlertTypeLimit = 3
	recentAlertLimit  = 5
)

type Service struct {
	store store.SecurityStore
	cache cache.Cache
	audit audit.Sink
	clock clock.Clock
}

func NewService(st store.SecurityStore, c cache.Cache, auditSink audit.Sink, clk clock.Clock) *Service {
	return &Service{store: st, cache: c, audit: auditSink, clock: clk}
}

// CreateAlertParams is the request shape of CreateAlert. The login
// lockout path in authsvc does not go through it; it writes its
// ACCOUNT_LOCKED alert to the store directly.
type CreateAlertParams struct {
	UserID      *uuid.UUID
	Type        store.AlertType
	Severity    store.AlertSeverity
	Title       string
	Description string
	Metadata    map[string]any
	IPAddress   string
}

func (s *Service) CreateAlert(ctx context.Context, p CreateAlertParams) (*store.SecurityAlert, error) {
	alert := &store.SecurityAlert{
		ID: uuid.New(), UserID: p.UserID, Type: p.Type, Severity: p.Severity, Status: store.AlertActive,
		Title: p.Title, Description: p.Description, Metadata: p.Metadata, IPAddress: p.IPAddress, CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	_ = s.cache.Delete(ctx, dashboardCacheKey)
	s.audit.Log(ctx, audit.EventSecurityAlertCreated, audit.Params{
		UserID: p.UserID, TargetType: "alert", TargetID: alert.ID.String(), IPAddress: p.IPAddress,
	})
	return alert, nil
}

func (s *Service) transition(ctx context.Context, alertID uuid.UUID, from []store.AlertStatus, to store.AlertStatus, apply func(*store.SecurityAlert)) (*store.SecurityAlert, error) {
	alert, err := s.store.GetAlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, f := range from {
		if alert.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apierr.BadRequestf("cannot transition alert from %s to %s", alert.Status, to)
	}
	alert.Status = to
	apply(alert)
	if err := s.store.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Acknowledge moves an active alert to acknowledged.
func (s *Service) Acknowledge(ctx context.Context, alertID, actorID uuid.UUID, notes string) (*store.SecurityAlert, error) {
	now := s.clock.Now()
	alert, err := s.transition(ctx, alertID, []store.AlertStatus{store.AlertActive}, store.AlertAcknowledged, func(a *store.SecurityAlert) {
		a.Metadata = mergeMetadata(a.Metadata, map[string]any{"acknowledgedBy": actorID.String(), "acknowledgedAt": now, "notes": notes})
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.EventSecurityAlertAcknowledged, audit.Params{ActorID: &actorID, TargetType: "alert", TargetID: alertID.String()})
	return alert, nil
}

// Resolve moves an active or acknowledged alert to resolved, a
// terminal state.
func (s *Service) Resolve(ctx context.Context, alertID, actorID uuid.UUID, resolution string, preventionActions []string) (*store.SecurityAlert, error) {
	now := s.clock.Now()
	alert, err := s.transition(ctx, alertID, []store.AlertStatus{store.AlertActive, store.AlertAcknowledged}, store.AlertResolved, func(a *store.SecurityAlert) {
		a.ResolvedAt = &now
		a.ResolvedBy = &actorID
		a.Metadata = mergeMetadata(a.Metadata, map[string]any{
			"resolvedBy": actorID.String(), "resolvedAt": now, "resolution": resolution, "preventionActions": preventionActions,
		})
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.EventSecurityAlertResolved, audit.Params{ActorID: &actorID, TargetType: "alert", TargetID: alertID.String()})
	return alert, nil
}

// Dismiss moves an active or acknowledged alert to dismissed, a
// terminal state.
func (s *Service) Dismiss(ctx context.Context, alertID, actorID uuid.UUID, reason string, falsePositive bool) (*store.SecurityAlert, error) {
	now := s.clock.Now()
	alert, err := s.transition(ctx, alertID, []store.AlertStatus{store.AlertActive, store.AlertAcknowledged}, store.AlertDismissed, func(a *store.SecurityAlert) {
		a.Metadata = mergeMetadata(a.Metadata, map[string]any{
			"dismissedBy": actorID.String(), "dismissedAt": now, "dismissReason": reason, "falsePositive": falsePositive,
		})
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.EventSecurityAlertDismissed, audit.Params{ActorID: &actorID, TargetType: "alert", TargetID: alertID.String()})
	return alert, nil
}

func mergeMetadata(existing map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(extra))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ListParams is the request shape of alert listing. Page and Limit
// default to 1 and 20.
type ListParams struct {
	store.AlertFilter
}

func (s *Service) List(ctx context.Context, p ListParams) ([]*store.SecurityAlert, int, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	alerts, total, err := s.store.ListAlerts(ctx, p.AlertFilter)
	if err != nil {
		return nil, 0, err
	}
	if p.SearchTerm == "" {
		return alerts, total, nil
	}
	term := strings.ToLower(p.SearchTerm)
	var filtered []*store.SecurityAlert
	for _, a := range alerts {
		if strings.Contains(strings.ToLower(a.Title), term) || strings.Contains(strings.ToLower(a.Description), term) {
			filtered = append(filtered, a)
		}
	}
	return filtered, len(filtered), nil
}

func (s *Service) Stats(ctx context.Context, f store.AlertStatsFilter) (store.AlertStats, error) {
	return s.store.AlertStats(ctx, f)
}

// DashboardSummary is the cached security:dashboard:summary projection.
type DashboardSummary struct {
	ActiveCount     int
	CriticalActive  int
	HighActive      int
	AlertsLast24h   int
	AlertsLast7d    int
	TopAlertTypes   []store.AlertTypeCount
	RecentAlerts    []*store.SecurityAlert
	GeneratedAt     time.Time
}

func (s *Service) DashboardSummary(ctx context.Context) (DashboardSummary, error) {
	if raw, ok, err := s.cache.Get(ctx, dashboardCacheKey); err == nil && ok {
		var cached DashboardSummary
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return cached, nil
		}
	}

	now := s.clock.Now()
	stats, err := s.store.AlertStats(ctx, store.AlertStatsFilter{})
	if err != nil {
		return DashboardSummary{}, err
	}
	last24h, err := s.store.CountAlertsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return DashboardSummary{}, err
	}
	last7d, err := s.store.CountAlertsSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return DashboardSummary{}, err
	}
	topTypes, err := s.store.TopAlertTypes(ctx, topAlertTypeLimit)
	if err != nil {
		return DashboardSummary{}, err
	}
	recent, err := s.store.RecentAlerts(ctx, recentAlertLimit)
	if err != nil {
		return DashboardSummary{}, err
	}

	summary := DashboardSummary{
		ActiveCount: stats.ActiveCount, CriticalActive: stats.CriticalActiveCount, HighActive: stats.HighActiveCount,
		AlertsLast24h: last24h, AlertsLast7d: last7d, TopAlertTypes: topTypes, RecentAlerts: recent, GeneratedAt: now,
	}
	if raw, err := json.Marshal(summary); err == nil {
		_ = s.cache.Set(ctx, dashboardCacheKey, string(raw), dashboardCacheTTL)
	}
	return summary, nil
}

// CreateSubscriptionParams is the request shape for subscription
// creation.
type CreateSubscriptionParams struct {
	UserID     uuid.UUID
	Channel    store.NotificationChannel
	Endpoint   string
	EventTypes []string
	Severities []store.AlertSeverity
}

func (s *Service) CreateSubscription(ctx context.Context, p CreateSubscriptionParams) (*store.NotificationSubscription, error) {
	existing, err := s.store.ListSubscriptions(ctx, p.UserID, &p.Channel, nil)
	if err != nil {
		return nil, err
	}
	for _, sub := range existing {
		if sub.Endpoint == p.Endpoint {
			return nil, apierr.Conflictf("a subscription for this channel and endpoint already exists")
		}
	}
	sub := &store.NotificationSubscription{
		ID: uuid.New(), UserID: p.UserID, Channel: p.Channel, Endpoint: p.Endpoint,
		EventTypes: p.EventTypes, Severities: p.Severities, IsActive: true,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.EventNotificationSubscriptionCreated, audit.Params{UserID: &p.UserID, TargetType: "subscription", TargetID: sub.ID.String()})
	return sub, nil
}

func (s *Service) UpdateSubscription(ctx context.Context, sub *store.NotificationSubscription, callerUserID uuid.UUID) error {
	existing, err := s.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		return err
	}
	if existing.UserID != callerUserID {
		return apierr.Forbiddenf("subscription does not belong to caller")
	}
	return s.store.UpdateSubscription(ctx, sub)
}

func (s *Service) DeleteSubscription(ctx context.Context, subscriptionID, callerUserID uuid.UUID) error {
	existing, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if existing.UserID != callerUserID {
		return apierr.Forbiddenf("subscription does not belong to caller")
	}
	if err := s.store.DeleteSubscription(ctx, subscriptionID); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.EventNotificationSubscriptionDeleted, audit.Params{UserID: &callerUserID, TargetType: "subscription", TargetID: subscriptionID.String()})
	return nil
}

func (s *Service) ListSubscriptions(ctx context.Context, userID uuid.UUID, channel *store.NotificationChannel, isActive *bool) ([]*store.NotificationSubscription, error) {
	return s.store.ListSubscriptions(ctx, userID, channel, isActive)
}
