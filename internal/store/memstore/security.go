package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/store"
)

func (s *Store) CreateAlert(_ context.Context, a *store.SecurityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID.String()] = &cp
	return nil
}

func (s *Store) GetAlertByID(_ context.Context, id uuid.UUID) (*store.SecurityAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id.String()]
	if !ok {
		return nil, apierr.NotFoundf("alert not found")
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpdateAlert(_ context.Context, a *store.SecurityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.alerts[a.ID.String()]
	if !ok {
		return apierr.NotFoundf("alert not found")
	}
	existing.Status = a.Status
	existing.Metadata = a.Metadata
	existing.ResolvedAt = a.ResolvedAt
	existing.ResolvedBy = a.ResolvedBy
	return nil
}

func matchAlert(a *store.SecurityAlert, f store.AlertFilter) bool {
	if f.UserID != nil && (a.UserID == nil || *a.UserID != *f.UserID) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if a.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Severities) > 0 {
		found := false
		for _, sv := range f.Severities {
			if a.Severity == sv {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if a.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && a.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && a.CreatedAt.After(*f.To) {
		return false
	}
	if f.IPAddress != "" && a.IPAddress != f.IPAddress {
		return false
	}
	return true
}

func (s *Store) ListAlerts(_ context.Context, f store.AlertFilter) ([]*store.SecurityAlert, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*store.SecurityAlert
	for _, a := range s.alerts {
		if matchAlert(a, f) {
			cp := *a
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	limit, page := f.Limit, f.Page
	if limit <= 0 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) AlertStats(_ context.Context, f store.AlertStatsFilter) (store.AlertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st store.AlertStats
	typeCounts := map[store.AlertType]int{}
	sevCounts := map[store.AlertSeverity]int{}
	for _, a := range s.alerts {
		if f.UserID != nil && (a.UserID == nil || *a.UserID != *f.UserID) {
			continue
		}
		if f.From != nil && a.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && a.CreatedAt.After(*f.To) {
			continue
		}
		st.TotalCount++
		switch a.Status {
		case store.AlertActive:
			st.ActiveCount++
			if a.Severity == store.SeverityCritical {
				st.CriticalActiveCount++
			}
			if a.Severity == store.SeverityHigh {
				st.HighActiveCount++
			}
		case store.AlertAcknowledged:
			st.AcknowledgedCount++
		case store.AlertResolved:
			st.ResolvedCount++
		case store.AlertDismissed:
			st.DismissedCount++
		}
		typeCounts[a.Type]++
		sevCounts[a.Severity]++
	}
	for t, c := range typeCounts {
		st.ByType = append(st.ByType, store.AlertTypeCount{Type: t, Count: c})
	}
	for sv, c := range sevCounts {
		st.BySeverity = append(st.BySeverity, store.AlertSeverityCount{Severity: sv, Count: c})
	}
	sort.Slice(st.ByType, func(i, j int) bool { return st.ByType[i].Count > st.ByType[j].Count })
	sort.Slice(st.BySeverity, func(i, j int) bool { return st.BySeverity[i].Count > st.BySeverity[j].Count })
	return st, nil
}

func (s *Store) RecentAlerts(_ context.Context, limit int) ([]*store.SecurityAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*store.SecurityAlert
	for _, a := range s.alerts {
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) CountAlertsSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) TopAlertTypes(_ context.Context, limit int) ([]store.AlertTypeCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[store.AlertType]int{}
	for _, a := range s.alerts {
		counts[a.Type]++
	}
	var out []store.AlertTypeCount
	for t, c := range counts {
		out = append(out, store.AlertTypeCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateSubscription(_ context.Context, sub *store.NotificationSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subscriptions[sub.ID.String()] = &cp
	return nil
}

func (s *Store) GetSubscription(_ context.Context, id uuid.UUID) (*store.NotificationSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id.String()]
	if !ok {
		return nil, apierr.NotFoundf("subscription not found")
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *store.NotificationSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subscriptions[sub.ID.String()]
	if !ok {
		return apierr.NotFoundf("subscription not found")
	}
	existing.Endpoint = sub.Endpoint
	existing.EventTypes = sub.EventTypes
	existing.Severities = sub.Severities
	existing.IsActive = sub.IsActive
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, id.String())
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, userID uuid.UUID, channel *store.NotificationChannel, isActive *bool) ([]*store.NotificationSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.NotificationSubscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if channel != nil && sub.Channel != *channel {
			continue
		}
		if isActive != nil && sub.IsActive != *isActive {
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	return out, nil
}
