package session

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// View is the transformed, caller-safe projection of a Session row.
type View struct {
	ID             uuid.UUID
	MaskedIP       string
	Device         DeviceInfo
	Location       string
	IsCurrent      bool
	IsRemembered   bool
	LastActivityAt string
	CreatedAt      string
}

// ListSessions returns the caller's active sessions sorted by most
// recently active first.
func (s *Service) ListSessions(ctx context.Context, userID, currentSessionID uuid.UUID) ([]View, error) {
	now := s.clock.Now()
	sessions, err := s.store.ListActiveSessionsByUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].LastActivityAt.After(sessions[j].LastActivityAt) })

	views := make([]View, 0, len(sessions))
	for _, sess := range sessions {
		location := ""
		if sess.GeoCity != "" || sess.GeoCountry != "" {
			location = sess.GeoCity
			if sess.GeoCountry != "" {
				if location != "" {
					location += ", "
				}
				location += sess.GeoCountry
			}
		}
		views = append(views, View{
			ID:             sess.ID,
			MaskedIP:       MaskIP(sess.IPAddress),
			Device:         ParseUserAgent(sess.UserAgent),
			Location:       location,
			IsCurrent:      sess.ID == currentSessionID,
			IsRemembered:   sess.IsRemembered,
			LastActivityAt: sess.LastActivityAt.Format(time.RFC3339),
			CreatedAt:      sess.CreatedAt.Format(time.RFC3339),
		})
	}
	return views, nil
}
