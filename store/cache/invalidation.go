package cache

import (
	"context"
)

// Invalidator maps domain changes to the cache entries they make stale.
// Writers call it after their transaction commits and before publishing events.
type Invalidator struct {
	cache *Service
}

func NewInvalidator(cache *Service) *Invalidator {
	return &Invalidator{cache: cache}
}

// OnUserUpdated drops everything derived from the user, plus system stats.
func (i *Invalidator) OnUserUpdated(ctx context.Context, userID int64) {
	i.cache.InvalidateAll(ctx, userID)
	i.cache.Invalidate(ctx, GlobalKey(NamespaceSystemStats))
}

// OnTeamMembershipChanged drops the member's team list and dashboards plus the team's stats.
func (i *Invalidator) OnTeamMembershipChanged(ctx context.Context, teamID, userID int64) {
	i.cache.InvalidateAll(ctx, userID)
	i.cache.Invalidate(ctx, GlobalKey(TeamStatsNamespace(teamID)))
}

// OnAssignmentChanged drops the dashboards of the affected users, the stats of
// the owning team and the system stats.
func (i *Invalidator) OnAssignmentChanged(ctx context.Context, teamID int64, userIDs ...int64) {
	for _, userID := range userIDs {
		i.cache.InvalidateAll(ctx, userID)
	}
	if teamID != 0 {
		i.cache.Invalidate(ctx, GlobalKey(TeamStatsNamespace(teamID)))
	}
	i.cache.Invalidate(ctx, GlobalKey(NamespaceSystemStats))
}

// OnLeaveRequestChanged flushes all dashboards: pending leave counts appear on
// every manager's dashboard.
func (i *Invalidator) OnLeaveRequestChanged(ctx context.Context) {
	i.cache.Flush(ctx)
}
