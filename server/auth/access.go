package auth

import (
	"context"
	"log/slog"
)

// MembershipChecker answers active team membership. *store.Store satisfies it.
type MembershipChecker interface {
	IsActiveTeamMember(ctx context.Context, teamID, userID int64) (bool, error)
}

// CanAccessUser reports whether p may read data addressed to targetUserID.
func CanAccessUser(p *Principal, targetUserID int64) bool {
	return p.UserID == targetUserID || p.IsElevated()
}

// CanAccessTeamPlanning reports whether p may follow planning runs of teamID.
// A failed membership lookup denies access.
func CanAccessTeamPlanning(ctx context.Context, members MembershipChecker, p *Principal, teamID int64) bool {
	if p.CanPlan() {
		return true
	}
	return isMember(ctx, members, p, teamID)
}

// CanAccessTeam reports whether p may follow assignment updates of teamID.
func CanAccessTeam(ctx context.Context, members MembershipChecker, p *Principal, teamID int64) bool {
	if p.IsElevated() {
		return true
	}
	return isMember(ctx, members, p, teamID)
}

func isMember(ctx context.Context, members MembershipChecker, p *Principal, teamID int64) bool {
	ok, err := members.IsActiveTeamMember(ctx, teamID, p.UserID)
	if err != nil {
		slog.Warn("membership lookup failed, denying access",
			slog.Int64("user_id", p.UserID),
			slog.Int64("team_id", teamID),
			slog.String("error", err.Error()))
		return false
	}
	return ok
}
