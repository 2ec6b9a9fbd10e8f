// Package dashboard computes dashboard read models from store aggregates and
// assembles them concurrently behind the cache.
//
// Every aggregation issues a fixed number of store calls, whatever the number
// of rows or teams involved.
package dashboard

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tps/server/timezone"
	"github.com/hrygo/tps/store"
)

const (
	// DefaultWorkloadWindowDays is the team workload window on each side of today.
	DefaultWorkloadWindowDays = 30
	// DefaultAnalysisDays is the user workload window on each side of today.
	DefaultAnalysisDays = 30

	systemHealthDays  = 7
	upcomingShiftDays = 7
	upcomingLimit     = 5
)

// Store is the read surface the aggregations need. *store.Store satisfies it.
type Store interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	ListTeams(ctx context.Context, find *store.FindTeam) ([]*store.Team, error)
	GetUserAssignmentStats(ctx context.Context, find *store.FindUserAssignmentStats) (*store.UserAssignmentStats, error)
	ListUpcomingShifts(ctx context.Context, find *store.FindUpcomingShifts) ([]*store.UpcomingShift, error)
	ListTeamWorkloadStats(ctx context.Context, find *store.FindTeamWorkload) ([]*store.TeamWorkloadStats, error)
	GetAssignmentHealth(ctx context.Context, sinceTs int64) (*store.AssignmentHealth, error)
	GetUserEngagement(ctx context.Context, sinceTs int64) (*store.UserEngagement, error)
	GetTeamUtilization(ctx context.Context, sinceTs int64) (*store.TeamUtilization, error)
	CountPendingLeaveRequests(ctx context.Context) (int, error)
	GetUserWorkloadStats(ctx context.Context, find *store.FindUserWorkload) (*store.UserWorkloadStats, error)
}

type AssignmentStats struct {
	TotalAssignments     int `json:"total_assignments"`
	ThisWeekAssignments  int `json:"this_week_assignments"`
	UpcomingAssignments  int `json:"upcoming_assignments"`
	CompletedAssignments int `json:"completed_assignments"`
	PendingConfirmations int `json:"pending_confirmations"`
}

type UpcomingShift struct {
	AssignmentID int64     `json:"assignment_id"`
	ShiftID      int64     `json:"shift_id"`
	ShiftName    string    `json:"shift_name"`
	TeamID       int64     `json:"team_id"`
	Status       string    `json:"status"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// UserDashboard is the personal part of a dashboard.
type UserDashboard struct {
	AssignmentStats AssignmentStats `json:"assignment_stats"`
	UpcomingShifts  []UpcomingShift `json:"upcoming_shifts"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

type Team struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	TeamLeaderID *int64 `json:"team_leader_id,omitempty"`
}

type TeamWorkload struct {
	TeamID               int64   `json:"team_id"`
	TotalAssignments     int     `json:"total_assignments"`
	ConfirmedAssignments int     `json:"confirmed_assignments"`
	PendingAssignments   int     `json:"pending_assignments"`
	CompletedAssignments int     `json:"completed_assignments"`
	CancelledAssignments int     `json:"cancelled_assignments"`
	UniqueUsers          int     `json:"unique_users"`
	SuccessRate          float64 `json:"success_rate"`
}

type SystemHealth struct {
	SuccessRate           float64   `json:"success_rate"`
	TotalAssignmentsWeek  int       `json:"total_assignments_week"`
	FailedAssignmentsWeek int       `json:"failed_assignments_week"`
	PendingAssignments    int       `json:"pending_assignments"`
	AutoAssignmentRate    float64   `json:"auto_assignment_rate"`
	ForcedAssignmentRate  float64   `json:"forced_assignment_rate"`
	UserEngagementRate    float64   `json:"user_engagement_rate"`
	TeamUtilizationRate   float64   `json:"team_utilization_rate"`
	TotalActiveUsers      int       `json:"total_active_users"`
	UsersWithAssignments  int       `json:"users_with_assignments"`
	TotalTeams            int       `json:"total_teams"`
	TeamsWithAssignments  int       `json:"teams_with_assignments"`
	PendingLeaveRequests  int       `json:"pending_leave_requests"`
	CalculatedAt          time.Time `json:"calculated_at"`
}

type AnalysisPeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Days      int    `json:"days"`
}

type WorkloadAnalysis struct {
	UserID                int64          `json:"user_id"`
	TotalAssignments      int            `json:"total_assignments"`
	PastAssignments       int            `json:"past_assignments"`
	FutureAssignments     int            `json:"future_assignments"`
	WeekendAssignments    int            `json:"weekend_assignments"`
	NightAssignments      int            `json:"night_assignments"`
	WaakdienstAssignments int            `json:"waakdienst_assignments"`
	IncidentAssignments   int            `json:"incident_assignments"`
	WeekendPercentage     float64        `json:"weekend_percentage"`
	NightPercentage       float64        `json:"night_percentage"`
	WorkloadIntensity     float64        `json:"workload_intensity"`
	BalanceScore          float64        `json:"balance_score"`
	AnalysisPeriod        AnalysisPeriod `json:"analysis_period"`
}

// Aggregator turns store aggregates into read models. It holds no state
// besides its collaborators and is safe for concurrent use.
type Aggregator struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

// NewAggregator returns an aggregator computing calendar boundaries in loc.
func NewAggregator(st Store, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = timezone.UTC
	}
	return &Aggregator{store: st, loc: loc, now: time.Now}
}

// UserDashboard returns assignment counters and the next shifts of a user.
// It issues two store calls.
func (a *Aggregator) UserDashboard(ctx context.Context, userID int64) (*UserDashboard, error) {
	now := a.now()
	today := timezone.StartOfDay(now, a.loc)
	weekStart := timezone.WeekStart(now, a.loc)
	weekEnd := weekStart.AddDate(0, 0, 7).Add(-time.Second)

	stats, err := a.store.GetUserAssignmentStats(ctx, &store.FindUserAssignmentStats{
		UserID:      userID,
		WeekStartTs: weekStart.Unix(),
		WeekEndTs:   weekEnd.Unix(),
		NowTs:       today.Unix(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get assignment stats")
	}

	upcoming, err := a.store.ListUpcomingShifts(ctx, &store.FindUpcomingShifts{
		UserID: userID,
		FromTs: now.Unix(),
		ToTs:   now.AddDate(0, 0, upcomingShiftDays).Unix(),
		Limit:  upcomingLimit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list upcoming shifts")
	}

	shifts := make([]UpcomingShift, 0, len(upcoming))
	for _, s := range upcoming {
		shifts = append(shifts, UpcomingShift{
			AssignmentID: s.AssignmentID,
			ShiftID:      s.ShiftID,
			ShiftName:    s.ShiftName,
			TeamID:       s.TeamID,
			Status:       string(s.Status),
			Start:        time.Unix(s.StartTs, 0).In(a.loc),
			End:          time.Unix(s.EndTs, 0).In(a.loc),
		})
	}

	return &UserDashboard{
		AssignmentStats: AssignmentStats{
			TotalAssignments:     stats.TotalAssignments,
			ThisWeekAssignments:  stats.ThisWeekAssignments,
			UpcomingAssignments:  stats.UpcomingAssignments,
			CompletedAssignments: stats.CompletedAssignments,
			PendingConfirmations: stats.PendingConfirmations,
		},
		UpcomingShifts: shifts,
		GeneratedAt:    now.UTC(),
	}, nil
}

// UserTeams returns the active teams the user actively belongs to.
func (a *Aggregator) UserTeams(ctx context.Context, userID int64) ([]Team, error) {
	teams, err := a.store.ListTeams(ctx, &store.FindTeam{MemberUserID: &userID, ActiveOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user teams")
	}
	out := make([]Team, 0, len(teams))
	for _, t := range teams {
		out = append(out, Team{ID: t.ID, Name: t.Name, Description: t.Description, TeamLeaderID: t.TeamLeaderID})
	}
	return out, nil
}

// TeamWorkloadStats returns one entry per requested team, zero-filled for
// teams without assignments in the window. A zero window defaults to thirty
// days on each side of today.
func (a *Aggregator) TeamWorkloadStats(ctx context.Context, teamIDs []int64, window timezone.Window) (map[int64]TeamWorkload, error) {
	out := make(map[int64]TeamWorkload, len(teamIDs))
	if len(teamIDs) == 0 {
		return out, nil
	}
	if window.Start.IsZero() || window.End.IsZero() {
		window = timezone.Around(a.now(), DefaultWorkloadWindowDays, a.loc)
	}

	from, to := window.Unix()
	rows, err := a.store.ListTeamWorkloadStats(ctx, &store.FindTeamWorkload{TeamIDs: teamIDs, FromTs: from, ToTs: to})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list team workload")
	}
	for _, r := range rows {
		out[r.TeamID] = TeamWorkload{
			TeamID:               r.TeamID,
			TotalAssignments:     r.TotalAssignments,
			ConfirmedAssignments: r.ConfirmedAssignments,
			PendingAssignments:   r.PendingAssignments,
			CompletedAssignments: r.CompletedAssignments,
			CancelledAssignments: r.CancelledAssignments,
			UniqueUsers:          r.UniqueUsers,
			SuccessRate:          percentage(r.CompletedAssignments, r.TotalAssignments, 0),
		}
	}
	for _, id := range teamIDs {
		if _, ok := out[id]; !ok {
			out[id] = TeamWorkload{TeamID: id}
		}
	}
	return out, nil
}

// SystemHealth returns system-wide metrics over the last seven days. It issues
// four store calls.
func (a *Aggregator) SystemHealth(ctx context.Context) (*SystemHealth, error) {
	now := a.now()
	since := timezone.StartOfDay(now, a.loc).AddDate(0, 0, -systemHealthDays).Unix()

	health, err := a.store.GetAssignmentHealth(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get assignment health")
	}
	engagement, err := a.store.GetUserEngagement(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user engagement")
	}
	utilization, err := a.store.GetTeamUtilization(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get team utilization")
	}
	pendingLeaves, err := a.store.CountPendingLeaveRequests(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count pending leave requests")
	}

	total := health.TotalAssignments
	return &SystemHealth{
		SuccessRate:           round(percentage(health.SuccessfulAssignments, total, 100), 1),
		TotalAssignmentsWeek:  total,
		FailedAssignmentsWeek: health.FailedAssignments,
		PendingAssignments:    health.PendingAssignments,
		AutoAssignmentRate:    percentage(health.AutoAssigned, total, 0),
		ForcedAssignmentRate:  percentage(health.ForceAssigned, total, 0),
		UserEngagementRate:    percentage(engagement.UsersWithAssignments, engagement.TotalActiveUsers, 0),
		TeamUtilizationRate:   percentage(utilization.TeamsWithAssignments, utilization.TotalTeams, 0),
		TotalActiveUsers:      engagement.TotalActiveUsers,
		UsersWithAssignments:  engagement.UsersWithAssignments,
		TotalTeams:            utilization.TotalTeams,
		TeamsWithAssignments:  utilization.TeamsWithAssignments,
		PendingLeaveRequests:  pendingLeaves,
		CalculatedAt:          now.UTC(),
	}, nil
}

// UserWorkloadAnalysis analyses the assignments of a user within days on each
// side of today. days <= 0 selects the default window. An unknown user yields
// an error wrapping store.ErrNotFound.
func (a *Aggregator) UserWorkloadAnalysis(ctx context.Context, userID int64, days int) (*WorkloadAnalysis, error) {
	if days <= 0 {
		days = DefaultAnalysisDays
	}
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, errors.Wrapf(err, "failed to get user %d", userID)
	}

	now := a.now()
	window := timezone.Around(now, days, a.loc)
	from, to := window.Unix()

	stats, err := a.store.GetUserWorkloadStats(ctx, &store.FindUserWorkload{
		UserID: userID,
		FromTs: from,
		ToTs:   to,
		NowTs:  now.Unix(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get workload of user %d", userID)
	}

	total := stats.TotalAssignments
	intensity := 0.0
	if total > 0 {
		intensity = round(stats.TotalHours/float64(total), 2)
	}
	return &WorkloadAnalysis{
		UserID:                userID,
		TotalAssignments:      total,
		PastAssignments:       stats.PastAssignments,
		FutureAssignments:     stats.FutureAssignments,
		WeekendAssignments:    stats.WeekendAssignments,
		NightAssignments:      stats.NightAssignments,
		WaakdienstAssignments: stats.WaakdienstAssignments,
		IncidentAssignments:   stats.IncidentAssignments,
		WeekendPercentage:     percentage(stats.WeekendAssignments, total, 0),
		NightPercentage:       percentage(stats.NightAssignments, total, 0),
		WorkloadIntensity:     intensity,
		BalanceScore:          balanceScore(total, stats.WeekendAssignments, stats.NightAssignments),
		AnalysisPeriod: AnalysisPeriod{
			StartDate: timezone.Date(window.Start, a.loc),
			EndDate:   timezone.Date(window.End, a.loc),
			Days:      days * 2,
		},
	}, nil
}

// balanceScore is 100 minus penalties for weekend work (up to 25), night work
// (up to 15) and volume above one assignment a day over a month (up to 20).
func balanceScore(total, weekend, night int) float64 {
	if total == 0 {
		return 100
	}
	t := float64(total)
	weekendPenalty := math.Min(float64(weekend)/t*50, 25)
	nightPenalty := math.Min(float64(night)/t*30, 15)
	intensityPenalty := math.Min(t/30*20, 20)
	return math.Max(round(100-weekendPenalty-nightPenalty-intensityPenalty, 1), 0)
}

// percentage returns part/total*100, or empty when total is zero.
func percentage(part, total int, empty float64) float64 {
	if total <= 0 {
		return empty
	}
	return float64(part) / float64(total) * 100
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
