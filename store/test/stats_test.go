package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/tps/store"
)

func TestUserAssignmentStats(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	f := NewFixture(ctx, t, ts)

	user := f.User(store.RoleEmployee)
	team := f.Team(user)
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC) // Wednesday
	weekStart := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	weekEnd := weekStart.AddDate(0, 0, 7).Add(-time.Second)

	f.Assign(user, f.Shift(team, now.Add(-48*time.Hour), "", false), store.AssignmentCompleted)
	f.Assign(user, f.Shift(team, now.Add(24*time.Hour), "", false), store.AssignmentConfirmed)
	f.Assign(user, f.Shift(team, now.Add(10*24*time.Hour), "", false), store.AssignmentPendingConfirmation)
	f.Assign(user, f.Shift(team, now.Add(2*24*time.Hour), "", false), store.AssignmentCancelled)

	stats, err := ts.GetUserAssignmentStats(ctx, &store.FindUserAssignmentStats{
		UserID:      user.ID,
		WeekStartTs: weekStart.Unix(),
		WeekEndTs:   weekEnd.Unix(),
		NowTs:       now.Unix(),
	})
	require.NoError(t, err)
	require.Equal(t, &store.UserAssignmentStats{
		TotalAssignments:     4,
		ThisWeekAssignments:  3,
		UpcomingAssignments:  2,
		CompletedAssignments: 1,
		PendingConfirmations: 1,
	}, stats)

	upcoming, err := ts.ListUpcomingShifts(ctx, &store.FindUpcomingShifts{
		UserID: user.ID,
		FromTs: now.Unix(),
		ToTs:   now.AddDate(0, 0, 7).Unix(),
		Limit:  5,
	})
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	require.Equal(t, store.AssignmentConfirmed, upcoming[0].Status)
}

func TestTeamWorkloadStats(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	f := NewFixture(ctx, t, ts)

	a := f.User(store.RoleEmployee)
	b := f.User(store.RoleEmployee)
	busy := f.Team(a, b)
	idle := f.Team(a)
	now := time.Now().UTC()

	f.Assign(a, f.Shift(busy, now.Add(time.Hour), "", false), store.AssignmentCompleted)
	f.Assign(b, f.Shift(busy, now.Add(2*time.Hour), "", false), store.AssignmentConfirmed)
	f.Assign(b, f.Shift(busy, now.Add(3*time.Hour), "", false), store.AssignmentNoShow)
	// Outside the window.
	f.Assign(a, f.Shift(busy, now.AddDate(0, 0, 90), "", false), store.AssignmentConfirmed)

	stats, err := ts.ListTeamWorkloadStats(ctx, &store.FindTeamWorkload{
		TeamIDs: []int64{busy.ID, idle.ID},
		FromTs:  now.AddDate(0, 0, -30).Unix(),
		ToTs:    now.AddDate(0, 0, 30).Unix(),
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, &store.TeamWorkloadStats{
		TeamID:               busy.ID,
		TotalAssignments:     3,
		ConfirmedAssignments: 1,
		CompletedAssignments: 1,
		CancelledAssignments: 1,
		UniqueUsers:          2,
	}, stats[0])
}

func TestTeamWorkloadStatsAdjacentWindows(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	f := NewFixture(ctx, t, ts)

	user := f.User(store.RoleEmployee)
	team := f.Team(user)
	boundary := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.Assign(user, f.Shift(team, boundary, "", false), store.AssignmentConfirmed)

	count := func(from, to time.Time) int {
		stats, err := ts.ListTeamWorkloadStats(ctx, &store.FindTeamWorkload{
			TeamIDs: []int64{team.ID},
			FromTs:  from.Unix(),
			ToTs:    to.Unix(),
		})
		require.NoError(t, err)
		if len(stats) == 0 {
			return 0
		}
		return stats[0].TotalAssignments
	}

	require.Equal(t, 0, count(boundary.AddDate(0, 0, -14), boundary), "the end of a window is exclusive")
	require.Equal(t, 1, count(boundary, boundary.AddDate(0, 0, 14)), "the start of a window is inclusive")
}

func TestSystemHealthAggregates(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	f := NewFixture(ctx, t, ts)

	a := f.User(store.RoleEmployee)
	f.User(store.RoleEmployee)
	team := f.Team(a)
	f.Team()
	shift := f.Shift(team, time.Now().Add(time.Hour), "", false)

	_, err := ts.CreateAssignment(ctx, &store.Assignment{UserID: a.ID, ShiftID: shift.ID, Status: store.AssignmentCompleted, AutoAssigned: true}, nil)
	require.NoError(t, err)
	_, err = ts.CreateAssignment(ctx, &store.Assignment{UserID: a.ID, ShiftID: shift.ID, Status: store.AssignmentDeclined, ForceAssigned: true}, nil)
	require.NoError(t, err)
	_, err = ts.CreateLeaveRequest(ctx, &store.LeaveRequest{UserID: a.ID, Status: store.LeavePendingHR, StartDate: "2026-05-01", EndDate: "2026-05-03"})
	require.NoError(t, err)
	_, err = ts.CreateLeaveRequest(ctx, &store.LeaveRequest{UserID: a.ID, Status: store.LeaveApproved, StartDate: "2026-06-01", EndDate: "2026-06-03"})
	require.NoError(t, err)

	since := time.Now().AddDate(0, 0, -7).Unix()
	health, err := ts.GetAssignmentHealth(ctx, since)
	require.NoError(t, err)
	require.Equal(t, &store.AssignmentHealth{
		TotalAssignments:      2,
		SuccessfulAssignments: 1,
		FailedAssignments:     1,
		AutoAssigned:          1,
		ForceAssigned:         1,
	}, health)

	engagement, err := ts.GetUserEngagement(ctx, since)
	require.NoError(t, err)
	require.Equal(t, &store.UserEngagement{TotalActiveUsers: 2, UsersWithAssignments: 1}, engagement)

	utilization, err := ts.GetTeamUtilization(ctx, since)
	require.NoError(t, err)
	require.Equal(t, &store.TeamUtilization{TotalTeams: 2, TeamsWithAssignments: 1}, utilization)

	pending, err := ts.CountPendingLeaveRequests(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending)
}

func TestUserWorkloadStats(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	f := NewFixture(ctx, t, ts)

	user := f.User(store.RoleEmployee)
	team := f.Team(user)
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC) // Wednesday

	f.Assign(user, f.Shift(team, time.Date(2026, 3, 7, 8, 0, 0, 0, time.UTC), store.ShiftCategoryWaakdienst, true), store.AssignmentCompleted) // Saturday, past
	f.Assign(user, f.Shift(team, now.Add(24*time.Hour), store.ShiftCategoryIncident, false), store.AssignmentConfirmed)
	f.Assign(user, f.Shift(team, now.Add(48*time.Hour), store.ShiftCategoryIncident, true), store.AssignmentConfirmed)

	stats, err := ts.GetUserWorkloadStats(ctx, &store.FindUserWorkload{
		UserID: user.ID,
		FromTs: now.AddDate(0, 0, -30).Unix(),
		ToTs:   now.AddDate(0, 0, 30).Unix(),
		NowTs:  now.Unix(),
	})
	require.NoError(t, err)
	require.Equal(t, &store.UserWorkloadStats{
		TotalAssignments:      3,
		PastAssignments:       1,
		FutureAssignments:     2,
		WeekendAssignments:    1,
		NightAssignments:      2,
		WaakdienstAssignments: 1,
		IncidentAssignments:   2,
		TotalHours:            24,
	}, stats)
}

func TestAggregateQueryCountIndependentOfTeamCount(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	f := NewFixture(ctx, t, ts)
	base, counting := NewCountingBase(ts)

	user := f.User(store.RoleEmployee)
	now := time.Now().UTC()
	teamIDs := []int64{}
	for i := 0; i < 50; i++ {
		team := f.Team(user)
		f.Assign(user, f.Shift(team, now.Add(time.Duration(i+1)*time.Hour), "", false), store.AssignmentConfirmed)
		teamIDs = append(teamIDs, team.ID)
	}

	run := func(ids []int64) int64 {
		counting.Reset()
		stats, err := base.ListTeamWorkloadStats(ctx, &store.FindTeamWorkload{
			TeamIDs: ids,
			FromTs:  now.AddDate(0, 0, -30).Unix(),
			ToTs:    now.AddDate(0, 0, 30).Unix(),
		})
		require.NoError(t, err)
		require.Len(t, stats, len(ids))
		return counting.Count()
	}

	one := run(teamIDs[:1])
	fifty := run(teamIDs)
	require.Equal(t, int64(1), one)
	require.Equal(t, one, fifty)
}
