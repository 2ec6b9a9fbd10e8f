package sqlbase

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/hrygo/tps/store"
)

var (
	activeStatuses = statusStrings(store.ActiveAssignmentStatuses)
	failedStatuses = statusStrings(store.FailedAssignmentStatuses)
	pendingLeaves  = statusStrings(store.PendingLeaveStatuses)
)

func (b *Base) GetUserAssignmentStats(ctx context.Context, find *store.FindUserAssignmentStats) (*store.UserAssignmentStats, error) {
	activeCond, activeArgs := in("a.status", activeStatuses)
	builder := b.qb().
		Select("COUNT(a.id)").
		Column(countIf("s.start_ts >= ? AND s.start_ts <= ?", find.WeekStartTs, find.WeekEndTs)).
		Column(countIf("s.start_ts > ? AND "+activeCond, append([]any{find.NowTs}, activeArgs...)...)).
		Column(countIf("a.status = ?", string(store.AssignmentCompleted))).
		Column(countIf("a.status = ?", string(store.AssignmentPendingConfirmation))).
		From("assignment a").
		Join("shift s ON s.id = a.shift_id").
		Where(sq.Eq{"a.user_id": find.UserID})
	row, err := b.queryRow(ctx, b.db, "GetUserAssignmentStats", builder)
	if err != nil {
		return nil, err
	}
	stats := &store.UserAssignmentStats{}
	if err := scanOne("GetUserAssignmentStats", row,
		&stats.TotalAssignments, &stats.ThisWeekAssignments, &stats.UpcomingAssignments,
		&stats.CompletedAssignments, &stats.PendingConfirmations,
	); err != nil {
		return nil, err
	}
	return stats, nil
}

func (b *Base) ListUpcomingShifts(ctx context.Context, find *store.FindUpcomingShifts) ([]*store.UpcomingShift, error) {
	builder := b.qb().
		Select("a.id", "s.id", "s.name", "s.team_id", "a.status", "s.start_ts", "s.end_ts").
		From("assignment a").
		Join("shift s ON s.id = a.shift_id").
		Where(sq.Eq{"a.user_id": find.UserID, "a.status": activeStatuses}).
		Where(sq.Gt{"s.start_ts": find.FromTs}).
		Where(sq.LtOrEq{"s.start_ts": find.ToTs}).
		OrderBy("s.start_ts", "a.id")
	if find.Limit > 0 {
		builder = builder.Limit(uint64(find.Limit))
	}

	rows, err := b.query(ctx, "ListUpcomingShifts", builder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.UpcomingShift{}
	for rows.Next() {
		shift := &store.UpcomingShift{}
		var status string
		if err := rows.Scan(&shift.AssignmentID, &shift.ShiftID, &shift.ShiftName, &shift.TeamID, &status, &shift.StartTs, &shift.EndTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan upcoming shift")
		}
		shift.Status = store.AssignmentStatus(status)
		list = append(list, shift)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate upcoming shifts")
	}
	return list, nil
}

// ListTeamWorkloadStats returns one row per team that has assignments in the window.
// Teams without assignments are absent; callers fill zero rows.
func (b *Base) ListTeamWorkloadStats(ctx context.Context, find *store.FindTeamWorkload) ([]*store.TeamWorkloadStats, error) {
	failedCond, failedArgs := in("a.status", failedStatuses)
	builder := b.qb().
		Select("s.team_id", "COUNT(a.id)").
		Column(countIf("a.status = ?", string(store.AssignmentConfirmed))).
		Column(countIf("a.status = ?", string(store.AssignmentPendingConfirmation))).
		Column(countIf("a.status = ?", string(store.AssignmentCompleted))).
		Column(countIf(failedCond, failedArgs...)).
		Column("COUNT(DISTINCT a.user_id)").
		From("assignment a").
		Join("shift s ON s.id = a.shift_id").
		Where(sq.Eq{"s.team_id": find.TeamIDs}).
		Where(sq.GtOrEq{"s.start_ts": find.FromTs}).
		Where(sq.Lt{"s.start_ts": find.ToTs}).
		GroupBy("s.team_id").
		OrderBy("s.team_id")

	rows, err := b.query(ctx, "ListTeamWorkloadStats", builder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.TeamWorkloadStats{}
	for rows.Next() {
		stats := &store.TeamWorkloadStats{}
		if err := rows.Scan(
			&stats.TeamID, &stats.TotalAssignments, &stats.ConfirmedAssignments, &stats.PendingAssignments,
			&stats.CompletedAssignments, &stats.CancelledAssignments, &stats.UniqueUsers,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan team workload")
		}
		list = append(list, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate team workload")
	}
	return list, nil
}

func (b *Base) GetAssignmentHealth(ctx context.Context, sinceTs int64) (*store.AssignmentHealth, error) {
	failedCond, failedArgs := in("a.status", failedStatuses)
	builder := b.qb().
		Select("COUNT(a.id)").
		Column(countIf("a.status = ?", string(store.AssignmentCompleted))).
		Column(countIf(failedCond, failedArgs...)).
		Column(countIf("a.status = ?", string(store.AssignmentPendingConfirmation))).
		Column(countIf("a.auto_assigned = ?", true)).
		Column(countIf("a.force_assigned = ?", true)).
		From("assignment a").
		Where(sq.GtOrEq{"a.assigned_ts": sinceTs})
	row, err := b.queryRow(ctx, b.db, "GetAssignmentHealth", builder)
	if err != nil {
		return nil, err
	}
	health := &store.AssignmentHealth{}
	if err := scanOne("GetAssignmentHealth", row,
		&health.TotalAssignments, &health.SuccessfulAssignments, &health.FailedAssignments,
		&health.PendingAssignments, &health.AutoAssigned, &health.ForceAssigned,
	); err != nil {
		return nil, err
	}
	return health, nil
}

func (b *Base) GetUserEngagement(ctx context.Context, sinceTs int64) (*store.UserEngagement, error) {
	builder := b.qb().
		Select().
		Column(countIf("u.is_active = ? AND u.is_active_employee = ?", true, true)).
		Column(sq.Expr("(SELECT COUNT(DISTINCT a.user_id) FROM assignment a WHERE a.assigned_ts >= ?)", sinceTs)).
		From(`"user" u`)
	row, err := b.queryRow(ctx, b.db, "GetUserEngagement", builder)
	if err != nil {
		return nil, err
	}
	engagement := &store.UserEngagement{}
	if err := scanOne("GetUserEngagement", row, &engagement.TotalActiveUsers, &engagement.UsersWithAssignments); err != nil {
		return nil, err
	}
	return engagement, nil
}

func (b *Base) GetTeamUtilization(ctx context.Context, sinceTs int64) (*store.TeamUtilization, error) {
	builder := b.qb().
		Select().
		Column(countIf("t.is_active = ?", true)).
		Column(sq.Expr("(SELECT COUNT(DISTINCT s.team_id) FROM assignment a JOIN shift s ON s.id = a.shift_id WHERE a.assigned_ts >= ?)", sinceTs)).
		From("team t")
	row, err := b.queryRow(ctx, b.db, "GetTeamUtilization", builder)
	if err != nil {
		return nil, err
	}
	utilization := &store.TeamUtilization{}
	if err := scanOne("GetTeamUtilization", row, &utilization.TotalTeams, &utilization.TeamsWithAssignments); err != nil {
		return nil, err
	}
	return utilization, nil
}

func (b *Base) CountPendingLeaveRequests(ctx context.Context) (int, error) {
	builder := b.qb().Select("COUNT(*)").From("leave_request").Where(sq.Eq{"status": pendingLeaves})
	row, err := b.queryRow(ctx, b.db, "CountPendingLeaveRequests", builder)
	if err != nil {
		return 0, err
	}
	var count int
	if err := scanOne("CountPendingLeaveRequests", row, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (b *Base) GetUserWorkloadStats(ctx context.Context, find *store.FindUserWorkload) (*store.UserWorkloadStats, error) {
	builder := b.qb().
		Select("COUNT(a.id)").
		Column(countIf("s.start_ts < ?", find.NowTs)).
		Column(countIf("s.start_ts >= ?", find.NowTs)).
		Column(countIf("s.is_weekend = ?", true)).
		Column(countIf("s.is_overnight = ?", true)).
		Column(countIf("s.category = ?", store.ShiftCategoryWaakdienst)).
		Column(countIf("s.category = ?", store.ShiftCategoryIncident)).
		Column("COALESCE(SUM(s.duration_hours), 0)").
		From("assignment a").
		Join("shift s ON s.id = a.shift_id").
		Where(sq.Eq{"a.user_id": find.UserID}).
		Where(sq.GtOrEq{"s.start_ts": find.FromTs}).
		Where(sq.LtOrEq{"s.start_ts": find.ToTs})
	row, err := b.queryRow(ctx, b.db, "GetUserWorkloadStats", builder)
	if err != nil {
		return nil, err
	}
	stats := &store.UserWorkloadStats{}
	if err := scanOne("GetUserWorkloadStats", row,
		&stats.TotalAssignments, &stats.PastAssignments, &stats.FutureAssignments, &stats.WeekendAssignments,
		&stats.NightAssignments, &stats.WaakdienstAssignments, &stats.IncidentAssignments, &stats.TotalHours,
	); err != nil {
		return nil, err
	}
	return stats, nil
}
