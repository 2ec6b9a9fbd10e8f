package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tps/server/auth"
	"github.com/hrygo/tps/store"
	"github.com/hrygo/tps/store/cache"
)

var (
	employee = &auth.Principal{UserID: 1, Role: store.RoleEmployee}
	admin    = &auth.Principal{UserID: 2, Role: store.RoleAdmin}
)

func newTestOrchestrator(t *testing.T, st *fakeStore, cfg Config) (*Orchestrator, *cache.Service) {
	t.Helper()
	st.users[employee.UserID] = &store.User{ID: employee.UserID, Role: store.RoleEmployee}
	st.users[admin.UserID] = &store.User{ID: admin.UserID, Role: store.RoleAdmin}
	c := newTestCache(t)
	return NewOrchestrator(newTestAggregator(st), c, cfg, nil, nil), c
}

func TestGetDashboard(t *testing.T) {
	ctx := context.Background()

	t.Run("employee without system health", func(t *testing.T) {
		st := newFakeStore()
		o, _ := newTestOrchestrator(t, st, Config{})

		d, err := o.GetDashboard(ctx, employee)
		require.NoError(t, err)
		assert.False(t, d.Degraded)
		assert.Empty(t, d.FailedSections)
		assert.Nil(t, d.SystemHealth)
		assert.NotNil(t, d.User)
		assert.NotNil(t, d.Teams)
		assert.Equal(t, "employee", d.Role)
		assert.Zero(t, st.count("GetAssignmentHealth"))
	})

	t.Run("elevated principals get system health", func(t *testing.T) {
		st := newFakeStore()
		st.leaves = 2
		o, _ := newTestOrchestrator(t, st, Config{})

		d, err := o.GetDashboard(ctx, admin)
		require.NoError(t, err)
		require.NotNil(t, d.SystemHealth)
		assert.Equal(t, 2, d.SystemHealth.PendingLeaveRequests)
	})

	t.Run("second request is served from cache", func(t *testing.T) {
		st := newFakeStore()
		o, _ := newTestOrchestrator(t, st, Config{})

		first, err := o.GetDashboard(ctx, admin)
		require.NoError(t, err)
		calls := st.total()

		second, err := o.GetDashboard(ctx, admin)
		require.NoError(t, err)
		assert.Equal(t, calls, st.total(), "cached dashboard issues no store calls")
		assert.True(t, first.GeneratedAt.Equal(second.GeneratedAt))
	})

	t.Run("invalidation forces a recompute", func(t *testing.T) {
		st := newFakeStore()
		o, c := newTestOrchestrator(t, st, Config{})

		_, err := o.GetDashboard(ctx, employee)
		require.NoError(t, err)
		cache.NewInvalidator(c).OnAssignmentChanged(ctx, 0, employee.UserID)

		_, err = o.GetDashboard(ctx, employee)
		require.NoError(t, err)
		assert.Equal(t, 2, st.count("GetUserAssignmentStats"))
	})
}

func TestGetDashboard_SystemHealthFollowsOtherUsersWrites(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.leaves = 1
	o, c := newTestOrchestrator(t, st, Config{})

	d, err := o.GetDashboard(ctx, admin)
	require.NoError(t, err)
	require.NotNil(t, d.SystemHealth)
	assert.Equal(t, 1, d.SystemHealth.PendingLeaveRequests)

	// An employee's assignment changes; the admin's own entry is untouched.
	st.leaves = 3
	cache.NewInvalidator(c).OnAssignmentChanged(ctx, 3, employee.UserID)

	d, err = o.GetDashboard(ctx, admin)
	require.NoError(t, err)
	require.NotNil(t, d.SystemHealth)
	assert.Equal(t, 3, d.SystemHealth.PendingLeaveRequests)
	assert.Equal(t, 2, st.count("GetAssignmentHealth"), "system health was recomputed")
	assert.Equal(t, 1, st.count("GetUserAssignmentStats"), "the admin's sections stayed cached")
	assert.False(t, d.Degraded)
}

func TestGetDashboard_CachedSystemHealthFailure(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	o, c := newTestOrchestrator(t, st, Config{})

	_, err := o.GetDashboard(ctx, admin)
	require.NoError(t, err)

	st.fail["GetAssignmentHealth"] = errBoom
	c.Invalidate(ctx, cache.GlobalKey(cache.NamespaceSystemStats))

	d, err := o.GetDashboard(ctx, admin)
	require.NoError(t, err)
	assert.True(t, d.Degraded)
	assert.Equal(t, []Section{SectionSystemHealth}, d.FailedSections)
	require.NotNil(t, d.SystemHealth)
	assert.Zero(t, d.SystemHealth.TotalAssignmentsWeek)

	critical := NewOrchestrator(newTestAggregator(st), c, Config{Critical: []Section{SectionSystemHealth}}, nil, nil)
	_, err = critical.GetDashboard(ctx, admin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
}

func TestGetDashboard_Degraded(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.fail["ListTeams"] = errBoom
	st.fail["GetUserEngagement"] = errBoom
	o, _ := newTestOrchestrator(t, st, Config{})

	d, err := o.GetDashboard(ctx, admin)
	require.NoError(t, err)
	assert.True(t, d.Degraded)
	assert.Equal(t, []Section{SectionSystemHealth, SectionTeams}, d.FailedSections)
	assert.NotNil(t, d.Teams)
	assert.Empty(t, d.Teams)
	require.NotNil(t, d.SystemHealth)
	assert.Zero(t, d.SystemHealth.TotalAssignmentsWeek)
	assert.NotNil(t, d.User, "healthy sections are still served")

	_, err = o.GetDashboard(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, st.count("ListTeams"), "degraded dashboards are not cached")
	assert.Equal(t, 1, st.count("GetUserWorkloadStats"), "healthy sub-sections stay cached")
}

func TestGetDashboard_CriticalSection(t *testing.T) {
	st := newFakeStore()
	st.fail["GetUserAssignmentStats"] = errBoom
	st.block["ListTeams"] = true
	o, _ := newTestOrchestrator(t, st, Config{Critical: []Section{SectionUserDashboard}})

	done := make(chan error, 1)
	go func() {
		_, err := o.GetDashboard(context.Background(), employee)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, errBoom))
	case <-time.After(5 * time.Second):
		t.Fatal("critical failure did not cancel the remaining sections")
	}
}

func TestGetDashboard_Cancelled(t *testing.T) {
	st := newFakeStore()
	st.block["ListTeams"] = true
	o, _ := newTestOrchestrator(t, st, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := o.GetDashboard(ctx, employee)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTeamWorkload(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.workload = func(find *store.FindTeamWorkload) []*store.TeamWorkloadStats {
		rows := make([]*store.TeamWorkloadStats, 0, len(find.TeamIDs))
		for _, id := range find.TeamIDs {
			rows = append(rows, &store.TeamWorkloadStats{TeamID: id, TotalAssignments: int(id) * 2, CompletedAssignments: int(id)})
		}
		return rows
	}
	o, c := newTestOrchestrator(t, st, Config{})

	out, err := o.TeamWorkload(ctx, []int64{1, 2, 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 4, out[2].TotalAssignments)
	assert.InDelta(t, 50.0, out[1].SuccessRate, 0.001)
	assert.Equal(t, []int64{1, 2}, st.workloadFinds[0].TeamIDs)

	_, err = o.TeamWorkload(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 1, st.count("ListTeamWorkloadStats"), "both teams come from the cache")

	cache.NewInvalidator(c).OnAssignmentChanged(ctx, 2, employee.UserID)
	out, err = o.TeamWorkload(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	require.Equal(t, 2, st.count("ListTeamWorkloadStats"))
	assert.Equal(t, []int64{2}, st.workloadFinds[1].TeamIDs, "only the invalidated team is recomputed")
}

func TestTeamWorkloadTrend(t *testing.T) {
	today := time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.workload = func(find *store.FindTeamWorkload) []*store.TeamWorkloadStats {
		if find.ToTs == today.Unix() {
			return []*store.TeamWorkloadStats{{TeamID: 1, TotalAssignments: 5, CompletedAssignments: 5}}
		}
		return []*store.TeamWorkloadStats{{TeamID: 1, TotalAssignments: 2, CompletedAssignments: 1}}
	}
	o, _ := newTestOrchestrator(t, st, Config{})

	out, err := o.TeamWorkloadTrend(context.Background(), []int64{1, 4}, 14)
	require.NoError(t, err)
	require.Len(t, out, 2)

	trend := out[1]
	assert.Equal(t, 3, trend.AssignmentChange)
	assert.InDelta(t, 50.0, trend.SuccessRateChange, 0.001)
	assert.Equal(t, 2, trend.Previous.TotalAssignments)
	assert.Zero(t, out[4].AssignmentChange)

	require.Len(t, st.workloadFinds, 2)
	for _, find := range st.workloadFinds {
		assert.Equal(t, int64(14*24*3600), find.ToTs-find.FromTs)
	}
}

func TestTeamWorkloadTrend_Failure(t *testing.T) {
	st := newFakeStore()
	st.fail["ListTeamWorkloadStats"] = errBoom
	o, _ := newTestOrchestrator(t, st, Config{})

	_, err := o.TeamWorkloadTrend(context.Background(), []int64{1}, 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
}

func TestBulkUserAnalysis(t *testing.T) {
	st := newFakeStore()
	st.userLoad[employee.UserID] = store.UserWorkloadStats{TotalAssignments: 3}
	o, _ := newTestOrchestrator(t, st, Config{Concurrency: 2})

	results, err := o.BulkUserAnalysis(context.Background(), []int64{99, 1, 2, 1}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, int64(1), results[0].UserID)
	require.NotNil(t, results[0].Analysis)
	assert.Equal(t, 3, results[0].Analysis.TotalAssignments)
	assert.NoError(t, results[0].Err())

	assert.Equal(t, int64(2), results[1].UserID)
	assert.NotNil(t, results[1].Analysis)

	assert.Equal(t, int64(99), results[2].UserID)
	assert.Nil(t, results[2].Analysis)
	assert.True(t, errors.Is(results[2].Err(), store.ErrNotFound))
	assert.NotEmpty(t, results[2].Error)
}

func TestBulkUserAnalysis_Cancelled(t *testing.T) {
	st := newFakeStore()
	st.block["GetUserWorkloadStats"] = true
	o, _ := newTestOrchestrator(t, st, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := o.BulkUserAnalysis(ctx, []int64{1, 2}, 7)
	require.Error(t, err)
}
