package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tps/store"
	"github.com/hrygo/tps/store/cache"
)

// fakeStore returns canned aggregates and counts every call.
type fakeStore struct {
	mu    sync.Mutex
	calls map[string]int
	// fail makes the named call return an error.
	fail map[string]error
	// block makes the named call wait for ctx cancellation.
	block map[string]bool

	users       map[int64]*store.User
	teams       []*store.Team
	stats       store.UserAssignmentStats
	upcoming    []*store.UpcomingShift
	workload    func(find *store.FindTeamWorkload) []*store.TeamWorkloadStats
	health      store.AssignmentHealth
	engagement  store.UserEngagement
	utilization store.TeamUtilization
	leaves      int
	userLoad    map[int64]store.UserWorkloadStats

	lastAssignmentFind *store.FindUserAssignmentStats
	lastUpcomingFind   *store.FindUpcomingShifts
	workloadFinds      []*store.FindTeamWorkload
	healthSince        int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		calls:    map[string]int{},
		fail:     map[string]error{},
		block:    map[string]bool{},
		users:    map[int64]*store.User{},
		userLoad: map[int64]store.UserWorkloadStats{},
	}
}

func (f *fakeStore) enter(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls[name]++
	err, block := f.fail[name], f.block[name]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*store.User, error) {
	if err := f.enter(ctx, "GetUser"); err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) ListTeams(ctx context.Context, _ *store.FindTeam) ([]*store.Team, error) {
	if err := f.enter(ctx, "ListTeams"); err != nil {
		return nil, err
	}
	return f.teams, nil
}

func (f *fakeStore) GetUserAssignmentStats(ctx context.Context, find *store.FindUserAssignmentStats) (*store.UserAssignmentStats, error) {
	if err := f.enter(ctx, "GetUserAssignmentStats"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastAssignmentFind = find
	f.mu.Unlock()
	s := f.stats
	return &s, nil
}

func (f *fakeStore) ListUpcomingShifts(ctx context.Context, find *store.FindUpcomingShifts) ([]*store.UpcomingShift, error) {
	if err := f.enter(ctx, "ListUpcomingShifts"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastUpcomingFind = find
	f.mu.Unlock()
	return f.upcoming, nil
}

func (f *fakeStore) ListTeamWorkloadStats(ctx context.Context, find *store.FindTeamWorkload) ([]*store.TeamWorkloadStats, error) {
	if err := f.enter(ctx, "ListTeamWorkloadStats"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.workloadFinds = append(f.workloadFinds, find)
	f.mu.Unlock()
	if f.workload == nil {
		return nil, nil
	}
	return f.workload(find), nil
}

func (f *fakeStore) GetAssignmentHealth(ctx context.Context, sinceTs int64) (*store.AssignmentHealth, error) {
	if err := f.enter(ctx, "GetAssignmentHealth"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.healthSince = sinceTs
	f.mu.Unlock()
	h := f.health
	return &h, nil
}

func (f *fakeStore) GetUserEngagement(ctx context.Context, _ int64) (*store.UserEngagement, error) {
	if err := f.enter(ctx, "GetUserEngagement"); err != nil {
		return nil, err
	}
	e := f.engagement
	return &e, nil
}

func (f *fakeStore) GetTeamUtilization(ctx context.Context, _ int64) (*store.TeamUtilization, error) {
	if err := f.enter(ctx, "GetTeamUtilization"); err != nil {
		return nil, err
	}
	u := f.utilization
	return &u, nil
}

func (f *fakeStore) CountPendingLeaveRequests(ctx context.Context) (int, error) {
	if err := f.enter(ctx, "CountPendingLeaveRequests"); err != nil {
		return 0, err
	}
	return f.leaves, nil
}

func (f *fakeStore) GetUserWorkloadStats(ctx context.Context, find *store.FindUserWorkload) (*store.UserWorkloadStats, error) {
	if err := f.enter(ctx, "GetUserWorkloadStats"); err != nil {
		return nil, err
	}
	s := f.userLoad[find.UserID]
	return &s, nil
}

var errBoom = errors.New("boom")

// fixedNow is Wednesday 8 May 2024, 15:30 UTC.
var fixedNow = time.Date(2024, 5, 8, 15, 30, 0, 0, time.UTC)

func newTestAggregator(st Store) *Aggregator {
	a := NewAggregator(st, time.UTC)
	a.now = func() time.Time { return fixedNow }
	return a
}

func newTestCache(t *testing.T) *cache.Service {
	t.Helper()
	s := cache.NewService(cache.NewMemory(cache.MemoryConfig{Capacity: 1000}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}
