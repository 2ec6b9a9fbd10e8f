package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tps/server/realtime/publisher"
	"github.com/hrygo/tps/server/service/dashboard"
)

type mockPublisher struct {
	mu     sync.Mutex
	events []publisher.SystemStatus
}

func (m *mockPublisher) Publish(_ context.Context, ev publisher.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := ev.(publisher.SystemStatus); ok {
		m.events = append(m.events, s)
	}
}

func (m *mockPublisher) snapshot() []publisher.SystemStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publisher.SystemStatus(nil), m.events...)
}

type mockHealth struct {
	health *dashboard.SystemHealth
	err    error
}

func (m *mockHealth) SystemHealth(context.Context) (*dashboard.SystemHealth, error) {
	return m.health, m.err
}

type sessionCount int

func (c sessionCount) SessionCount() int { return int(c) }

func TestRunOnceHealthy(t *testing.T) {
	pub := &mockPublisher{}
	health := &mockHealth{health: &dashboard.SystemHealth{
		SuccessRate:          95,
		TotalAssignmentsWeek: 20,
		PendingAssignments:   3,
		PendingLeaveRequests: 1,
		TotalActiveUsers:     12,
	}}
	r := NewRunner(pub, health, sessionCount(4), time.Minute, nil)

	r.RunOnce(context.Background())

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, StatusOK, events[0].Status)
	assert.Equal(t, 4, events[0].Details["connections"])
	assert.Equal(t, 3, events[0].Details["pending_assignments"])
	assert.Equal(t, 1, events[0].Details["pending_leave_requests"])
	assert.Equal(t, 12, events[0].Details["active_users"])
}

func TestRunOnceDegraded(t *testing.T) {
	t.Run("low success rate", func(t *testing.T) {
		pub := &mockPublisher{}
		health := &mockHealth{health: &dashboard.SystemHealth{SuccessRate: 50, TotalAssignmentsWeek: 10}}
		NewRunner(pub, health, nil, time.Minute, nil).RunOnce(context.Background())

		events := pub.snapshot()
		require.Len(t, events, 1)
		assert.Equal(t, StatusDegraded, events[0].Status)
		assert.NotContains(t, events[0].Details, "connections")
	})

	t.Run("no assignments this week", func(t *testing.T) {
		pub := &mockPublisher{}
		health := &mockHealth{health: &dashboard.SystemHealth{SuccessRate: 0}}
		NewRunner(pub, health, nil, time.Minute, nil).RunOnce(context.Background())

		require.Len(t, pub.snapshot(), 1)
		assert.Equal(t, StatusOK, pub.snapshot()[0].Status)
	})

	t.Run("health unavailable", func(t *testing.T) {
		pub := &mockPublisher{}
		health := &mockHealth{err: errors.New("store down")}
		NewRunner(pub, health, sessionCount(2), time.Minute, nil).RunOnce(context.Background())

		events := pub.snapshot()
		require.Len(t, events, 1)
		assert.Equal(t, StatusDegraded, events[0].Status)
		assert.Equal(t, 2, events[0].Details["connections"])
		assert.NotContains(t, events[0].Details, "success_rate")
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	pub := &mockPublisher{}
	health := &mockHealth{health: &dashboard.SystemHealth{SuccessRate: 100}}
	r := NewRunner(pub, health, nil, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(pub.snapshot()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestNewRunnerDefaults(t *testing.T) {
	r := NewRunner(&mockPublisher{}, &mockHealth{}, nil, 0, nil)
	assert.Equal(t, time.Minute, r.interval)
	assert.NotNil(t, r.logger)
}
