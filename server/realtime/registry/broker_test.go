package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tps/internal/testutil"
	"github.com/hrygo/tps/server/realtime/envelope"
)

func TestBroker_FanOutAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	ns := testutil.StartNATSServer(t)

	// Two processes, each with its own connection and local hub.
	hubA, hubB := NewHub(nil, nil), NewHub(nil, nil)
	brokerA, err := NewBroker(testutil.ConnectNATS(t, ns), hubA, "test.groups", nil, nil)
	require.NoError(t, err)
	defer brokerA.Close()
	brokerB, err := NewBroker(testutil.ConnectNATS(t, ns), hubB, "test.groups", nil, nil)
	require.NoError(t, err)
	defer brokerB.Close()

	onA, onB, elsewhere := newRecorder("on-a"), newRecorder("on-b"), newRecorder("elsewhere")
	require.NoError(t, brokerA.JoinGroup(ctx, UserNotifications(1), onA))
	require.NoError(t, brokerB.JoinGroup(ctx, UserNotifications(1), onB))
	require.NoError(t, brokerB.JoinGroup(ctx, UserNotifications(2), elsewhere))

	env, err := envelope.New(envelope.KindAssignmentNotification, envelope.AssignmentNotification{AssignmentID: 9}, time.Now())
	require.NoError(t, err)
	require.NoError(t, brokerA.Send(ctx, UserNotifications(1), env))

	require.Eventually(t, func() bool {
		return onA.count() == 1 && onB.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, elsewhere.count())

	got := onB.received[0]
	assert.Equal(t, envelope.KindAssignmentNotification, got.Kind())
	assert.JSONEq(t, string(env.Frame()), string(got.Frame()))
}

func TestBroker_UnavailableBrokerIsANoOp(t *testing.T) {
	ctx := context.Background()
	ns := testutil.StartNATSServer(t)
	nc := testutil.ConnectNATS(t, ns)

	hub := NewHub(nil, nil)
	broker, err := NewBroker(nc, hub, "", nil, nil)
	require.NoError(t, err)
	member := newRecorder("m")
	require.NoError(t, broker.JoinGroup(ctx, GlobalAssignments, member))

	ns.Shutdown()
	ns.WaitForShutdown()
	require.Eventually(t, func() bool { return !nc.IsConnected() }, 2*time.Second, 10*time.Millisecond)

	env, err := envelope.New(envelope.KindSystemStatus, envelope.SystemStatus{Status: "degraded"}, time.Now())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- broker.Send(ctx, GlobalAssignments, env) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Send blocked while the broker was unavailable")
	}
	assert.Equal(t, 0, member.count())
}

func TestNewBroker_Validation(t *testing.T) {
	_, err := NewBroker(nil, NewHub(nil, nil), "", nil, nil)
	assert.Error(t, err)
}
