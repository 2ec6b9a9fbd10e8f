package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tps/server/realtime/envelope"
	"github.com/hrygo/tps/server/realtime/registry"
	"github.com/hrygo/tps/store"
)

type sent struct {
	group string
	kind  string
	body  map[string]any
}

// fakeRegistry records sends in order and fails sends to groups listed in fail.
type fakeRegistry struct {
	mu   sync.Mutex
	sent []sent
	fail map[string]bool
}

func (r *fakeRegistry) JoinGroup(context.Context, string, registry.Member) error  { return nil }
func (r *fakeRegistry) LeaveGroup(context.Context, string, registry.Member) error { return nil }

func (r *fakeRegistry) Send(_ context.Context, group string, env *envelope.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[group] {
		return errors.Wrap(registry.ErrTransientDelivery, "broker down")
	}
	var body map[string]any
	if err := json.Unmarshal(env.Frame(), &body); err != nil {
		return err
	}
	r.sent = append(r.sent, sent{group: group, kind: env.Kind().String(), body: body})
	return nil
}

func (r *fakeRegistry) routes() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]string, len(r.sent))
	for i, s := range r.sent {
		out[i] = [2]string{s.group, s.kind}
	}
	return out
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) ListTeamMemberIDs(ctx context.Context, find *store.FindTeamMember) ([]int64, error) {
	args := m.Called(ctx, find)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

func (m *mockDirectory) ListTeamLeaderIDs(ctx context.Context, memberUserID int64) ([]int64, error) {
	args := m.Called(ctx, memberUserID)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

var fixedNow = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func newTestPublisher(dir Directory) (*Publisher, *fakeRegistry) {
	reg := &fakeRegistry{fail: map[string]bool{}}
	return New(reg, dir, withClock(func() time.Time { return fixedNow })), reg
}

func TestAssignmentCreatedRouting(t *testing.T) {
	p, reg := newTestPublisher(nil)
	p.Publish(context.Background(), AssignmentCreated{
		AssignmentID: 42,
		UserID:       10,
		UserName:     "Jan Jansen",
		ShiftID:      7,
		ShiftName:    "Waakdienst",
		ShiftDate:    "2024-05-06",
		TeamID:       3,
		AssignedBy:   "Piet Planner",
	})

	assert.Equal(t, [][2]string{
		{"notifications:user:10", "assignment_notification"},
		{"assignments:team:3", "assignment_created"},
		{"assignments:global", "assignment_created"},
	}, reg.routes())

	notice := reg.sent[0].body
	assert.Equal(t, "You have been assigned to Waakdienst on 2024-05-06", notice["message"])
	assert.EqualValues(t, 42, notice["assignment_id"])
	assert.Equal(t, "2024-05-06T09:00:00Z", notice["timestamp"])

	created := reg.sent[1].body
	assert.Equal(t, "Jan Jansen", created["user_name"])
	assert.EqualValues(t, 3, created["team_id"])
	assert.Equal(t, reg.sent[1].body, reg.sent[2].body, "team and global feeds share one envelope")
}

func TestAssignmentUpdatedAndDeleted(t *testing.T) {
	p, reg := newTestPublisher(nil)
	p.Publish(context.Background(), AssignmentUpdated{
		AssignmentID: 1, UserID: 10, TeamID: 3, ShiftName: "Incident", ShiftDate: "2024-05-07",
		OldStatus: store.AssignmentPendingConfirmation, NewStatus: store.AssignmentConfirmed, UpdatedBy: "Ann",
	})
	p.Publish(context.Background(), AssignmentDeleted{
		AssignmentID: 1, UserID: 10, TeamID: 3, ShiftName: "Incident", ShiftDate: "2024-05-07", DeletedBy: "Ann",
	})

	assert.Equal(t, [][2]string{
		{"notifications:user:10", "assignment_notification"},
		{"assignments:team:3", "assignment_updated"},
		{"notifications:user:10", "assignment_notification"},
		{"assignments:team:3", "assignment_deleted"},
	}, reg.routes())
	assert.Equal(t, "Your assignment status changed from pending_confirmation to confirmed", reg.sent[0].body["message"])
	assert.Equal(t, "confirmed", reg.sent[1].body["new_status"])
	assert.Equal(t, "Your assignment to Incident has been cancelled", reg.sent[2].body["message"])
}

func TestPlanningEvents(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("ListTeamMemberIDs", mock.Anything, &store.FindTeamMember{TeamID: 3}).Return([]int64{10, 11}, nil).Once()

	p, reg := newTestPublisher(dir)
	ctx := context.Background()
	p.Publish(ctx, PlanningStarted{PlanningID: 5, TeamID: 3, TeamName: "Ops"})
	p.Publish(ctx, PlanningProgress{PlanningID: 5, TeamID: 3, Progress: 50, CurrentStep: 1, TotalSteps: 2, Message: "halfway"})
	p.Publish(ctx, PlanningFailed{PlanningID: 5, TeamID: 3, Error: "no capacity"})
	p.Publish(ctx, PlanningCompleted{PlanningID: 5, TeamID: 3, TeamName: "Ops", Success: false})
	p.Publish(ctx, PlanningCompleted{PlanningID: 5, TeamID: 3, TeamName: "Ops", Success: true, CoveragePercentage: 98.5})

	assert.Equal(t, [][2]string{
		{"planning:team:3", "planning_started"},
		{"planning:team:3", "planning_progress"},
		{"planning:team:3", "planning_error"},
		{"planning:team:3", "planning_completed"},
		{"planning:team:3", "planning_completed"},
		{"notifications:user:10", "planning_notification"},
		{"notifications:user:11", "planning_notification"},
	}, reg.routes())

	assert.Equal(t, "Planning generation started for Ops", reg.sent[0].body["message"])
	assert.Equal(t, "balanced", reg.sent[0].body["algorithm"])
	assert.Equal(t, "Planning generation failed: no capacity", reg.sent[2].body["message"])
	assert.Equal(t, "Planning generation failed", reg.sent[3].body["message"])
	assert.Equal(t, []any{}, reg.sent[3].body["conflicts"])
	assert.Equal(t, "Planning generation completed successfully", reg.sent[4].body["message"])
	assert.Equal(t, "New planning has been generated for Ops", reg.sent[5].body["message"])
	assert.Equal(t, "completed", reg.sent[5].body["status"])
	dir.AssertExpectations(t)
}

func TestSwapAndApprovalEvents(t *testing.T) {
	p, reg := newTestPublisher(nil)
	ctx := context.Background()
	p.Publish(ctx, SwapCreated{SwapID: 8, FromUserID: 10, ToUserID: 11, FromDate: "2024-05-06", ToDate: "2024-05-13"})
	p.Publish(ctx, SwapApproved{SwapID: 8, FromUserID: 10, ToUserID: 11, ApprovedBy: "Mia Manager"})
	p.Publish(ctx, SwapRejected{SwapID: 8, RequestedBy: 10, RejectedBy: "Mia Manager", Reason: "coverage"})
	p.Publish(ctx, ApprovalRequired{RequestID: 9, RequestType: "swap_request", ApproverID: 2, Description: "swap 8"})

	assert.Equal(t, [][2]string{
		{"notifications:user:10", "swap_notification"},
		{"notifications:user:11", "swap_notification"},
		{"notifications:user:10", "swap_notification"},
		{"notifications:user:11", "swap_notification"},
		{"notifications:user:10", "swap_notification"},
		{"notifications:user:2", "approval_notification"},
	}, reg.routes())
	assert.Equal(t, "Swap request created for shifts on 2024-05-06 and 2024-05-13", reg.sent[0].body["message"])
	assert.Equal(t, "approved", reg.sent[2].body["status"])
	assert.Equal(t, "Swap request approved by Mia Manager", reg.sent[2].body["message"])
	assert.Equal(t, "Swap request rejected by Mia Manager: coverage", reg.sent[4].body["message"])
	assert.Equal(t, "rejected", reg.sent[4].body["status"])
	assert.Equal(t, true, reg.sent[5].body["requires_action"])
	assert.Equal(t, "Approval required: swap 8", reg.sent[5].body["message"])
}

func TestGlobalFeedEvents(t *testing.T) {
	p, reg := newTestPublisher(nil)
	p.Publish(context.Background(), ConflictDetected{ConflictType: "double_booking", AssignmentIDs: []int64{1, 2}, Message: "overlap"})
	p.Publish(context.Background(), SystemStatus{Status: "degraded", Message: "planner slow"})

	assert.Equal(t, [][2]string{
		{"assignments:global", "conflict_detected"},
		{"assignments:global", "system_status"},
	}, reg.routes())
	assert.Equal(t, "warning", reg.sent[0].body["severity"])
	assert.Equal(t, map[string]any{}, reg.sent[1].body["details"])
}

func TestLeaveEvents(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("ListTeamLeaderIDs", mock.Anything, int64(10)).Return([]int64{2, 3}, nil).Once()

	p, reg := newTestPublisher(dir)
	ctx := context.Background()
	p.Publish(ctx, LeaveSubmitted{LeaveID: 4, UserID: 10, UserName: "Jan Jansen", StartDate: "2024-06-01", EndDate: "2024-06-07"})
	p.Publish(ctx, LeaveApproved{LeaveID: 4, UserID: 10, ApprovedBy: "Lea Leader"})
	p.Publish(ctx, LeaveRejected{LeaveID: 4, UserID: 10, RejectedBy: "Lea Leader", Reason: "peak"})

	assert.Equal(t, [][2]string{
		{"notifications:user:10", "approval_notification"},
		{"notifications:user:2", "approval_notification"},
		{"notifications:user:3", "approval_notification"},
		{"notifications:user:10", "approval_notification"},
		{"notifications:user:10", "approval_notification"},
	}, reg.routes())

	assert.Equal(t, "Leave request submitted for 2024-06-01 to 2024-06-07", reg.sent[0].body["message"])
	assert.Equal(t, false, reg.sent[0].body["requires_action"])
	assert.Equal(t, "Leave request from Jan Jansen requires approval", reg.sent[1].body["message"])
	assert.Equal(t, true, reg.sent[1].body["requires_action"])
	assert.Equal(t, "leave_request", reg.sent[1].body["request_type"])
	assert.Equal(t, "Leave request approved by Lea Leader", reg.sent[3].body["message"])
	assert.Equal(t, "Leave request rejected by Lea Leader: peak", reg.sent[4].body["message"])
	dir.AssertExpectations(t)
}

func TestLookupFailureStillNotifiesAuthor(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("ListTeamLeaderIDs", mock.Anything, int64(10)).Return(nil, errors.New("db down"))

	p, reg := newTestPublisher(dir)
	p.Publish(context.Background(), LeaveSubmitted{LeaveID: 4, UserID: 10})

	assert.Equal(t, [][2]string{{"notifications:user:10", "approval_notification"}}, reg.routes())
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	p, reg := newTestPublisher(nil)
	reg.fail["assignments:team:3"] = true

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), AssignmentCreated{AssignmentID: 1, UserID: 10, TeamID: 3})
	})
	// The failing group does not stop the groups after it.
	assert.Equal(t, [][2]string{
		{"notifications:user:10", "assignment_notification"},
		{"assignments:global", "assignment_created"},
	}, reg.routes())
}

func TestPublishThroughHub(t *testing.T) {
	hub := registry.NewHub(nil, nil)
	p := New(hub, nil, WithTimeout(time.Second))

	// No members: publishing is a no-op.
	p.Publish(context.Background(), SystemStatus{Status: "ok"})
	assert.Zero(t, hub.GroupCount())
}
