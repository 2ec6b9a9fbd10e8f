package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tps/server/realtime/envelope"
	"github.com/hrygo/tps/server/realtime/registry"
	"github.com/hrygo/tps/store"
)

// Event is a domain change worth telling connected clients about. The set of
// events is closed; each one knows the groups it fans out to.
type Event interface {
	// Name is the event name used in logs.
	Name() string
	// route builds the envelopes of the event in send order.
	route(ctx context.Context, dir Directory, now time.Time) ([]*envelope.Envelope, error)
}

// AssignmentCreated tells the assignee and everyone watching the team or the global feed.
type AssignmentCreated struct {
	AssignmentID int64
	UserID       int64
	UserName     string
	ShiftID      int64
	ShiftName    string
	ShiftDate    string
	TeamID       int64
	AssignedBy   string
}

// AssignmentUpdated reports a status change.
type AssignmentUpdated struct {
	AssignmentID int64
	UserID       int64
	TeamID       int64
	ShiftName    string
	ShiftDate    string
	OldStatus    store.AssignmentStatus
	NewStatus    store.AssignmentStatus
	UpdatedBy    string
}

// AssignmentDeleted carries the data of an assignment that no longer exists.
type AssignmentDeleted struct {
	AssignmentID int64
	UserID       int64
	TeamID       int64
	ShiftName    string
	ShiftDate    string
	DeletedBy    string
}

type PlanningStarted struct {
	PlanningID int64
	TeamID     int64
	TeamName   string
	Algorithm  string
	StartDate  string
	EndDate    string
}

type PlanningProgress struct {
	PlanningID  int64
	TeamID      int64
	Progress    int
	CurrentStep int
	TotalSteps  int
	Message     string
}

// PlanningCompleted goes to the team's planning feed. A successful run also
// notifies every active team member.
type PlanningCompleted struct {
	PlanningID         int64
	TeamID             int64
	TeamName           string
	Success            bool
	CoveragePercentage float64
	FairnessScore      float64
	Conflicts          []string
	Warnings           []string
}

type PlanningFailed struct {
	PlanningID int64
	TeamID     int64
	Error      string
}

// ApprovalRequired asks one approver to act on a request.
type ApprovalRequired struct {
	RequestID   int64
	RequestType string
	ApproverID  int64
	Description string
}

// SwapCreated reaches both users whose shifts would be exchanged.
type SwapCreated struct {
	SwapID     int64
	Status     string
	FromUserID int64
	ToUserID   int64
	FromDate   string
	ToDate     string
}

type SwapApproved struct {
	SwapID     int64
	FromUserID int64
	ToUserID   int64
	ApprovedBy string
}

// SwapRejected only reaches the user who asked for the swap.
type SwapRejected struct {
	SwapID      int64
	RequestedBy int64
	RejectedBy  string
	Reason      string
}

type ConflictDetected struct {
	ConflictType  string
	AssignmentIDs []int64
	Message       string
	// Severity defaults to "warning".
	Severity string
}

type SystemStatus struct {
	Status  string
	Message string
	Details map[string]any
}

// LeaveSubmitted confirms the request to its author and asks the author's team leaders to approve it.
type LeaveSubmitted struct {
	LeaveID   int64
	UserID    int64
	UserName  string
	StartDate string
	EndDate   string
}

type LeaveApproved struct {
	LeaveID    int64
	UserID     int64
	ApprovedBy string
}

type LeaveRejected struct {
	LeaveID    int64
	UserID     int64
	RejectedBy string
	Reason     string
}

const requestTypeLeave = "leave_request"

func (AssignmentCreated) Name() string { return "assignment_created" }
func (AssignmentUpdated) Name() string { return "assignment_updated" }
func (AssignmentDeleted) Name() string { return "assignment_deleted" }
func (PlanningStarted) Name() string   { return "planning_started" }
func (PlanningProgress) Name() string  { return "planning_progress" }
func (PlanningCompleted) Name() string { return "planning_completed" }
func (PlanningFailed) Name() string    { return "planning_error" }
func (ApprovalRequired) Name() string  { return "approval_required" }
func (SwapCreated) Name() string       { return "swap_created" }
func (SwapApproved) Name() string      { return "swap_approved" }
func (SwapRejected) Name() string      { return "swap_rejected" }
func (ConflictDetected) Name() string  { return "conflict_detected" }
func (SystemStatus) Name() string      { return "system_status" }
func (LeaveSubmitted) Name() string    { return "leave_submitted" }
func (LeaveApproved) Name() string     { return "leave_approved" }
func (LeaveRejected) Name() string     { return "leave_rejected" }

// builder collects envelopes; result reports the first error.
type builder struct {
	now  time.Time
	out  []*envelope.Envelope
	errs []error
}

func (b *builder) add(kind envelope.Kind, payload any, groups ...string) {
	env, err := envelope.New(kind, payload, b.now, groups...)
	if err != nil {
		b.errs = append(b.errs, err)
		return
	}
	b.out = append(b.out, env)
}

func (b *builder) result() ([]*envelope.Envelope, error) {
	if len(b.errs) > 0 {
		return b.out, b.errs[0]
	}
	return b.out, nil
}

func (e AssignmentCreated) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindAssignmentNotification, envelope.AssignmentNotification{
		AssignmentID: e.AssignmentID,
		Message:      fmt.Sprintf("You have been assigned to %s on %s", e.ShiftName, e.ShiftDate),
		ShiftDate:    e.ShiftDate,
		ShiftName:    e.ShiftName,
		Timestamp:    now,
	}, registry.UserNotifications(e.UserID))
	b.add(envelope.KindAssignmentCreated, envelope.AssignmentCreated{
		AssignmentID: e.AssignmentID,
		UserID:       e.UserID,
		UserName:     e.UserName,
		ShiftID:      e.ShiftID,
		ShiftName:    e.ShiftName,
		ShiftDate:    e.ShiftDate,
		TeamID:       e.TeamID,
		AssignedBy:   e.AssignedBy,
		Timestamp:    now,
	}, registry.TeamAssignments(e.TeamID), registry.GlobalAssignments)
	return b.result()
}

func (e AssignmentUpdated) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindAssignmentNotification, envelope.AssignmentNotification{
		AssignmentID: e.AssignmentID,
		Message:      fmt.Sprintf("Your assignment status changed from %s to %s", e.OldStatus, e.NewStatus),
		ShiftDate:    e.ShiftDate,
		ShiftName:    e.ShiftName,
		Timestamp:    now,
	}, registry.UserNotifications(e.UserID))
	b.add(envelope.KindAssignmentUpdated, envelope.AssignmentUpdated{
		AssignmentID: e.AssignmentID,
		OldStatus:    string(e.OldStatus),
		NewStatus:    string(e.NewStatus),
		UpdatedBy:    e.UpdatedBy,
		Timestamp:    now,
	}, registry.TeamAssignments(e.TeamID))
	return b.result()
}

func (e AssignmentDeleted) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindAssignmentNotification, envelope.AssignmentNotification{
		AssignmentID: e.AssignmentID,
		Message:      fmt.Sprintf("Your assignment to %s has been cancelled", e.ShiftName),
		ShiftDate:    e.ShiftDate,
		ShiftName:    e.ShiftName,
		Timestamp:    now,
	}, registry.UserNotifications(e.UserID))
	b.add(envelope.KindAssignmentDeleted, envelope.AssignmentDeleted{
		AssignmentID: e.AssignmentID,
		ShiftDate:    e.ShiftDate,
		ShiftName:    e.ShiftName,
		DeletedBy:    e.DeletedBy,
		Timestamp:    now,
	}, registry.TeamAssignments(e.TeamID))
	return b.result()
}

func (e PlanningStarted) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	algorithm := e.Algorithm
	if algorithm == "" {
		algorithm = "balanced"
	}
	b := &builder{now: now}
	b.add(envelope.KindPlanningStarted, envelope.PlanningStarted{
		PlanningID: e.PlanningID,
		Message:    "Planning generation started for " + e.TeamName,
		Algorithm:  algorithm,
		StartDate:  e.StartDate,
		EndDate:    e.EndDate,
		Timestamp:  now,
	}, registry.TeamPlanning(e.TeamID))
	return b.result()
}

func (e PlanningProgress) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindPlanningProgress, envelope.PlanningProgress{
		PlanningID:  e.PlanningID,
		Progress:    e.Progress,
		CurrentStep: e.CurrentStep,
		TotalSteps:  e.TotalSteps,
		Message:     e.Message,
		Timestamp:   now,
	}, registry.TeamPlanning(e.TeamID))
	return b.result()
}

func (e PlanningCompleted) route(ctx context.Context, dir Directory, now time.Time) ([]*envelope.Envelope, error) {
	message := "Planning generation failed"
	if e.Success {
		message = "Planning generation completed successfully"
	}
	b := &builder{now: now}
	b.add(envelope.KindPlanningCompleted, envelope.PlanningCompleted{
		PlanningID:         e.PlanningID,
		Success:            e.Success,
		Message:            message,
		CoveragePercentage: e.CoveragePercentage,
		FairnessScore:      e.FairnessScore,
		Conflicts:          nonNil(e.Conflicts),
		Warnings:           nonNil(e.Warnings),
		Timestamp:          now,
	}, registry.TeamPlanning(e.TeamID))
	if !e.Success {
		return b.result()
	}

	members, err := dir.ListTeamMemberIDs(ctx, &store.FindTeamMember{TeamID: e.TeamID})
	if err != nil {
		b.errs = append(b.errs, errors.Wrapf(err, "failed to list members of team %d", e.TeamID))
		return b.result()
	}
	notice := envelope.PlanningNotification{
		PlanningID: e.PlanningID,
		Message:    "New planning has been generated for " + e.TeamName,
		Status:     "completed",
		Progress:   100,
		Timestamp:  now,
	}
	for _, userID := range members {
		b.add(envelope.KindPlanningNotification, notice, registry.UserNotifications(userID))
	}
	return b.result()
}

func (e PlanningFailed) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindPlanningError, envelope.PlanningError{
		PlanningID: e.PlanningID,
		Error:      e.Error,
		Message:    "Planning generation failed: " + e.Error,
		Timestamp:  now,
	}, registry.TeamPlanning(e.TeamID))
	return b.result()
}

func (e ApprovalRequired) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	requestType := e.RequestType
	if requestType == "" {
		requestType = "unknown"
	}
	b := &builder{now: now}
	b.add(envelope.KindApprovalNotification, envelope.ApprovalNotification{
		RequestID:      e.RequestID,
		RequestType:    requestType,
		Message:        "Approval required: " + e.Description,
		RequiresAction: true,
		Timestamp:      now,
	}, registry.UserNotifications(e.ApproverID))
	return b.result()
}

func (e SwapCreated) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	status := e.Status
	if status == "" {
		status = "pending"
	}
	b := &builder{now: now}
	b.add(envelope.KindSwapNotification, envelope.SwapNotification{
		SwapID:    e.SwapID,
		Message:   fmt.Sprintf("Swap request created for shifts on %s and %s", e.FromDate, e.ToDate),
		Status:    status,
		Timestamp: now,
	}, registry.UserNotifications(e.FromUserID), registry.UserNotifications(e.ToUserID))
	return b.result()
}

func (e SwapApproved) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindSwapNotification, envelope.SwapNotification{
		SwapID:    e.SwapID,
		Message:   "Swap request approved by " + e.ApprovedBy,
		Status:    "approved",
		Timestamp: now,
	}, registry.UserNotifications(e.FromUserID), registry.UserNotifications(e.ToUserID))
	return b.result()
}

func (e SwapRejected) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindSwapNotification, envelope.SwapNotification{
		SwapID:    e.SwapID,
		Message:   fmt.Sprintf("Swap request rejected by %s: %s", e.RejectedBy, e.Reason),
		Status:    "rejected",
		Timestamp: now,
	}, registry.UserNotifications(e.RequestedBy))
	return b.result()
}

func (e ConflictDetected) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	severity := e.Severity
	if severity == "" {
		severity = "warning"
	}
	ids := e.AssignmentIDs
	if ids == nil {
		ids = []int64{}
	}
	b := &builder{now: now}
	b.add(envelope.KindConflictDetected, envelope.ConflictDetected{
		ConflictType:  e.ConflictType,
		AssignmentIDs: ids,
		Message:       e.Message,
		Severity:      severity,
		Timestamp:     now,
	}, registry.GlobalAssignments)
	return b.result()
}

func (e SystemStatus) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	b := &builder{now: now}
	b.add(envelope.KindSystemStatus, envelope.SystemStatus{
		Status:    e.Status,
		Message:   e.Message,
		Details:   details,
		Timestamp: now,
	}, registry.GlobalAssignments)
	return b.result()
}

func (e LeaveSubmitted) route(ctx context.Context, dir Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindApprovalNotification, envelope.ApprovalNotification{
		RequestID:   e.LeaveID,
		RequestType: requestTypeLeave,
		Message:     fmt.Sprintf("Leave request submitted for %s to %s", e.StartDate, e.EndDate),
		Timestamp:   now,
	}, registry.UserNotifications(e.UserID))

	leaders, err := dir.ListTeamLeaderIDs(ctx, e.UserID)
	if err != nil {
		b.errs = append(b.errs, errors.Wrapf(err, "failed to list team leaders of user %d", e.UserID))
		return b.result()
	}
	notice := envelope.ApprovalNotification{
		RequestID:      e.LeaveID,
		RequestType:    requestTypeLeave,
		Message:        fmt.Sprintf("Leave request from %s requires approval", e.UserName),
		RequiresAction: true,
		Timestamp:      now,
	}
	for _, leaderID := range leaders {
		b.add(envelope.KindApprovalNotification, notice, registry.UserNotifications(leaderID))
	}
	return b.result()
}

func (e LeaveApproved) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindApprovalNotification, envelope.ApprovalNotification{
		RequestID:   e.LeaveID,
		RequestType: requestTypeLeave,
		Message:     "Leave request approved by " + e.ApprovedBy,
		Timestamp:   now,
	}, registry.UserNotifications(e.UserID))
	return b.result()
}

func (e LeaveRejected) route(_ context.Context, _ Directory, now time.Time) ([]*envelope.Envelope, error) {
	b := &builder{now: now}
	b.add(envelope.KindApprovalNotification, envelope.ApprovalNotification{
		RequestID:   e.LeaveID,
		RequestType: requestTypeLeave,
		Message:     fmt.Sprintf("Leave request rejected by %s: %s", e.RejectedBy, e.Reason),
		Timestamp:   now,
	}, registry.UserNotifications(e.UserID))
	return b.result()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
