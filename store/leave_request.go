package store

import (
	"context"
)

// LeaveStatus is the state of a leave request. The approval workflow itself lives elsewhere.
type LeaveStatus string

const (
	LeaveSubmitted      LeaveStatus = "submitted"
	LeavePendingManager LeaveStatus = "pending_manager"
	LeavePendingHR      LeaveStatus = "pending_hr"
	LeaveApproved       LeaveStatus = "approved"
	LeaveRejected       LeaveStatus = "rejected"
)

// PendingLeaveStatuses are the states awaiting a decision.
var PendingLeaveStatuses = []LeaveStatus{LeaveSubmitted, LeavePendingManager, LeavePendingHR}

type LeaveRequest struct {
	ID        int64
	UserID    int64
	Status    LeaveStatus
	StartDate string
	EndDate   string
	CreatedTs int64
}

func (s *Store) CreateLeaveRequest(ctx context.Context, create *LeaveRequest) (*LeaveRequest, error) {
	return s.driver.CreateLeaveRequest(ctx, create)
}
