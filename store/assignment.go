package store

import (
	"context"
	"time"
)

// AssignmentStatus is the lifecycle state of an assignment.
type AssignmentStatus string

const (
	AssignmentPendingConfirmation AssignmentStatus = "pending_confirmation"
	AssignmentConfirmed           AssignmentStatus = "confirmed"
	AssignmentCompleted           AssignmentStatus = "completed"
	AssignmentCancelled           AssignmentStatus = "cancelled"
	AssignmentDeclined            AssignmentStatus = "declined"
	AssignmentNoShow              AssignmentStatus = "no_show"
)

// FailedAssignmentStatuses are the terminal states that count as failures.
var FailedAssignmentStatuses = []AssignmentStatus{AssignmentCancelled, AssignmentDeclined, AssignmentNoShow}

// ActiveAssignmentStatuses are the states of assignments still ahead of the user.
var ActiveAssignmentStatuses = []AssignmentStatus{AssignmentConfirmed, AssignmentPendingConfirmation}

// Shift categories tracked by the workload analysis.
const (
	ShiftCategoryWaakdienst = "WAAKDIENST"
	ShiftCategoryIncident   = "INCIDENT"
)

type Shift struct {
	ID            int64
	TeamID        int64
	Name          string
	Category      string
	StartTs       int64
	EndTs         int64
	DurationHours float64
	IsOvernight   bool
	// IsWeekend is derived from StartTs (UTC) on create.
	IsWeekend bool
	CreatedTs int64
}

// Date returns the shift's start date as YYYY-MM-DD.
func (s *Shift) Date() string {
	return time.Unix(s.StartTs, 0).UTC().Format(time.DateOnly)
}

type Assignment struct {
	ID            int64
	UserID        int64
	ShiftID       int64
	Status        AssignmentStatus
	AutoAssigned  bool
	ForceAssigned bool
	AssignedByID  *int64
	AssignedTs    int64
	UpdatedTs     int64
}

// UpdateAssignment changes the status of an assignment.
type UpdateAssignment struct {
	ID        int64
	Status    AssignmentStatus
	UpdatedTs int64
}

func (s *Store) CreateShift(ctx context.Context, create *Shift) (*Shift, error) {
	return s.driver.CreateShift(ctx, create)
}

func (s *Store) GetShift(ctx context.Context, id int64) (*Shift, error) {
	return s.driver.GetShift(ctx, id)
}

// CreateAssignment inserts the assignment and, when notify is set, the
// recipient's notification in one transaction.
func (s *Store) CreateAssignment(ctx context.Context, create *Assignment, notify *Notification) (*Assignment, error) {
	return s.driver.CreateAssignment(ctx, create, notify)
}

func (s *Store) GetAssignment(ctx context.Context, id int64) (*Assignment, error) {
	return s.driver.GetAssignment(ctx, id)
}

func (s *Store) UpdateAssignment(ctx context.Context, update *UpdateAssignment) (*Assignment, error) {
	return s.driver.UpdateAssignment(ctx, update)
}

func (s *Store) DeleteAssignment(ctx context.Context, id int64) error {
	return s.driver.DeleteAssignment(ctx, id)
}
