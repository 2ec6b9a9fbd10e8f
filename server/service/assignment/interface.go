package assignment

import (
	"context"

	"github.com/hrygo/tps/server/auth"
	"github.com/hrygo/tps/server/realtime/publisher"
	"github.com/hrygo/tps/store"
)

// Service defines the write path for shift assignments.
// Every mutation commits first, then drops the affected cache entries, then
// publishes. A failed commit invalidates and publishes nothing.
type Service interface {
	// Assign creates an assignment and the assignee's notification in one transaction.
	Assign(ctx context.Context, actor *auth.Principal, req *AssignRequest) (*store.Assignment, error)

	// UpdateStatus moves an assignment to a new status. Planners may set any
	// status; assignees may only confirm or decline their own pending assignments.
	UpdateStatus(ctx context.Context, actor *auth.Principal, id int64, status store.AssignmentStatus) (*store.Assignment, error)

	// Delete removes an assignment. Only planners may delete.
	Delete(ctx context.Context, actor *auth.Principal, id int64) error
}

// AssignRequest represents the request to assign a user to a shift.
type AssignRequest struct {
	UserID        int64
	ShiftID       int64
	AutoAssigned  bool
	ForceAssigned bool
}

// Store is the interface for store operations needed by the assignment service.
type Store interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	GetShift(ctx context.Context, id int64) (*store.Shift, error)
	CreateAssignment(ctx context.Context, create *store.Assignment, notify *store.Notification) (*store.Assignment, error)
	GetAssignment(ctx context.Context, id int64) (*store.Assignment, error)
	UpdateAssignment(ctx context.Context, update *store.UpdateAssignment) (*store.Assignment, error)
	DeleteAssignment(ctx context.Context, id int64) error
}

// Invalidator drops cache entries made stale by a committed change.
// *cache.Invalidator satisfies it.
type Invalidator interface {
	OnAssignmentChanged(ctx context.Context, teamID int64, userIDs ...int64)
}

// Publisher fans committed changes out to live connections.
// *publisher.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev publisher.Event)
}
