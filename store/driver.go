package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// User model related methods.
	CreateUser(ctx context.Context, create *User) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)

	// Team model related methods.
	CreateTeam(ctx context.Context, create *Team) (*Team, error)
	ListTeams(ctx context.Context, find *FindTeam) ([]*Team, error)
	UpsertTeamMembership(ctx context.Context, upsert *TeamMembership) (*TeamMembership, error)
	IsActiveTeamMember(ctx context.Context, teamID, userID int64) (bool, error)
	ListTeamMemberIDs(ctx context.Context, find *FindTeamMember) ([]int64, error)
	ListTeamLeaderIDs(ctx context.Context, memberUserID int64) ([]int64, error)

	// Shift and assignment model related methods.
	CreateShift(ctx context.Context, create *Shift) (*Shift, error)
	GetShift(ctx context.Context, id int64) (*Shift, error)
	CreateAssignment(ctx context.Context, create *Assignment, notify *Notification) (*Assignment, error)
	GetAssignment(ctx context.Context, id int64) (*Assignment, error)
	UpdateAssignment(ctx context.Context, update *UpdateAssignment) (*Assignment, error)
	DeleteAssignment(ctx context.Context, id int64) error

	// Notification model related methods.
	CreateNotification(ctx context.Context, create *Notification) (*Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID int64) (bool, error)

	// LeaveRequest model related methods.
	CreateLeaveRequest(ctx context.Context, create *LeaveRequest) (*LeaveRequest, error)

	// Aggregate reads.
	GetUserAssignmentStats(ctx context.Context, find *FindUserAssignmentStats) (*UserAssignmentStats, error)
	ListUpcomingShifts(ctx context.Context, find *FindUpcomingShifts) ([]*UpcomingShift, error)
	ListTeamWorkloadStats(ctx context.Context, find *FindTeamWorkload) ([]*TeamWorkloadStats, error)
	GetAssignmentHealth(ctx context.Context, sinceTs int64) (*AssignmentHealth, error)
	GetUserEngagement(ctx context.Context, sinceTs int64) (*UserEngagement, error)
	GetTeamUtilization(ctx context.Context, sinceTs int64) (*TeamUtilization, error)
	CountPendingLeaveRequests(ctx context.Context) (int, error)
	GetUserWorkloadStats(ctx context.Context, find *FindUserWorkload) (*UserWorkloadStats, error)
}
