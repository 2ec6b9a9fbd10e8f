package store

import (
	"context"
)

// Aggregate reads. Each method is answered by a single grouped SQL statement,
// independent of the number of rows or teams involved.

type UserAssignmentStats struct {
	TotalAssignments     int
	ThisWeekAssignments  int
	UpcomingAssignments  int
	CompletedAssignments int
	PendingConfirmations int
}

type FindUserAssignmentStats struct {
	UserID      int64
	WeekStartTs int64
	WeekEndTs   int64
	NowTs       int64
}

type UpcomingShift struct {
	AssignmentID int64
	ShiftID      int64
	ShiftName    string
	TeamID       int64
	Status       AssignmentStatus
	StartTs      int64
	EndTs        int64
}

type FindUpcomingShifts struct {
	UserID int64
	FromTs int64
	ToTs   int64
	Limit  int
}

type TeamWorkloadStats struct {
	TeamID               int64
	TotalAssignments     int
	ConfirmedAssignments int
	PendingAssignments   int
	CompletedAssignments int
	CancelledAssignments int
	UniqueUsers          int
}

// FindTeamWorkload selects shifts starting in [FromTs, ToTs).
type FindTeamWorkload struct {
	TeamIDs []int64
	FromTs  int64
	ToTs    int64
}

type AssignmentHealth struct {
	TotalAssignments      int
	SuccessfulAssignments int
	FailedAssignments     int
	PendingAssignments    int
	AutoAssigned          int
	ForceAssigned         int
}

type UserEngagement struct {
	TotalActiveUsers     int
	UsersWithAssignments int
}

type TeamUtilization struct {
	TotalTeams           int
	TeamsWithAssignments int
}

type UserWorkloadStats struct {
	TotalAssignments      int
	PastAssignments       int
	FutureAssignments     int
	WeekendAssignments    int
	NightAssignments      int
	WaakdienstAssignments int
	IncidentAssignments   int
	TotalHours            float64
}

type FindUserWorkload struct {
	UserID int64
	FromTs int64
	ToTs   int64
	NowTs  int64
}

func (s *Store) GetUserAssignmentStats(ctx context.Context, find *FindUserAssignmentStats) (*UserAssignmentStats, error) {
	return s.driver.GetUserAssignmentStats(ctx, find)
}

func (s *Store) ListUpcomingShifts(ctx context.Context, find *FindUpcomingShifts) ([]*UpcomingShift, error) {
	return s.driver.ListUpcomingShifts(ctx, find)
}

func (s *Store) ListTeamWorkloadStats(ctx context.Context, find *FindTeamWorkload) ([]*TeamWorkloadStats, error) {
	return s.driver.ListTeamWorkloadStats(ctx, find)
}

func (s *Store) GetAssignmentHealth(ctx context.Context, sinceTs int64) (*AssignmentHealth, error) {
	return s.driver.GetAssignmentHealth(ctx, sinceTs)
}

func (s *Store) GetUserEngagement(ctx context.Context, sinceTs int64) (*UserEngagement, error) {
	return s.driver.GetUserEngagement(ctx, sinceTs)
}

func (s *Store) GetTeamUtilization(ctx context.Context, sinceTs int64) (*TeamUtilization, error) {
	return s.driver.GetTeamUtilization(ctx, sinceTs)
}

func (s *Store) CountPendingLeaveRequests(ctx context.Context) (int, error) {
	return s.driver.CountPendingLeaveRequests(ctx)
}

func (s *Store) GetUserWorkloadStats(ctx context.Context, find *FindUserWorkload) (*UserWorkloadStats, error) {
	return s.driver.GetUserWorkloadStats(ctx, find)
}
