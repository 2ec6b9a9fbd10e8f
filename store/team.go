package store

import (
	"context"
)

type Team struct {
	ID           int64
	Name         string
	Description  string
	TeamLeaderID *int64
	IsActive     bool
	CreatedTs    int64
}

// TeamMembership links a user to a team.
type TeamMembership struct {
	ID           int64
	TeamID       int64
	UserID       int64
	IsLeadership bool
	IsActive     bool
	JoinedTs     int64
}

// FindTeam is the find condition for teams.
type FindTeam struct {
	IDs []int64
	// MemberUserID restricts to teams where the user has an active membership.
	MemberUserID *int64
	ActiveOnly   bool
}

// FindTeamMember is the find condition for team member ids.
type FindTeamMember struct {
	TeamID         int64
	LeadershipOnly bool
}

func (s *Store) CreateTeam(ctx context.Context, create *Team) (*Team, error) {
	return s.driver.CreateTeam(ctx, create)
}

func (s *Store) ListTeams(ctx context.Context, find *FindTeam) ([]*Team, error) {
	return s.driver.ListTeams(ctx, find)
}

func (s *Store) UpsertTeamMembership(ctx context.Context, upsert *TeamMembership) (*TeamMembership, error) {
	return s.driver.UpsertTeamMembership(ctx, upsert)
}

// IsActiveTeamMember reports whether the user has an active membership in the team.
func (s *Store) IsActiveTeamMember(ctx context.Context, teamID, userID int64) (bool, error) {
	return s.driver.IsActiveTeamMember(ctx, teamID, userID)
}

// ListTeamMemberIDs returns the ids of active members of a team.
func (s *Store) ListTeamMemberIDs(ctx context.Context, find *FindTeamMember) ([]int64, error) {
	return s.driver.ListTeamMemberIDs(ctx, find)
}

// ListTeamLeaderIDs returns the active leaders of every team the user actively belongs to.
func (s *Store) ListTeamLeaderIDs(ctx context.Context, memberUserID int64) ([]int64, error) {
	return s.driver.ListTeamLeaderIDs(ctx, memberUserID)
}
