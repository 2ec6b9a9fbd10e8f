package store

import (
	"context"
	"strings"
)

// Role is the organisational role of a user.
type Role string

const (
	RoleEmployee   Role = "employee"
	RolePlanner    Role = "planner"
	RoleManager    Role = "manager"
	RoleManagement Role = "management"
	RoleAdmin      Role = "admin"
)

// IsManagement reports roles that may act on behalf of other users.
func (r Role) IsManagement() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleManagement
}

// CanPlan reports roles that may follow any team's planning runs.
func (r Role) CanPlan() bool {
	return r.IsManagement() || r == RolePlanner
}

type User struct {
	ID               int64
	Username         string
	FirstName        string
	LastName         string
	Role             Role
	IsSuperuser      bool
	IsActive         bool
	IsActiveEmployee bool
	CreatedTs        int64
}

// FullName returns "First Last", falling back to the username.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

func (s *Store) CreateUser(ctx context.Context, create *User) (*User, error) {
	return s.driver.CreateUser(ctx, create)
}

func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.driver.GetUser(ctx, id)
}
