package test

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hrygo/tps/store"
	"github.com/hrygo/tps/store/db/sqlbase"
)

// Fixture builds rows through the store and fails the test on error.
type Fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.Store
	seq   int
}

func NewFixture(ctx context.Context, t *testing.T, s *store.Store) *Fixture {
	return &Fixture{t: t, ctx: ctx, store: s}
}

func (f *Fixture) User(role store.Role) *store.User {
	f.t.Helper()
	f.seq++
	user, err := f.store.CreateUser(f.ctx, &store.User{
		Username:         fmt.Sprintf("user%d", f.seq),
		FirstName:        "Test",
		LastName:         fmt.Sprintf("User%d", f.seq),
		Role:             role,
		IsActive:         true,
		IsActiveEmployee: true,
	})
	if err != nil {
		f.t.Fatalf("create user: %v", err)
	}
	return user
}

func (f *Fixture) Team(members ...*store.User) *store.Team {
	f.t.Helper()
	f.seq++
	team, err := f.store.CreateTeam(f.ctx, &store.Team{Name: fmt.Sprintf("team%d", f.seq), IsActive: true})
	if err != nil {
		f.t.Fatalf("create team: %v", err)
	}
	for _, member := range members {
		f.Member(team, member, false)
	}
	return team
}

func (f *Fixture) Member(team *store.Team, user *store.User, leader bool) {
	f.t.Helper()
	if _, err := f.store.UpsertTeamMembership(f.ctx, &store.TeamMembership{
		TeamID:       team.ID,
		UserID:       user.ID,
		IsLeadership: leader,
		IsActive:     true,
	}); err != nil {
		f.t.Fatalf("upsert membership: %v", err)
	}
}

func (f *Fixture) Shift(team *store.Team, start time.Time, category string, overnight bool) *store.Shift {
	f.t.Helper()
	shift, err := f.store.CreateShift(f.ctx, &store.Shift{
		TeamID:        team.ID,
		Name:          category + " shift",
		Category:      category,
		StartTs:       start.Unix(),
		EndTs:         start.Add(8 * time.Hour).Unix(),
		DurationHours: 8,
		IsOvernight:   overnight,
	})
	if err != nil {
		f.t.Fatalf("create shift: %v", err)
	}
	return shift
}

func (f *Fixture) Assign(user *store.User, shift *store.Shift, status store.AssignmentStatus) *store.Assignment {
	f.t.Helper()
	assignment, err := f.store.CreateAssignment(f.ctx, &store.Assignment{
		UserID:  user.ID,
		ShiftID: shift.ID,
		Status:  status,
	}, nil)
	if err != nil {
		f.t.Fatalf("create assignment: %v", err)
	}
	return assignment
}

// CountingDB counts every statement issued through it.
type CountingDB struct {
	*sql.DB
	n atomic.Int64
}

func (c *CountingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.n.Add(1)
	return c.DB.ExecContext(ctx, query, args...)
}

func (c *CountingDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.n.Add(1)
	return c.DB.QueryContext(ctx, query, args...)
}

func (c *CountingDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	c.n.Add(1)
	return c.DB.QueryRowContext(ctx, query, args...)
}

func (c *CountingDB) Count() int64 {
	return c.n.Load()
}

func (c *CountingDB) Reset() {
	c.n.Store(0)
}

// NewCountingBase returns SQL helpers over the store's connection that count statements.
func NewCountingBase(s *store.Store) (*sqlbase.Base, *CountingDB) {
	counting := &CountingDB{DB: s.GetDriver().GetDB()}
	format := sq.PlaceholderFormat(sq.Question)
	if getDriverFromEnv() == "postgres" {
		format = sq.Dollar
	}
	return sqlbase.New(counting, format), counting
}
