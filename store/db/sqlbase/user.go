package sqlbase

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/hrygo/tps/store"
)

var userColumns = []string{"id", "username", "first_name", "last_name", "role", "is_superuser", "is_active", "is_active_employee", "created_ts"}

func (b *Base) CreateUser(ctx context.Context, create *store.User) (*store.User, error) {
	builder := b.qb().Insert(`"user"`).
		Columns("username", "first_name", "last_name", "role", "is_superuser", "is_active", "is_active_employee").
		Values(create.Username, create.FirstName, create.LastName, string(create.Role), create.IsSuperuser, create.IsActive, create.IsActiveEmployee).
		Suffix("RETURNING id, created_ts")
	row, err := b.queryRow(ctx, b.db, "CreateUser", builder)
	if err != nil {
		return nil, err
	}
	user := *create
	if err := scanOne("CreateUser", row, &user.ID, &user.CreatedTs); err != nil {
		return nil, err
	}
	return &user, nil
}

func (b *Base) GetUser(ctx context.Context, id int64) (*store.User, error) {
	builder := b.qb().Select(userColumns...).From(`"user"`).Where(sq.Eq{"id": id})
	row, err := b.queryRow(ctx, b.db, "GetUser", builder)
	if err != nil {
		return nil, err
	}
	user := &store.User{}
	var role string
	if err := scanOne("GetUser", row,
		&user.ID, &user.Username, &user.FirstName, &user.LastName, &role,
		&user.IsSuperuser, &user.IsActive, &user.IsActiveEmployee, &user.CreatedTs,
	); err != nil {
		return nil, err
	}
	user.Role = store.Role(role)
	return user, nil
}
