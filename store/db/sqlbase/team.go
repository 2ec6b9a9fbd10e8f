package sqlbase

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/hrygo/tps/store"
)

func (b *Base) CreateTeam(ctx context.Context, create *store.Team) (*store.Team, error) {
	builder := b.qb().Insert("team").
		Columns("name", "description", "team_leader_id", "is_active").
		Values(create.Name, create.Description, create.TeamLeaderID, create.IsActive).
		Suffix("RETURNING id, created_ts")
	row, err := b.queryRow(ctx, b.db, "CreateTeam", builder)
	if err != nil {
		return nil, err
	}
	team := *create
	if err := scanOne("CreateTeam", row, &team.ID, &team.CreatedTs); err != nil {
		return nil, err
	}
	return &team, nil
}

func (b *Base) ListTeams(ctx context.Context, find *store.FindTeam) ([]*store.Team, error) {
	builder := b.qb().
		Select("t.id", "t.name", "t.description", "t.team_leader_id", "t.is_active", "t.created_ts").
		From("team t").
		OrderBy("t.name", "t.id")
	if len(find.IDs) > 0 {
		builder = builder.Where(sq.Eq{"t.id": find.IDs})
	}
	if find.ActiveOnly {
		builder = builder.Where(sq.Eq{"t.is_active": true})
	}
	if find.MemberUserID != nil {
		builder = builder.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM team_membership m WHERE m.team_id = t.id AND m.user_id = ? AND m.is_active = ?)",
			*find.MemberUserID, true,
		))
	}

	rows, err := b.query(ctx, "ListTeams", builder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.Team{}
	for rows.Next() {
		team := &store.Team{}
		var leaderID sql.NullInt64
		if err := rows.Scan(&team.ID, &team.Name, &team.Description, &leaderID, &team.IsActive, &team.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan team")
		}
		if leaderID.Valid {
			team.TeamLeaderID = &leaderID.Int64
		}
		list = append(list, team)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate teams")
	}
	return list, nil
}

func (b *Base) UpsertTeamMembership(ctx context.Context, upsert *store.TeamMembership) (*store.TeamMembership, error) {
	builder := b.qb().Insert("team_membership").
		Columns("team_id", "user_id", "is_leadership", "is_active").
		Values(upsert.TeamID, upsert.UserID, upsert.IsLeadership, upsert.IsActive).
		Suffix("ON CONFLICT (team_id, user_id) DO UPDATE SET is_leadership = EXCLUDED.is_leadership, is_active = EXCLUDED.is_active RETURNING id, joined_ts")
	row, err := b.queryRow(ctx, b.db, "UpsertTeamMembership", builder)
	if err != nil {
		return nil, err
	}
	membership := *upsert
	if err := scanOne("UpsertTeamMembership", row, &membership.ID, &membership.JoinedTs); err != nil {
		return nil, err
	}
	return &membership, nil
}

func (b *Base) IsActiveTeamMember(ctx context.Context, teamID, userID int64) (bool, error) {
	builder := b.qb().Select("COUNT(*)").From("team_membership").
		Where(sq.Eq{"team_id": teamID, "user_id": userID, "is_active": true})
	row, err := b.queryRow(ctx, b.db, "IsActiveTeamMember", builder)
	if err != nil {
		return false, err
	}
	var count int
	if err := scanOne("IsActiveTeamMember", row, &count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (b *Base) ListTeamMemberIDs(ctx context.Context, find *store.FindTeamMember) ([]int64, error) {
	builder := b.qb().Select("user_id").From("team_membership").
		Where(sq.Eq{"team_id": find.TeamID, "is_active": true}).
		OrderBy("user_id")
	if find.LeadershipOnly {
		builder = builder.Where(sq.Eq{"is_leadership": true})
	}
	return b.listIDs(ctx, "ListTeamMemberIDs", builder)
}

func (b *Base) ListTeamLeaderIDs(ctx context.Context, memberUserID int64) ([]int64, error) {
	builder := b.qb().Select("DISTINCT l.user_id").From("team_membership l").
		Where(sq.Eq{"l.is_leadership": true, "l.is_active": true}).
		Where(sq.Expr("l.team_id IN (SELECT m.team_id FROM team_membership m WHERE m.user_id = ? AND m.is_active = ?)", memberUserID, true)).
		OrderBy("l.user_id")
	return b.listIDs(ctx, "ListTeamLeaderIDs", builder)
}

func (b *Base) listIDs(ctx context.Context, op string, builder sq.Sqlizer) ([]int64, error) {
	rows, err := b.query(ctx, op, builder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", op)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to iterate %s", op)
	}
	return ids, nil
}
