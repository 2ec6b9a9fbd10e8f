package sqlbase

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/hrygo/tps/store"
)

func (b *Base) CreateShift(ctx context.Context, create *store.Shift) (*store.Shift, error) {
	shift := *create
	weekday := time.Unix(shift.StartTs, 0).UTC().Weekday()
	shift.IsWeekend = weekday == time.Saturday || weekday == time.Sunday

	builder := b.qb().Insert("shift").
		Columns("team_id", "name", "category", "start_ts", "end_ts", "duration_hours", "is_overnight", "is_weekend").
		Values(shift.TeamID, shift.Name, shift.Category, shift.StartTs, shift.EndTs, shift.DurationHours, shift.IsOvernight, shift.IsWeekend).
		Suffix("RETURNING id, created_ts")
	row, err := b.queryRow(ctx, b.db, "CreateShift", builder)
	if err != nil {
		return nil, err
	}
	if err := scanOne("CreateShift", row, &shift.ID, &shift.CreatedTs); err != nil {
		return nil, err
	}
	return &shift, nil
}

func (b *Base) GetShift(ctx context.Context, id int64) (*store.Shift, error) {
	builder := b.qb().
		Select("id", "team_id", "name", "category", "start_ts", "end_ts", "duration_hours", "is_overnight", "is_weekend", "created_ts").
		From("shift").
		Where(sq.Eq{"id": id})
	row, err := b.queryRow(ctx, b.db, "GetShift", builder)
	if err != nil {
		return nil, err
	}
	shift := &store.Shift{}
	if err := scanOne("GetShift", row,
		&shift.ID, &shift.TeamID, &shift.Name, &shift.Category, &shift.StartTs, &shift.EndTs,
		&shift.DurationHours, &shift.IsOvernight, &shift.IsWeekend, &shift.CreatedTs,
	); err != nil {
		return nil, err
	}
	return shift, nil
}

func (b *Base) CreateAssignment(ctx context.Context, create *store.Assignment, notify *store.Notification) (*store.Assignment, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	values := map[string]any{
		"user_id":        create.UserID,
		"shift_id":       create.ShiftID,
		"status":         string(create.Status),
		"auto_assigned":  create.AutoAssigned,
		"force_assigned": create.ForceAssigned,
		"assigned_by_id": create.AssignedByID,
	}
	// Zero timestamps fall back to the column defaults.
	if create.AssignedTs != 0 {
		values["assigned_ts"] = create.AssignedTs
	}
	if create.UpdatedTs != 0 {
		values["updated_ts"] = create.UpdatedTs
	}
	builder := b.qb().Insert("assignment").
		SetMap(values).
		Suffix("RETURNING id, assigned_ts, updated_ts")
	row, err := b.queryRow(ctx, tx, "CreateAssignment", builder)
	if err != nil {
		return nil, err
	}
	assignment := *create
	if err := scanOne("CreateAssignment", row, &assignment.ID, &assignment.AssignedTs, &assignment.UpdatedTs); err != nil {
		return nil, err
	}

	if notify != nil {
		if _, err := b.createNotification(ctx, tx, notify); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit assignment")
	}
	return &assignment, nil
}

func (b *Base) GetAssignment(ctx context.Context, id int64) (*store.Assignment, error) {
	return b.getAssignment(ctx, b.db, id)
}

func (b *Base) getAssignment(ctx context.Context, q Querier, id int64) (*store.Assignment, error) {
	builder := b.qb().
		Select("id", "user_id", "shift_id", "status", "auto_assigned", "force_assigned", "assigned_by_id", "assigned_ts", "updated_ts").
		From("assignment").
		Where(sq.Eq{"id": id})
	row, err := b.queryRow(ctx, q, "GetAssignment", builder)
	if err != nil {
		return nil, err
	}
	assignment := &store.Assignment{}
	var status string
	var assignedBy sql.NullInt64
	if err := scanOne("GetAssignment", row,
		&assignment.ID, &assignment.UserID, &assignment.ShiftID, &status, &assignment.AutoAssigned,
		&assignment.ForceAssigned, &assignedBy, &assignment.AssignedTs, &assignment.UpdatedTs,
	); err != nil {
		return nil, err
	}
	assignment.Status = store.AssignmentStatus(status)
	if assignedBy.Valid {
		assignment.AssignedByID = &assignedBy.Int64
	}
	return assignment, nil
}

func (b *Base) UpdateAssignment(ctx context.Context, update *store.UpdateAssignment) (*store.Assignment, error) {
	updatedTs := update.UpdatedTs
	if updatedTs == 0 {
		updatedTs = time.Now().Unix()
	}
	builder := b.qb().Update("assignment").
		Set("status", string(update.Status)).
		Set("updated_ts", updatedTs).
		Where(sq.Eq{"id": update.ID})
	result, err := b.exec(ctx, b.db, "UpdateAssignment", builder)
	if err != nil {
		return nil, err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, store.ErrNotFound
	}
	return b.getAssignment(ctx, b.db, update.ID)
}

func (b *Base) DeleteAssignment(ctx context.Context, id int64) error {
	result, err := b.exec(ctx, b.db, "DeleteAssignment", b.qb().Delete("assignment").Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Base) CreateNotification(ctx context.Context, create *store.Notification) (*store.Notification, error) {
	return b.createNotification(ctx, b.db, create)
}

func (b *Base) createNotification(ctx context.Context, q Querier, create *store.Notification) (*store.Notification, error) {
	builder := b.qb().Insert("notification").
		Columns("user_id", "title", "message").
		Values(create.UserID, create.Title, create.Message).
		Suffix("RETURNING id, created_ts")
	row, err := b.queryRow(ctx, q, "CreateNotification", builder)
	if err != nil {
		return nil, err
	}
	notification := *create
	if err := scanOne("CreateNotification", row, &notification.ID, &notification.CreatedTs); err != nil {
		return nil, err
	}
	return &notification, nil
}

func (b *Base) MarkNotificationRead(ctx context.Context, notificationID, userID int64) (bool, error) {
	builder := b.qb().Update("notification").
		Set("is_read", true).
		Set("read_ts", time.Now().Unix()).
		Where(sq.Eq{"id": notificationID, "user_id": userID})
	result, err := b.exec(ctx, b.db, "MarkNotificationRead", builder)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return affected > 0, nil
}

func (b *Base) CreateLeaveRequest(ctx context.Context, create *store.LeaveRequest) (*store.LeaveRequest, error) {
	builder := b.qb().Insert("leave_request").
		Columns("user_id", "status", "start_date", "end_date").
		Values(create.UserID, string(create.Status), create.StartDate, create.EndDate).
		Suffix("RETURNING id, created_ts")
	row, err := b.queryRow(ctx, b.db, "CreateLeaveRequest", builder)
	if err != nil {
		return nil, err
	}
	leave := *create
	if err := scanOne("CreateLeaveRequest", row, &leave.ID, &leave.CreatedTs); err != nil {
		return nil, err
	}
	return &leave, nil
}
