// Package assignment is the write path for shift assignments.
//
// Ordering matters: readers may only observe a change after it is durable, so
// the store commit comes first, the cache invalidation second and the realtime
// publish last. Publishing never fails a committed write.
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tps/server/auth"
	tpserrors "github.com/hrygo/tps/server/internal/errors"
	"github.com/hrygo/tps/server/realtime/publisher"
	"github.com/hrygo/tps/store"
)

// systemActor names the author of changes made without a principal, such as
// automatic planning runs.
const systemActor = "System"

var validStatuses = map[store.AssignmentStatus]bool{
	store.AssignmentPendingConfirmation: true,
	store.AssignmentConfirmed:           true,
	store.AssignmentCompleted:           true,
	store.AssignmentCancelled:           true,
	store.AssignmentDeclined:            true,
	store.AssignmentNoShow:              true,
}

type service struct {
	store       Store
	invalidator Invalidator
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a new assignment service.
func NewService(st Store, inv Invalidator, pub Publisher, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{store: st, invalidator: inv, publisher: pub, logger: logger, now: time.Now}
}

func (s *service) Assign(ctx context.Context, actor *auth.Principal, req *AssignRequest) (*store.Assignment, error) {
	if actor != nil && !actor.CanPlan() {
		return nil, tpserrors.Forbidden("only planners may assign shifts")
	}
	if req == nil || req.UserID <= 0 || req.ShiftID <= 0 {
		return nil, tpserrors.InvalidArgument("user and shift are required")
	}

	user, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	shift, err := s.store.GetShift(ctx, req.ShiftID)
	if err != nil {
		return nil, notFound(err, "shift")
	}

	now := s.now().Unix()
	create := &store.Assignment{
		UserID:        user.ID,
		ShiftID:       shift.ID,
		Status:        store.AssignmentPendingConfirmation,
		AutoAssigned:  req.AutoAssigned,
		ForceAssigned: req.ForceAssigned,
		AssignedTs:    now,
		UpdatedTs:     now,
	}
	if actor != nil {
		create.AssignedByID = &actor.UserID
	}
	notify := &store.Notification{
		UserID:    user.ID,
		Title:     "New shift assignment",
		Message:   fmt.Sprintf("You have been assigned to %s on %s", shift.Name, shift.Date()),
		CreatedTs: now,
	}

	created, err := s.store.CreateAssignment(ctx, create, notify)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create assignment")
	}

	s.invalidator.OnAssignmentChanged(ctx, shift.TeamID, user.ID)
	s.publisher.Publish(ctx, publisher.AssignmentCreated{
		AssignmentID: created.ID,
		UserID:       user.ID,
		UserName:     user.FullName(),
		ShiftID:      shift.ID,
		ShiftName:    shift.Name,
		ShiftDate:    shift.Date(),
		TeamID:       shift.TeamID,
		AssignedBy:   s.actorName(ctx, actor),
	})
	return created, nil
}

func (s *service) UpdateStatus(ctx context.Context, actor *auth.Principal, id int64, status store.AssignmentStatus) (*store.Assignment, error) {
	if !validStatuses[status] {
		return nil, tpserrors.InvalidArgument(fmt.Sprintf("unknown assignment status %q", status))
	}

	current, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, notFound(err, "assignment")
	}
	if err := canUpdate(actor, current, status); err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	shift, err := s.store.GetShift(ctx, current.ShiftID)
	if err != nil {
		return nil, notFound(err, "shift")
	}

	updated, err := s.store.UpdateAssignment(ctx, &store.UpdateAssignment{
		ID:        id,
		Status:    status,
		UpdatedTs: s.now().Unix(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to update assignment")
	}

	s.invalidator.OnAssignmentChanged(ctx, shift.TeamID, current.UserID)
	s.publisher.Publish(ctx, publisher.AssignmentUpdated{
		AssignmentID: id,
		UserID:       current.UserID,
		TeamID:       shift.TeamID,
		ShiftName:    shift.Name,
		ShiftDate:    shift.Date(),
		OldStatus:    current.Status,
		NewStatus:    status,
		UpdatedBy:    s.actorName(ctx, actor),
	})
	return updated, nil
}

func (s *service) Delete(ctx context.Context, actor *auth.Principal, id int64) error {
	if actor != nil && !actor.CanPlan() {
		return tpserrors.Forbidden("only planners may delete assignments")
	}

	current, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return notFound(err, "assignment")
	}
	shift, err := s.store.GetShift(ctx, current.ShiftID)
	if err != nil {
		return notFound(err, "shift")
	}

	if err := s.store.DeleteAssignment(ctx, id); err != nil {
		return errors.Wrap(err, "failed to delete assignment")
	}

	s.invalidator.OnAssignmentChanged(ctx, shift.TeamID, current.UserID)
	s.publisher.Publish(ctx, publisher.AssignmentDeleted{
		AssignmentID: id,
		UserID:       current.UserID,
		TeamID:       shift.TeamID,
		ShiftName:    shift.Name,
		ShiftDate:    shift.Date(),
		DeletedBy:    s.actorName(ctx, actor),
	})
	return nil
}

// canUpdate allows planners everything and assignees to answer their own
// pending confirmation.
func canUpdate(actor *auth.Principal, a *store.Assignment, status store.AssignmentStatus) error {
	if actor == nil || actor.CanPlan() {
		return nil
	}
	if actor.UserID != a.UserID {
		return tpserrors.Forbidden("not your assignment")
	}
	if a.Status != store.AssignmentPendingConfirmation {
		return tpserrors.Forbidden("assignment is no longer awaiting confirmation")
	}
	if status != store.AssignmentConfirmed && status != store.AssignmentDeclined {
		return tpserrors.Forbidden("assignees may only confirm or decline")
	}
	return nil
}

func (s *service) actorName(ctx context.Context, actor *auth.Principal) string {
	if actor == nil {
		return systemActor
	}
	u, err := s.store.GetUser(ctx, actor.UserID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve actor name",
			slog.Int64("user_id", actor.UserID),
			slog.String("error", err.Error()))
		return fmt.Sprintf("user %d", actor.UserID)
	}
	return u.FullName()
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return tpserrors.Wrap(err, tpserrors.ErrCodeNotFound, what+" not found")
	}
	return errors.Wrapf(err, "failed to get %s", what)
}
