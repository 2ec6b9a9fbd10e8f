package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	tpserrors "github.com/hrygo/tps/server/internal/errors"
	"github.com/hrygo/tps/server/service/assignment"
	"github.com/hrygo/tps/store"
)

type CreateAssignmentRequest struct {
	UserID        int64 `json:"user_id"`
	ShiftID       int64 `json:"shift_id"`
	AutoAssigned  bool  `json:"auto_assigned"`
	ForceAssigned bool  `json:"force_assigned"`
}

type UpdateAssignmentRequest struct {
	Status store.AssignmentStatus `json:"status"`
}

type AssignmentResponse struct {
	ID            int64                  `json:"id"`
	UserID        int64                  `json:"user_id"`
	ShiftID       int64                  `json:"shift_id"`
	Status        store.AssignmentStatus `json:"status"`
	AutoAssigned  bool                   `json:"auto_assigned"`
	ForceAssigned bool                   `json:"force_assigned"`
	AssignedByID  *int64                 `json:"assigned_by_id,omitempty"`
	AssignedTs    int64                  `json:"assigned_ts"`
	UpdatedTs     int64                  `json:"updated_ts"`
}

func convertAssignment(a *store.Assignment) *AssignmentResponse {
	return &AssignmentResponse{
		ID:            a.ID,
		UserID:        a.UserID,
		ShiftID:       a.ShiftID,
		Status:        a.Status,
		AutoAssigned:  a.AutoAssigned,
		ForceAssigned: a.ForceAssigned,
		AssignedByID:  a.AssignedByID,
		AssignedTs:    a.AssignedTs,
		UpdatedTs:     a.UpdatedTs,
	}
}

// CreateAssignment assigns a user to a shift.
// POST /api/v1/assignments
func (s *APIV1Service) CreateAssignment(c echo.Context) error {
	var req CreateAssignmentRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, tpserrors.InvalidArgument("invalid request body"))
	}
	a, err := s.Assignments.Assign(c.Request().Context(), principal(c), &assignment.AssignRequest{
		UserID:        req.UserID,
		ShiftID:       req.ShiftID,
		AutoAssigned:  req.AutoAssigned,
		ForceAssigned: req.ForceAssigned,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, convertAssignment(a))
}

// UpdateAssignment changes the status of an assignment.
// PATCH /api/v1/assignments/:id
func (s *APIV1Service) UpdateAssignment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return s.respondError(c, err)
	}
	var req UpdateAssignmentRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, tpserrors.InvalidArgument("invalid request body"))
	}
	a, err := s.Assignments.UpdateStatus(c.Request().Context(), principal(c), id, req.Status)
	if err != nil {
		return s.respondError(c, err)
	}
	return ok(c, convertAssignment(a))
}

// DeleteAssignment removes an assignment.
// DELETE /api/v1/assignments/:id
func (s *APIV1Service) DeleteAssignment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return s.respondError(c, err)
	}
	if err := s.Assignments.Delete(c.Request().Context(), principal(c), id); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, tpserrors.InvalidArgument("invalid id")
	}
	return id, nil
}
