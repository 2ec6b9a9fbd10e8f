package envelope

import (
	"encoding/json"
	"time"
)

type ConnectionEstablished struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id,omitempty"`
	TeamID  int64  `json:"team_id,omitempty"`
}

// Pong echoes whatever timestamp value the client sent, unchanged.
type Pong struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

type Error struct {
	Message string `json:"message"`
}

type AssignmentNotification struct {
	AssignmentID int64     `json:"assignment_id"`
	Message      string    `json:"message"`
	ShiftDate    string    `json:"shift_date"`
	ShiftName    string    `json:"shift_name"`
	Timestamp    time.Time `json:"timestamp"`
}

type PlanningNotification struct {
	PlanningID int64     `json:"planning_id"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Timestamp  time.Time `json:"timestamp"`
}

type SwapNotification struct {
	SwapID    int64     `json:"swap_id"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type ApprovalNotification struct {
	RequestID      int64     `json:"request_id"`
	RequestType    string    `json:"request_type"`
	Message        string    `json:"message"`
	RequiresAction bool      `json:"requires_action"`
	Timestamp      time.Time `json:"timestamp"`
}

type SystemNotification struct {
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

type PlanningStarted struct {
	PlanningID int64     `json:"planning_id"`
	Message    string    `json:"message"`
	Algorithm  string    `json:"algorithm"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	Timestamp  time.Time `json:"timestamp"`
}

type PlanningProgress struct {
	PlanningID  int64     `json:"planning_id"`
	Progress    int       `json:"progress"`
	CurrentStep int       `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

type PlanningCompleted struct {
	PlanningID         int64     `json:"planning_id"`
	Success            bool      `json:"success"`
	Message            string    `json:"message"`
	CoveragePercentage float64   `json:"coverage_percentage"`
	FairnessScore      float64   `json:"fairness_score"`
	Conflicts          []string  `json:"conflicts"`
	Warnings           []string  `json:"warnings"`
	Timestamp          time.Time `json:"timestamp"`
}

type PlanningError struct {
	PlanningID int64     `json:"planning_id"`
	Error      string    `json:"error"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

type AssignmentCreated struct {
	AssignmentID int64     `json:"assignment_id"`
	UserID       int64     `json:"user_id"`
	UserName     string    `json:"user_name"`
	ShiftID      int64     `json:"shift_id"`
	ShiftName    string    `json:"shift_name"`
	ShiftDate    string    `json:"shift_date"`
	TeamID       int64     `json:"team_id"`
	AssignedBy   string    `json:"assigned_by"`
	Timestamp    time.Time `json:"timestamp"`
}

type AssignmentUpdated struct {
	AssignmentID int64     `json:"assignment_id"`
	OldStatus    string    `json:"old_status"`
	NewStatus    string    `json:"new_status"`
	UpdatedBy    string    `json:"updated_by"`
	Timestamp    time.Time `json:"timestamp"`
}

type AssignmentDeleted struct {
	AssignmentID int64     `json:"assignment_id"`
	ShiftDate    string    `json:"shift_date"`
	ShiftName    string    `json:"shift_name"`
	DeletedBy    string    `json:"deleted_by"`
	Timestamp    time.Time `json:"timestamp"`
}

type ConflictDetected struct {
	ConflictType  string    `json:"conflict_type"`
	AssignmentIDs []int64   `json:"assignment_ids"`
	Message       string    `json:"message"`
	Severity      string    `json:"severity"`
	Timestamp     time.Time `json:"timestamp"`
}

type SystemStatus struct {
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}
