package envelope

// Kind is the closed set of outbound envelope types.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConnectionEstablished
	KindPong
	KindError
	KindAssignmentNotification
	KindPlanningNotification
	KindSwapNotification
	KindApprovalNotification
	KindSystemNotification
	KindPlanningStarted
	KindPlanningProgress
	KindPlanningCompleted
	KindPlanningError
	KindAssignmentCreated
	KindAssignmentUpdated
	KindAssignmentDeleted
	KindConflictDetected
	KindSystemStatus

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:                "unknown",
	KindConnectionEstablished:  "connection_established",
	KindPong:                   "pong",
	KindError:                  "error",
	KindAssignmentNotification: "assignment_notification",
	KindPlanningNotification:   "planning_notification",
	KindSwapNotification:       "swap_notification",
	KindApprovalNotification:   "approval_notification",
	KindSystemNotification:     "system_notification",
	KindPlanningStarted:        "planning_started",
	KindPlanningProgress:       "planning_progress",
	KindPlanningCompleted:      "planning_completed",
	KindPlanningError:          "planning_error",
	KindAssignmentCreated:      "assignment_created",
	KindAssignmentUpdated:      "assignment_updated",
	KindAssignmentDeleted:      "assignment_deleted",
	KindConflictDetected:       "conflict_detected",
	KindSystemStatus:           "system_status",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, kindCount)
	for k := KindUnknown + 1; k < kindCount; k++ {
		m[kindNames[k]] = k
	}
	return m
}()

func (k Kind) String() string {
	if k >= kindCount {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseKind resolves a wire type name.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindsByName[name]
	return k, ok
}

// InboundKind is the closed set of control messages a client may send.
type InboundKind uint8

const (
	InboundUnknown InboundKind = iota
	InboundPing
	InboundMarkNotificationRead
	InboundSubscribePlanning
	InboundSubscribeTeam
)

var inboundNames = map[string]InboundKind{
	"ping":                   InboundPing,
	"mark_notification_read": InboundMarkNotificationRead,
	"subscribe_planning":     InboundSubscribePlanning,
	"subscribe_team":         InboundSubscribeTeam,
}

func (k InboundKind) String() string {
	for name, kind := range inboundNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}
