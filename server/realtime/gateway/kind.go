package gateway

// ConnKind is the endpoint a connection was opened on.
type ConnKind uint8

const (
	KindNotifications ConnKind = iota + 1
	KindPlanning
	KindAssignments
	KindSystem
)

func (k ConnKind) String() string {
	switch k {
	case KindNotifications:
		return "notifications"
	case KindPlanning:
		return "planning"
	case KindAssignments:
		return "assignments"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Route paths. :user_id and :team_id are the resource id of the connection.
const (
	PathNotifications = "/ws/notifications/:user_id/"
	PathPlanning      = "/ws/planning/:team_id/"
	PathAssignments   = "/ws/assignments/"
	PathSystem        = "/ws/system/"
)

// resourceParam names the path parameter carrying the connection's resource id.
func (k ConnKind) resourceParam() string {
	switch k {
	case KindNotifications:
		return "user_id"
	case KindPlanning:
		return "team_id"
	default:
		return ""
	}
}

func (k ConnKind) established() string {
	switch k {
	case KindNotifications:
		return "Connected to notifications"
	case KindPlanning:
		return "Connected to planning updates"
	default:
		return "Connected to assignment updates"
	}
}
