package envelope

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Inbound is a decoded client control message.
type Inbound struct {
	Kind           InboundKind
	Type           string // raw type name, kept for logging unknown messages
	Timestamp      json.RawMessage
	NotificationID int64
	PlanningID     int64
	TeamID         int64
}

type inboundFrame struct {
	Type           *string         `json:"type"`
	Timestamp      json.RawMessage `json:"timestamp"`
	NotificationID *json.Number    `json:"notification_id"`
	PlanningID     *json.Number    `json:"planning_id"`
	TeamID         *json.Number    `json:"team_id"`
}

// ParseInbound decodes a client frame. Invalid JSON, a missing type or a missing
// required field yields ErrMalformedMessage. Unrecognized types decode to
// InboundUnknown without error.
func ParseInbound(frame []byte) (*Inbound, error) {
	var raw inboundFrame
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, "invalid JSON format")
	}
	if raw.Type == nil || *raw.Type == "" {
		return nil, errors.Wrap(ErrMalformedMessage, "missing type")
	}

	in := &Inbound{
		Kind:      inboundNames[*raw.Type],
		Type:      *raw.Type,
		Timestamp: raw.Timestamp,
	}

	var err error
	switch in.Kind {
	case InboundMarkNotificationRead:
		in.NotificationID, err = requiredID(raw.NotificationID, "notification_id")
	case InboundSubscribePlanning:
		in.TeamID, err = requiredID(raw.TeamID, "team_id")
		if err == nil {
			in.PlanningID, err = optionalID(raw.PlanningID, "planning_id")
		}
	case InboundSubscribeTeam:
		in.TeamID, err = requiredID(raw.TeamID, "team_id")
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

func requiredID(n *json.Number, field string) (int64, error) {
	if n == nil {
		return 0, errors.Wrapf(ErrMalformedMessage, "missing %s", field)
	}
	return optionalID(n, field)
}

func optionalID(n *json.Number, field string) (int64, error) {
	if n == nil {
		return 0, nil
	}
	id, err := n.Int64()
	if err != nil || id <= 0 {
		return 0, errors.Wrapf(ErrMalformedMessage, "invalid %s", field)
	}
	return id, nil
}
