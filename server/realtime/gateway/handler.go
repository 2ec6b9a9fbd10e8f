package gateway

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/tps/server/auth"
	"github.com/hrygo/tps/server/realtime/envelope"
	"github.com/hrygo/tps/server/realtime/registry"
	"github.com/hrygo/tps/store"
)

// handlerFunc serves one inbound control message. A returned error is sent
// back to the client as an error envelope; the connection stays open.
type handlerFunc func(ctx context.Context, g *Gateway, s *Session, in *envelope.Inbound) error

// handlers lists the control messages each connection kind accepts.
// Anything missing from a kind's table is ignored.
var handlers = map[ConnKind]map[envelope.InboundKind]handlerFunc{
	KindNotifications: {
		envelope.InboundPing:                 handlePing,
		envelope.InboundMarkNotificationRead: handleMarkRead,
	},
	KindPlanning: {
		envelope.InboundPing:              handlePing,
		envelope.InboundSubscribePlanning: handleSubscribePlanning,
	},
	KindAssignments: {
		envelope.InboundPing:          handlePing,
		envelope.InboundSubscribeTeam: handleSubscribeTeam,
	},
	KindSystem: {
		envelope.InboundPing:          handlePing,
		envelope.InboundSubscribeTeam: handleSubscribeTeam,
	},
}

var (
	errNotificationNotFound = errors.New("notification not found")
	errPlanningForbidden    = errors.New("access denied to team planning")
	errTeamForbidden        = errors.New("access denied to team")
)

// clientMessages are the error envelope texts of rejections a client can act on.
var clientMessages = map[error]string{
	errNotificationNotFound: "Notification not found",
	errPlanningForbidden:    "Access denied to team planning",
	errTeamForbidden:        "Access denied to team",
}

func handlePing(_ context.Context, _ *Gateway, s *Session, in *envelope.Inbound) error {
	s.enqueue(envelope.KindPong, envelope.Pong{Timestamp: in.Timestamp})
	return nil
}

// handleMarkRead marks a notification of the connection's own user as read.
func handleMarkRead(ctx context.Context, g *Gateway, s *Session, in *envelope.Inbound) error {
	ok, err := g.store.MarkNotificationRead(ctx, in.NotificationID, s.targetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errNotificationNotFound
		}
		return errors.Wrap(err, "failed to mark notification read")
	}
	if !ok {
		return errNotificationNotFound
	}
	return nil
}

func handleSubscribePlanning(ctx context.Context, g *Gateway, s *Session, in *envelope.Inbound) error {
	if !auth.CanAccessTeamPlanning(ctx, g.store, s.principal, in.TeamID) {
		return errPlanningForbidden
	}
	return s.join(ctx, g.registry, registry.TeamPlanning(in.TeamID))
}

func handleSubscribeTeam(ctx context.Context, g *Gateway, s *Session, in *envelope.Inbound) error {
	if !auth.CanAccessTeam(ctx, g.store, s.principal, in.TeamID) {
		return errTeamForbidden
	}
	return s.join(ctx, g.registry, registry.TeamAssignments(in.TeamID))
}

// dispatch decodes one frame and runs its handler under the dispatch timeout.
// It returns false when the connection must be closed.
func (g *Gateway) dispatch(s *Session, frame []byte) bool {
	in, err := envelope.ParseInbound(frame)
	if err != nil {
		s.enqueue(envelope.KindError, envelope.Error{Message: clientMessage(err)})
		return true
	}

	handle, ok := handlers[s.kind][in.Kind]
	if !ok {
		s.log.Debug("ignoring inbound message", slog.String("type", in.Type))
		return true
	}

	ctx, cancel := context.WithTimeout(s.ctx, g.cfg.DispatchTimeout)
	defer cancel()
	err = handle(ctx, g, s, in)
	if ctx.Err() == context.DeadlineExceeded {
		s.log.Warn("dispatch timed out", slog.String("type", in.Type))
		return false
	}
	if err != nil {
		s.log.Warn("inbound message rejected",
			slog.String("type", in.Type),
			slog.String("error", err.Error()))
		s.enqueue(envelope.KindError, envelope.Error{Message: clientMessage(err)})
	}
	return true
}

// clientMessage keeps internal failure details out of error envelopes.
func clientMessage(err error) string {
	if errors.Is(err, envelope.ErrMalformedMessage) {
		return "Invalid JSON format"
	}
	if msg, ok := clientMessages[errors.Cause(err)]; ok {
		return msg
	}
	return "Internal error"
}
