// Package gateway accepts websocket connections, authorizes them against the
// endpoint they were opened on and attaches them to registry groups.
//
// Each connection runs a read pump in the upgrading goroutine and a write pump
// in its own goroutine. Only the write pump writes to the socket.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/hrygo/tps/internal/metrics"
	"github.com/hrygo/tps/server/auth"
	tpserrors "github.com/hrygo/tps/server/internal/errors"
	"github.com/hrygo/tps/server/internal/observability"
	"github.com/hrygo/tps/server/middleware"
	"github.com/hrygo/tps/server/realtime/envelope"
	"github.com/hrygo/tps/server/realtime/registry"
)

// Store is the persistence the gateway needs. *store.Store satisfies it.
type Store interface {
	auth.MembershipChecker
	MarkNotificationRead(ctx context.Context, notificationID, userID int64) (bool, error)
}

// Config holds the connection timeouts and inbound limits.
type Config struct {
	HandshakeTimeout time.Duration
	DispatchTimeout  time.Duration
	// IdleTimeout closes a connection that has sent nothing, pongs included, for this long.
	IdleTimeout  time.Duration
	InboundRate  float64
	InboundBurst int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.DispatchTimeout <= 0 {
		out.DispatchTimeout = 5 * time.Second
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 60 * time.Second
	}
	if out.InboundRate <= 0 {
		out.InboundRate = 20
	}
	if out.InboundBurst <= 0 {
		out.InboundBurst = 40
	}
	return out
}

// Gateway owns every open session of this process.
type Gateway struct {
	registry registry.Registry
	auth     *auth.Authenticator
	store    Store
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	upgrader websocket.Upgrader
	limiter  *middleware.RateLimiter
	sessions *xsync.Map[string, *Session]
	shutdown atomic.Bool
}

// New creates a gateway. logger and m may be nil.
func New(reg registry.Registry, authn *auth.Authenticator, st Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		registry: reg,
		auth:     authn,
		store:    st,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect from the web app's own origin; tokens gate access.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		limiter:  middleware.NewRateLimiter(cfg.InboundRate, cfg.InboundBurst),
		sessions: xsync.NewMap[string, *Session](),
	}
}

// Register mounts the websocket endpoints on e.
func (g *Gateway) Register(e *echo.Echo) {
	e.GET(PathNotifications, g.handle(KindNotifications))
	e.GET(PathPlanning, g.handle(KindPlanning))
	e.GET(PathAssignments, g.handle(KindAssignments))
	e.GET(PathSystem, g.handle(KindSystem))
}

// SessionCount returns the number of open sessions.
func (g *Gateway) SessionCount() int {
	return g.sessions.Size()
}

// Shutdown closes every session with 1001 and waits until they have left
// their groups or ctx is done.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdown.Store(true)
	g.sessions.Range(func(_ string, s *Session) bool {
		s.close(websocket.CloseGoingAway)
		return true
	})

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for g.sessions.Size() > 0 {
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%d sessions still open", g.sessions.Size())
		case <-ticker.C:
		}
	}
	return nil
}

func (g *Gateway) handle(kind ConnKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// The upgrader has already answered with an HTTP error.
			g.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
			return nil
		}
		var param string
		if name := kind.resourceParam(); name != "" {
			param = c.Param(name)
		}
		g.serve(c.Request(), kind, param, conn)
		return nil
	}
}

// serve runs one connection to completion.
func (g *Gateway) serve(r *http.Request, kind ConnKind, param string, conn Conn) {
	if g.shutdown.Load() {
		g.reject(conn, kind, tpserrors.Wrap(nil, tpserrors.ErrCodeInternal, "shutting down"), websocket.CloseGoingAway)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HandshakeTimeout)
	p, targetID, err := g.authorize(ctx, r, kind, param)
	if err != nil {
		cancel()
		g.reject(conn, kind, err, tpserrors.CloseCode(err))
		return
	}

	id := shortuuid.New()
	log := observability.NewRequestContext(g.logger, kind.String(), p.UserID).ForConnection(id)
	s := newSession(id, kind, p, targetID, conn, log, g.metrics)
	for _, group := range g.initialGroups(kind, targetID) {
		if err := s.join(ctx, g.registry, group); err != nil {
			cancel()
			log.Error("failed to join group", err, slog.String(observability.LogFieldGroup, group))
			_ = s.leaveAll(context.Background(), g.registry)
			g.reject(conn, kind, err, tpserrors.CloseInternal)
			return
		}
	}
	cancel()

	g.sessions.Store(id, s)
	g.metrics.ConnectionOpened(kind.String())
	log.Info("websocket connected")
	if g.shutdown.Load() {
		s.close(websocket.CloseGoingAway)
	}

	established := envelope.ConnectionEstablished{Message: kind.established()}
	switch kind {
	case KindNotifications:
		established.UserID = targetID
	case KindPlanning:
		established.TeamID = targetID
	}
	s.enqueue(envelope.KindConnectionEstablished, established)

	go s.writePump(g.cfg.IdleTimeout * 9 / 10)
	g.readPump(s)
	g.disconnect(s)
}

// authorize resolves the principal and checks it against the endpoint.
func (g *Gateway) authorize(ctx context.Context, r *http.Request, kind ConnKind, param string) (*auth.Principal, int64, error) {
	p, err := g.auth.Authenticate(r)
	if err != nil {
		return nil, 0, err
	}

	switch kind {
	case KindNotifications:
		userID, err := parseID(param)
		if err != nil {
			return nil, 0, err
		}
		if !auth.CanAccessUser(p, userID) {
			return nil, 0, tpserrors.Forbidden("access denied to notifications")
		}
		return p, userID, nil
	case KindPlanning:
		teamID, err := parseID(param)
		if err != nil {
			return nil, 0, err
		}
		if !auth.CanAccessTeamPlanning(ctx, g.store, p, teamID) {
			if ctx.Err() != nil {
				return nil, 0, tpserrors.Wrap(ctx.Err(), tpserrors.ErrCodeTimeout, "authorization timed out")
			}
			return nil, 0, tpserrors.Forbidden("access denied to team planning")
		}
		return p, teamID, nil
	default:
		return p, 0, nil
	}
}

func (g *Gateway) initialGroups(kind ConnKind, targetID int64) []string {
	switch kind {
	case KindNotifications:
		return []string{registry.UserNotifications(targetID)}
	case KindPlanning:
		return []string{registry.TeamPlanning(targetID)}
	default:
		return []string{registry.GlobalAssignments}
	}
}

func (g *Gateway) reject(conn Conn, kind ConnKind, err error, code int) {
	g.metrics.ConnectionRejected(strconv.Itoa(code))
	g.logger.Info("websocket rejected",
		slog.String(observability.LogFieldKind, kind.String()),
		slog.Int("close_code", code),
		slog.String("error", err.Error()))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(writeWait))
	_ = conn.Close()
}

// readPump reads frames until the peer goes away, the idle deadline passes
// or the session is closed.
func (g *Gateway) readPump(s *Session) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !s.closed() {
				s.log.Debug("read failed", slog.String("error", err.Error()))
			}
			s.close(websocket.CloseNormalClosure)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))

		if !g.limiter.Allow(s.id) {
			s.enqueue(envelope.KindError, envelope.Error{Message: "Rate limit exceeded"})
			continue
		}
		if !g.dispatch(s, frame) {
			s.close(tpserrors.CloseInternal)
			return
		}
	}
}

// disconnect releases everything the session holds. It is safe to call more than once.
func (g *Gateway) disconnect(s *Session) {
	s.close(websocket.CloseNormalClosure)
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.DispatchTimeout)
	defer cancel()
	if err := s.leaveAll(ctx, g.registry); err != nil {
		s.log.Warn("failed to leave groups", slog.String("error", err.Error()))
	}
	g.limiter.Forget(s.id)
	if _, loaded := g.sessions.LoadAndDelete(s.id); loaded {
		g.metrics.ConnectionClosed(s.kind.String())
		s.log.Info("websocket disconnected", slog.Int64(observability.LogFieldDuration, s.log.DurationMs()))
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, tpserrors.InvalidArgument("invalid resource id")
	}
	return id, nil
}
