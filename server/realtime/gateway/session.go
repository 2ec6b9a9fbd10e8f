package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/hrygo/tps/internal/metrics"
	"github.com/hrygo/tps/server/auth"
	"github.com/hrygo/tps/server/internal/observability"
	"github.com/hrygo/tps/server/realtime/envelope"
	"github.com/hrygo/tps/server/realtime/registry"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// Session is one accepted websocket connection. It implements registry.Member.
type Session struct {
	id        string
	kind      ConnKind
	principal *auth.Principal
	targetID  int64
	conn      Conn
	log       *observability.RequestContext
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	send      chan *envelope.Envelope
	done      chan struct{}
	closeOnce sync.Once
	// closeCode is written once inside closeOnce and read by the write pump after done.
	closeCode int

	mu     sync.Mutex
	groups map[string]struct{}
}

func newSession(id string, kind ConnKind, p *auth.Principal, targetID int64, conn Conn, log *observability.RequestContext, m *metrics.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		kind:      kind,
		principal: p,
		targetID:  targetID,
		conn:      conn,
		log:       log,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		send:      make(chan *envelope.Envelope, sendBuffer),
		done:      make(chan struct{}),
		groups:    make(map[string]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Kind() ConnKind { return s.kind }

func (s *Session) Principal() *auth.Principal { return s.principal }

// Deliver enqueues env for the write pump without blocking. A full send
// buffer closes the session with 1013 so the client reconnects into live
// fan-out instead of silently missing envelopes.
func (s *Session) Deliver(env *envelope.Envelope) error {
	select {
	case <-s.done:
		return errors.Wrap(registry.ErrTransientDelivery, "connection closed")
	default:
	}
	select {
	case s.send <- env:
		return nil
	case <-s.done:
		return errors.Wrap(registry.ErrTransientDelivery, "connection closed")
	default:
		s.metrics.DeliveryFailed("slow_consumer")
		if s.log != nil {
			s.log.Warn("send buffer full, closing slow connection")
		}
		s.close(websocket.CloseTryAgainLater)
		return errors.Wrap(registry.ErrTransientDelivery, "send buffer full")
	}
}

// Groups returns the groups the session currently belongs to.
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	return out
}

func (s *Session) join(ctx context.Context, reg registry.Registry, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; ok {
		return nil
	}
	if err := reg.JoinGroup(ctx, group, s); err != nil {
		return err
	}
	s.groups[group] = struct{}{}
	return nil
}

// leaveAll detaches the session from every joined group. Later calls find nothing to leave.
func (s *Session) leaveAll(ctx context.Context, reg registry.Registry) error {
	s.mu.Lock()
	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	s.groups = make(map[string]struct{})
	s.mu.Unlock()
	return registry.LeaveAll(ctx, reg, s, groups...)
}

// close stops both pumps. The write pump sends a close frame with code when it exits.
func (s *Session) close(code int) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.cancel()
		close(s.done)
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// writePump owns every write on conn. It exits after sending the close frame.
func (s *Session) writePump(pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(s.closeCode, ""), time.Now().Add(writeWait))
		_ = s.conn.Close()
	}()

	for {
		select {
		case env := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, env.Frame()); err != nil {
				s.log.Debug("write failed, closing connection")
				s.metrics.DeliveryFailed("write")
				s.close(websocket.CloseAbnormalClosure)
				return
			}
			s.metrics.EnvelopeSent(env.Kind().String())
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close(websocket.CloseAbnormalClosure)
				return
			}
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain flushes envelopes queued before close, such as a final error envelope.
func (s *Session) drain() {
	for {
		select {
		case env := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, env.Frame()); err != nil {
				return
			}
			s.metrics.EnvelopeSent(env.Kind().String())
		default:
			return
		}
	}
}

// enqueue builds and delivers an envelope addressed to this session only.
func (s *Session) enqueue(kind envelope.Kind, payload any) {
	env, err := envelope.New(kind, payload, time.Now())
	if err != nil {
		s.log.Error("failed to build envelope", err)
		return
	}
	if err := s.Deliver(env); err != nil {
		s.log.Debug("dropped direct envelope")
	}
}
