// Package registry tracks which connections belong to which named groups and
// delivers envelopes to group members.
//
// Membership changes are serialized per group; Send reads an immutable member
// snapshot through an atomic pointer and never takes a lock.
package registry

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/hrygo/tps/internal/metrics"
	"github.com/hrygo/tps/server/realtime/envelope"
)

// ErrTransientDelivery marks a delivery that failed for reasons outside the
// sender's control. It is logged, never returned to publishers.
var ErrTransientDelivery = errors.New("transient delivery failure")

// Member is a connection that can receive envelopes.
type Member interface {
	ID() string
	// Deliver must not block; it enqueues the envelope for the connection's writer.
	Deliver(env *envelope.Envelope) error
}

// Registry is implemented by the in-process Hub and the broker-backed Broker.
type Registry interface {
	JoinGroup(ctx context.Context, group string, m Member) error
	LeaveGroup(ctx context.Context, group string, m Member) error
	Send(ctx context.Context, group string, env *envelope.Envelope) error
}

// LeaveAll removes m from every listed group. It is safe to call repeatedly.
func LeaveAll(ctx context.Context, r Registry, m Member, groups ...string) error {
	var errs []error
	for _, name := range groups {
		if err := r.LeaveGroup(ctx, name, m); err != nil {
			errs = append(errs, errors.Wrapf(err, "leave %s", name))
		}
	}
	return stderrors.Join(errs...)
}

// Hub is the in-process registry.
type Hub struct {
	groups  *xsync.Map[string, *group]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type group struct {
	name string
	mu   sync.Mutex
	// dead is set once the group is removed from the map; joiners must retry.
	dead    bool
	members atomic.Pointer[[]Member]
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		groups:  xsync.NewMap[string, *group](),
		logger:  logger,
		metrics: m,
	}
}

// JoinGroup adds m to the group, creating the group on first join. Joining twice is a no-op.
func (h *Hub) JoinGroup(_ context.Context, name string, m Member) error {
	for {
		g, _ := h.groups.LoadOrStore(name, &group{name: name})
		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			continue
		}

		current := g.snapshot()
		for _, existing := range current {
			if existing.ID() == m.ID() {
				g.mu.Unlock()
				return nil
			}
		}
		next := make([]Member, len(current), len(current)+1)
		copy(next, current)
		next = append(next, m)
		g.members.Store(&next)
		g.mu.Unlock()
		return nil
	}
}

// LeaveGroup removes m. The group is dropped once it has no members.
func (h *Hub) LeaveGroup(_ context.Context, name string, m Member) error {
	g, ok := h.groups.Load(name)
	if !ok {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dead {
		return nil
	}

	current := g.snapshot()
	next := make([]Member, 0, len(current))
	for _, existing := range current {
		if existing.ID() != m.ID() {
			next = append(next, existing)
		}
	}
	if len(next) == len(current) {
		return nil
	}
	if len(next) == 0 {
		g.dead = true
		h.groups.Delete(name)
	}
	g.members.Store(&next)
	return nil
}

// Send delivers env to the members present when the snapshot is taken.
// A member that fails to accept the envelope does not affect the others.
func (h *Hub) Send(ctx context.Context, name string, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(ErrTransientDelivery, err.Error())
	}
	g, ok := h.groups.Load(name)
	if !ok {
		return nil
	}

	for _, m := range g.snapshot() {
		if err := m.Deliver(env); err != nil {
			h.metrics.DeliveryFailed("member")
			h.logger.Warn("failed to deliver envelope",
				slog.String("group", name),
				slog.String("connection_id", m.ID()),
				slog.String("type", env.Kind().String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Members returns the ids of the current members of a group.
func (h *Hub) Members(name string) []string {
	g, ok := h.groups.Load(name)
	if !ok {
		return nil
	}
	members := g.snapshot()
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID()
	}
	return ids
}

// GroupCount returns the number of non-empty groups.
func (h *Hub) GroupCount() int {
	return h.groups.Size()
}

func (g *group) snapshot() []Member {
	if p := g.members.Load(); p != nil {
		return *p
	}
	return nil
}

var _ Registry = (*Hub)(nil)
