// Package publisher turns domain changes into envelopes and hands them to the
// group registry.
//
// Publishing never fails the caller: the change it describes is already
// committed, so delivery problems are logged and counted.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/tps/internal/metrics"
	"github.com/hrygo/tps/server/internal/observability"
	"github.com/hrygo/tps/server/realtime/registry"
	"github.com/hrygo/tps/store"
)

// Directory resolves the recipients of fan-out events. *store.Store satisfies it.
type Directory interface {
	ListTeamMemberIDs(ctx context.Context, find *store.FindTeamMember) ([]int64, error)
	ListTeamLeaderIDs(ctx context.Context, memberUserID int64) ([]int64, error)
}

// Publisher is shared by every writer; it holds no per-event state.
type Publisher struct {
	registry  registry.Registry
	directory Directory
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithTimeout bounds one Publish call, recipient lookups included.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.timeout = d }
}

func withClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func New(reg registry.Registry, dir Directory, opts ...Option) *Publisher {
	p := &Publisher{
		registry:  reg,
		directory: dir,
		timeout:   2 * time.Second,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers ev to its groups in the order the event defines. Envelopes
// built before a recipient lookup failure are still sent.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	start := time.Now()
	defer func() { p.metrics.ObservePublish(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	envelopes, err := ev.route(ctx, p.directory, p.now().UTC())
	if err != nil {
		p.logger.Warn("failed to build event envelopes",
			slog.String(observability.LogFieldEventType, ev.Name()),
			slog.String("error", err.Error()))
	}

	for _, env := range envelopes {
		for _, group := range env.Groups() {
			if err := p.registry.Send(ctx, group, env); err != nil {
				p.metrics.DeliveryFailed("publish")
				p.logger.Warn("failed to publish envelope",
					slog.String(observability.LogFieldEventType, ev.Name()),
					slog.String(observability.LogFieldGroup, group),
					slog.String("error", err.Error()))
			}
		}
	}
}
