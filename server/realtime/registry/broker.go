package registry

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/hrygo/tps/internal/metrics"
	"github.com/hrygo/tps/server/realtime/envelope"
)

// Broker shares one logical set of groups across processes through NATS.
//
// Every process subscribes to <prefix>.> and relays incoming envelopes to its
// local Hub; membership itself stays local. Send publishes to <prefix>.<group>,
// including the publishing process, which receives its own messages back.
type Broker struct {
	local   *Hub
	nc      *nats.Conn
	prefix  string
	sub     *nats.Subscription
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBroker subscribes to the group subject space and starts relaying to local.
func NewBroker(nc *nats.Conn, local *Hub, prefix string, logger *slog.Logger, m *metrics.Metrics) (*Broker, error) {
	if nc == nil || local == nil {
		return nil, errors.New("nats connection and local hub are required")
	}
	if prefix == "" {
		prefix = "tps.groups"
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Broker{
		local:   local,
		nc:      nc,
		prefix:  prefix,
		logger:  logger,
		metrics: m,
	}
	sub, err := nc.Subscribe(prefix+".>", b.relay)
	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to group subjects")
	}
	b.sub = sub
	// Make sure the subscription is registered before the first Send.
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, errors.Wrap(err, "failed to flush group subscription")
	}
	return b, nil
}

func (b *Broker) JoinGroup(ctx context.Context, group string, m Member) error {
	return b.local.JoinGroup(ctx, group, m)
}

func (b *Broker) LeaveGroup(ctx context.Context, group string, m Member) error {
	return b.local.LeaveGroup(ctx, group, m)
}

// Send publishes env for every process. When the broker is unreachable the
// envelope is dropped and logged; Send never blocks on a reconnecting client.
func (b *Broker) Send(ctx context.Context, group string, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(ErrTransientDelivery, err.Error())
	}
	if status := b.nc.Status(); status != nats.CONNECTED {
		b.metrics.DeliveryFailed("broker_unavailable")
		b.logger.Error("dropping envelope, broker unavailable",
			slog.String("group", group),
			slog.String("type", env.Kind().String()),
			slog.String("status", status.String()))
		return nil
	}
	if err := b.nc.Publish(b.subject(group), env.Frame()); err != nil {
		b.metrics.DeliveryFailed("broker_publish")
		b.logger.Error("failed to publish envelope",
			slog.String("group", group),
			slog.String("type", env.Kind().String()),
			slog.String("error", errors.Wrap(ErrTransientDelivery, err.Error()).Error()))
	}
	return nil
}

// Close stops relaying. The NATS connection is owned by the caller.
func (b *Broker) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}

func (b *Broker) subject(group string) string {
	return b.prefix + "." + group
}

func (b *Broker) relay(msg *nats.Msg) {
	group := strings.TrimPrefix(msg.Subject, b.prefix+".")
	env, err := envelope.Decode(msg.Data, group)
	if err != nil {
		b.logger.Warn("discarding undecodable envelope",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()))
		return
	}
	_ = b.local.Send(context.Background(), group, env)
}

var _ Registry = (*Broker)(nil)
