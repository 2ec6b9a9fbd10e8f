// Package cache is the cache-aside layer for computed dashboard aggregates.
//
// Entries are keyed by (user id, namespace). Every invalidation advances a
// generation counter, and fills carry the generations observed before their
// load started, so an invalidation always wins over a fill that raced with it.
// Backend failures degrade to cache misses and are never returned to callers.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tps/internal/metrics"
)

// ErrCacheUnavailable marks backend failures. It is logged, never returned by Service.
var ErrCacheUnavailable = errors.New("cache backend unavailable")

const defaultTTL = 5 * time.Minute

// Service implements cache-aside reads and invalidation over a Backend.
type Service struct {
	backend    Backend
	logger     *slog.Logger
	metrics    *metrics.Metrics
	defaultTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// NewService creates a cache service over backend.
func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend:    backend,
		logger:     slog.Default(),
		defaultTTL: defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached value for key. Backend errors are reported as a miss.
func (s *Service) Get(ctx context.Context, key Key) ([]byte, bool) {
	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.unavailable("get", key, err)
		s.metrics.CacheLookup(metrics.CacheError)
		return nil, false
	}
	if !ok {
		s.metrics.CacheLookup(metrics.CacheMiss)
		return nil, false
	}
	s.metrics.CacheLookup(metrics.CacheHit)
	return value, true
}

// Set overwrites the entry unconditionally.
func (s *Service) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) {
	if err := s.backend.Set(ctx, key, value, s.ttl(ttl)); err != nil {
		s.unavailable("set", key, err)
	}
}

// Invalidate removes one entry. Any fill that started before this call is discarded.
func (s *Service) Invalidate(ctx context.Context, key Key) {
	s.metrics.CacheInvalidated("key")
	if err := s.backend.Delete(ctx, key); err != nil {
		s.unavailable("invalidate", key, err)
	}
}

// InvalidateAll removes every entry of a user.
func (s *Service) InvalidateAll(ctx context.Context, userID int64) {
	s.metrics.CacheInvalidated("user")
	if err := s.backend.DeleteUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidation failed",
			slog.Int64("user_id", userID),
			slog.String("error", errors.Wrap(ErrCacheUnavailable, err.Error()).Error()))
	}
}

// Flush removes every entry of every user.
func (s *Service) Flush(ctx context.Context) {
	s.metrics.CacheInvalidated("global")
	if err := s.backend.Flush(ctx); err != nil {
		s.logger.WarnContext(ctx, "cache flush failed",
			slog.String("error", errors.Wrap(ErrCacheUnavailable, err.Error()).Error()))
	}
}

// Ticket records the generations of a key observed before a load starts.
type Ticket struct {
	key   Key
	stamp Stamp
	valid bool
}

// Begin takes a ticket for a later Fill. It must be called before the value is computed.
func (s *Service) Begin(ctx context.Context, key Key) Ticket {
	stamp, err := s.backend.Stamp(ctx, key)
	if err != nil {
		s.unavailable("stamp", key, err)
		return Ticket{key: key}
	}
	return Ticket{key: key, stamp: stamp, valid: true}
}

// Fill stores value if no invalidation touched the key since the ticket was taken.
// It reports whether the value was stored.
func (s *Service) Fill(ctx context.Context, t Ticket, value []byte, ttl time.Duration) bool {
	if !t.valid {
		return false
	}
	stored, err := s.backend.SetIfCurrent(ctx, t.key, t.stamp, value, s.ttl(ttl))
	if err != nil {
		s.unavailable("fill", t.key, err)
		return false
	}
	if !stored {
		s.metrics.CacheFillDiscarded()
		s.logger.DebugContext(ctx, "discarded stale cache fill", slog.String("key", t.key.String()))
	}
	return stored
}

// GetOrLoad returns the cached value or computes, fills and returns it.
// The bool result reports a cache hit. Load errors are returned and nothing is cached.
func (s *Service) GetOrLoad(ctx context.Context, key Key, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	ticket := s.Begin(ctx, key)
	if value, ok := s.Get(ctx, key); ok {
		return value, true, nil
	}

	value, err := load(ctx)
	if err != nil {
		return nil, false, err
	}
	s.Fill(ctx, ticket, value, ttl)
	return value, false, nil
}

// Close releases the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}

func (s *Service) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

func (s *Service) unavailable(op string, key Key, err error) {
	s.logger.Warn("cache backend error",
		slog.String("op", op),
		slog.String("key", key.String()),
		slog.String("error", errors.Wrap(ErrCacheUnavailable, err.Error()).Error()))
}

// LoadJSON is GetOrLoad for JSON-encoded values. Undecodable entries are treated as misses.
func LoadJSON[T any](ctx context.Context, s *Service, key Key, ttl time.Duration, load func(context.Context) (T, error)) (T, bool, error) {
	ticket := s.Begin(ctx, key)
	if raw, ok := s.Get(ctx, key); ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, true, nil
		}
		s.logger.WarnContext(ctx, "dropping undecodable cache entry", slog.String("key", key.String()))
	}

	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return value, false, nil
	}
	s.Fill(ctx, ticket, raw, ttl)
	return value, false, nil
}

// GetJSON decodes a cached JSON value.
func GetJSON[T any](ctx context.Context, s *Service, key Key) (T, bool) {
	var value T
	raw, ok := s.Get(ctx, key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false
	}
	return value, true
}
