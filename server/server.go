// Package server assembles the realtime gateway, the REST API and their
// collaborators into one echo server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/tps/internal/metrics"
	"github.com/hrygo/tps/internal/profile"
	"github.com/hrygo/tps/server/auth"
	"github.com/hrygo/tps/server/realtime/gateway"
	"github.com/hrygo/tps/server/realtime/publisher"
	"github.com/hrygo/tps/server/realtime/registry"
	apiv1 "github.com/hrygo/tps/server/router/api/v1"
	"github.com/hrygo/tps/server/runner/status"
	"github.com/hrygo/tps/server/service/assignment"
	"github.com/hrygo/tps/server/service/dashboard"
	"github.com/hrygo/tps/server/timezone"
	"github.com/hrygo/tps/store"
	"github.com/hrygo/tps/store/cache"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	Cache       *cache.Service
	Invalidator *cache.Invalidator
	Publisher   *publisher.Publisher
	Dashboards  *dashboard.Orchestrator
	Assignments assignment.Service
	Gateway     *gateway.Gateway

	echoServer   *echo.Echo
	statusRunner *status.Runner
	hub          *registry.Hub
	broker       *registry.Broker
	nc           *nats.Conn
	logger       *slog.Logger
}

// NewServer wires every component from the profile. Redis and NATS are used
// when configured; otherwise the cache and the group fan-out stay in process.
func NewServer(ctx context.Context, profile *profile.Profile, st *store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Profile: profile, Store: st, logger: logger}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry, "tps")

	loc, err := timezone.ParseTimezone(profile.Timezone)
	if err != nil {
		return nil, err
	}

	backend, err := newCacheBackend(ctx, profile)
	if err != nil {
		return nil, err
	}
	s.Cache = cache.NewService(backend, cache.WithLogger(logger), cache.WithMetrics(m), cache.WithDefaultTTL(profile.DashboardTTL))
	s.Invalidator = cache.NewInvalidator(s.Cache)

	s.hub = registry.NewHub(logger, m)
	var reg registry.Registry = s.hub
	if profile.UseNATS() {
		nc, err := nats.Connect(profile.NATSURL,
			nats.Name("tps"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			_ = s.Cache.Close()
			return nil, errors.Wrap(err, "failed to connect to nats")
		}
		broker, err := registry.NewBroker(nc, s.hub, profile.NATSSubject, logger, m)
		if err != nil {
			nc.Close()
			_ = s.Cache.Close()
			return nil, err
		}
		s.nc, s.broker, reg = nc, broker, broker
	}

	s.Publisher = publisher.New(reg, st,
		publisher.WithLogger(logger),
		publisher.WithMetrics(m),
		publisher.WithTimeout(profile.PublishTimeout),
	)
	s.Dashboards = dashboard.NewOrchestrator(dashboard.NewAggregator(st, loc), s.Cache, dashboard.Config{
		DashboardTTL: profile.DashboardTTL,
		SystemTTL:    profile.SystemTTL,
		TeamsTTL:     profile.TeamsTTL,
		WorkloadTTL:  profile.WorkloadTTL,
	}, logger, m)
	s.Assignments = assignment.NewService(st, s.Invalidator, s.Publisher, logger)

	authn := auth.NewAuthenticator(profile.Secret)
	s.Gateway = gateway.New(reg, authn, st, gateway.Config{
		HandshakeTimeout: profile.HandshakeTimeout,
		DispatchTimeout:  profile.DispatchTimeout,
		IdleTimeout:      profile.IdleTimeout,
		InboundRate:      profile.InboundRate,
		InboundBurst:     profile.InboundBurst,
	}, logger, m)
	s.statusRunner = status.NewRunner(s.Publisher, s.Dashboards, s.Gateway, profile.StatusInterval, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))
	s.Gateway.Register(e)
	apiv1.NewAPIV1Service(profile, authn, s.Dashboards, s.Assignments, st, logger).Register(e)
	s.echoServer = e
	return s, nil
}

func newCacheBackend(ctx context.Context, profile *profile.Profile) (cache.Backend, error) {
	if !profile.UseRedis() {
		return cache.NewMemory(cache.MemoryConfig{Capacity: profile.CacheMaxItems}), nil
	}
	cfg := cache.DefaultRedisConfig()
	cfg.Addr = profile.RedisAddr
	cfg.Password = profile.RedisPassword
	cfg.DB = profile.RedisDB
	backend, err := cache.NewRedis(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return backend, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start listens on the profile address and blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.Profile.Addr, fmt.Sprint(s.Profile.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.echoServer.Listener = listener
	s.logger.InfoContext(ctx, "tps server started",
		slog.String("addr", addr),
		slog.String("mode", s.Profile.Mode),
		slog.Bool("redis", s.Profile.UseRedis()),
		slog.Bool("nats", s.Profile.UseNATS()))

	go s.statusRunner.Run(ctx)

	if err := s.echoServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes live connections with 1001, stops the HTTP server and
// releases the broker, the cache and the store.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.Gateway.Shutdown(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to drain realtime connections", slog.String("error", err.Error()))
	}
	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failed to shutdown http server", slog.String("error", err.Error()))
	}
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.WarnContext(ctx, "failed to close group broker", slog.String("error", err.Error()))
		}
	}
	if s.nc != nil {
		s.nc.Close()
	}
	if err := s.Cache.Close(); err != nil {
		s.logger.WarnContext(ctx, "failed to close cache", slog.String("error", err.Error()))
	}
	if err := s.Store.Close(); err != nil {
		s.logger.ErrorContext(ctx, "failed to close store", slog.String("error", err.Error()))
	}
	s.logger.InfoContext(ctx, "tps server stopped")
}
