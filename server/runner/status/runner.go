// Package status periodically broadcasts a system status frame to the global
// assignments feed and keeps the cached system health warm.
package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/tps/server/realtime/publisher"
	"github.com/hrygo/tps/server/service/dashboard"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"

	// Below this assignment success rate the status is reported as degraded.
	degradedSuccessRate = 80.0
)

type Publisher interface {
	Publish(ctx context.Context, ev publisher.Event)
}

type HealthSource interface {
	SystemHealth(ctx context.Context) (*dashboard.SystemHealth, error)
}

type SessionCounter interface {
	SessionCount() int
}

type Runner struct {
	publisher Publisher
	health    HealthSource
	sessions  SessionCounter
	interval  time.Duration
	logger    *slog.Logger
}

// NewRunner creates a status runner. A non-positive interval defaults to one minute.
func NewRunner(pub Publisher, health HealthSource, sessions SessionCounter, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		publisher: pub,
		health:    health,
		sessions:  sessions,
		interval:  interval,
		logger:    logger,
	}
}

// Run broadcasts once on startup and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			r.logger.Info("status runner stopped")
			return
		}
	}
}

// RunOnce refreshes the system health and broadcasts the resulting status.
func (r *Runner) RunOnce(ctx context.Context) {
	r.publisher.Publish(ctx, r.snapshot(ctx))
}

func (r *Runner) snapshot(ctx context.Context) publisher.SystemStatus {
	details := map[string]any{}
	if r.sessions != nil {
		details["connections"] = r.sessions.SessionCount()
	}

	health, err := r.health.SystemHealth(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to compute system health", slog.String("error", err.Error()))
		return publisher.SystemStatus{
			Status:  StatusDegraded,
			Message: "System health is unavailable",
			Details: details,
		}
	}

	details["success_rate"] = health.SuccessRate
	details["pending_assignments"] = health.PendingAssignments
	details["pending_leave_requests"] = health.PendingLeaveRequests
	details["active_users"] = health.TotalActiveUsers

	if health.TotalAssignmentsWeek > 0 && health.SuccessRate < degradedSuccessRate {
		return publisher.SystemStatus{
			Status:  StatusDegraded,
			Message: "Assignment success rate is below target",
			Details: details,
		}
	}
	return publisher.SystemStatus{
		Status:  StatusOK,
		Message: "System is healthy",
		Details: details,
	}
}
