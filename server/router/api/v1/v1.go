package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/tps/internal/profile"
	"github.com/hrygo/tps/server/auth"
	tpserrors "github.com/hrygo/tps/server/internal/errors"
	"github.com/hrygo/tps/server/internal/observability"
	"github.com/hrygo/tps/server/middleware"
	"github.com/hrygo/tps/server/service/assignment"
	"github.com/hrygo/tps/server/service/dashboard"
	"github.com/hrygo/tps/store"
)

const (
	// Per-principal request budget of the REST surface.
	requestsPerSecond = 20
	requestBurst      = 40

	maxBulkUsers = 100
	maxTeams     = 100
)

type APIV1Service struct {
	Profile       *profile.Profile
	Authenticator *auth.Authenticator
	Dashboards    *dashboard.Orchestrator
	Assignments   assignment.Service
	Members       auth.MembershipChecker

	limiter *middleware.RateLimiter
	logger  *slog.Logger
}

func NewAPIV1Service(
	profile *profile.Profile,
	authn *auth.Authenticator,
	dashboards *dashboard.Orchestrator,
	assignments assignment.Service,
	members auth.MembershipChecker,
	logger *slog.Logger,
) *APIV1Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIV1Service{
		Profile:       profile,
		Authenticator: authn,
		Dashboards:    dashboards,
		Assignments:   assignments,
		Members:       members,
		limiter:       middleware.NewRateLimiter(requestsPerSecond, requestBurst),
		logger:        logger,
	}
}

// Register mounts the REST routes under /api/v1. Every route requires a principal.
func (s *APIV1Service) Register(e *echo.Echo) {
	g := e.Group("/api/v1", s.authMiddleware, s.rateLimitMiddleware)

	g.GET("/dashboard", s.GetDashboard)
	g.GET("/teams/workload", s.GetTeamWorkload)
	g.GET("/teams/workload/trend", s.GetTeamWorkloadTrend)
	g.POST("/users/analysis", s.BulkUserAnalysis)
	g.GET("/system/health", s.GetSystemHealth)

	g.POST("/assignments", s.CreateAssignment)
	g.PATCH("/assignments/:id", s.UpdateAssignment)
	g.DELETE("/assignments/:id", s.DeleteAssignment)
}

func (s *APIV1Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := s.Authenticator.Authenticate(c.Request())
		if err != nil {
			return s.respondError(c, err)
		}
		reqLog := observability.NewRequestContext(s.logger, "api", p.UserID)
		ctx := observability.WithRequestContext(auth.WithPrincipal(c.Request().Context(), p), reqLog)
		c.SetRequest(c.Request().WithContext(ctx))
		err = next(c)
		reqLog.Debug("request served",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().Status),
			slog.Int64(observability.LogFieldDuration, reqLog.DurationMs()))
		return err
	}
}

func (s *APIV1Service) rateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := auth.FromContext(c.Request().Context())
		if p != nil && !s.limiter.Allow(strconv.FormatInt(p.UserID, 10)) {
			return s.respondError(c, tpserrors.RateLimitExceeded("too many requests"))
		}
		return next(c)
	}
}

func principal(c echo.Context) *auth.Principal {
	return auth.FromContext(c.Request().Context())
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Code    tpserrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// respondError maps err to a status and a client-safe message. Internal
// failures are logged and answered without detail.
func (s *APIV1Service) respondError(c echo.Context, err error) error {
	if errors.Is(err, store.ErrNotFound) && tpserrors.GetCodeFromError(err, "") == "" {
		err = tpserrors.Wrap(err, tpserrors.ErrCodeNotFound, "not found")
	}
	code := tpserrors.GetCodeFromError(err, tpserrors.ErrCodeInternal)
	message := "internal error"
	var e *tpserrors.Error
	if code != tpserrors.ErrCodeInternal && errors.As(err, &e) {
		message = e.Message
	} else {
		s.logger.ErrorContext(c.Request().Context(), "request failed",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))
	}
	return c.JSON(tpserrors.HTTPStatus(code), errorResponse{Code: code, Message: message})
}

// parseIDs parses a comma-separated list of positive ids.
func parseIDs(raw string, limit int) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, tpserrors.InvalidArgument("at least one id is required")
	}
	parts := strings.Split(raw, ",")
	if len(parts) > limit {
		return nil, tpserrors.InvalidArgument("too many ids, at most " + strconv.Itoa(limit))
	}
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, tpserrors.InvalidArgument("invalid id " + strconv.Quote(part))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseDays parses an optional positive days parameter.
func parseDays(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 || days > 365 {
		return 0, tpserrors.InvalidArgument("days must be between 1 and 365")
	}
	return days, nil
}

func ok(c echo.Context, body any) error {
	return c.JSON(http.StatusOK, body)
}
