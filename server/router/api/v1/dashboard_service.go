package v1

import (
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/tps/server/auth"
	tpserrors "github.com/hrygo/tps/server/internal/errors"
	"github.com/hrygo/tps/server/service/dashboard"
)

// GetDashboard returns the dashboard of the calling principal.
// GET /api/v1/dashboard
func (s *APIV1Service) GetDashboard(c echo.Context) error {
	d, err := s.Dashboards.GetDashboard(c.Request().Context(), principal(c))
	if err != nil {
		return s.respondError(c, err)
	}
	return ok(c, d)
}

// TeamWorkloadResponse lists workload per requested team, ordered by team id.
type TeamWorkloadResponse struct {
	Teams []dashboard.TeamWorkload `json:"teams"`
}

// GetTeamWorkload returns default-window workload for the given teams.
// GET /api/v1/teams/workload?team_ids=1,2
func (s *APIV1Service) GetTeamWorkload(c echo.Context) error {
	ids, err := s.teamIDs(c)
	if err != nil {
		return s.respondError(c, err)
	}
	stats, err := s.Dashboards.TeamWorkload(c.Request().Context(), ids)
	if err != nil {
		return s.respondError(c, err)
	}

	resp := TeamWorkloadResponse{Teams: make([]dashboard.TeamWorkload, 0, len(stats))}
	for _, w := range stats {
		resp.Teams = append(resp.Teams, w)
	}
	sort.Slice(resp.Teams, func(i, j int) bool { return resp.Teams[i].TeamID < resp.Teams[j].TeamID })
	return ok(c, resp)
}

// TeamTrendResponse lists trends per requested team, ordered by team id.
type TeamTrendResponse struct {
	Days  int                   `json:"days"`
	Teams []dashboard.TeamTrend `json:"teams"`
}

// GetTeamWorkloadTrend compares the last days with the window before.
// GET /api/v1/teams/workload/trend?team_ids=1,2&days=30
func (s *APIV1Service) GetTeamWorkloadTrend(c echo.Context) error {
	ids, err := s.teamIDs(c)
	if err != nil {
		return s.respondError(c, err)
	}
	days, err := parseDays(c.QueryParam("days"))
	if err != nil {
		return s.respondError(c, err)
	}
	if days == 0 {
		days = dashboard.DefaultWorkloadWindowDays
	}

	trends, err := s.Dashboards.TeamWorkloadTrend(c.Request().Context(), ids, days)
	if err != nil {
		return s.respondError(c, err)
	}
	resp := TeamTrendResponse{Days: days, Teams: make([]dashboard.TeamTrend, 0, len(trends))}
	for _, t := range trends {
		resp.Teams = append(resp.Teams, t)
	}
	sort.Slice(resp.Teams, func(i, j int) bool { return resp.Teams[i].TeamID < resp.Teams[j].TeamID })
	return ok(c, resp)
}

// teamIDs parses team_ids and checks the principal may read every team.
func (s *APIV1Service) teamIDs(c echo.Context) ([]int64, error) {
	ids, err := parseIDs(c.QueryParam("team_ids"), maxTeams)
	if err != nil {
		return nil, err
	}
	p := principal(c)
	for _, id := range ids {
		if !auth.CanAccessTeam(c.Request().Context(), s.Members, p, id) {
			return nil, tpserrors.Forbidden("access denied to team")
		}
	}
	return ids, nil
}

// BulkUserAnalysisRequest is the body of POST /api/v1/users/analysis.
type BulkUserAnalysisRequest struct {
	UserIDs []int64 `json:"user_ids"`
	Days    int     `json:"days"`
}

type BulkUserAnalysisResponse struct {
	Results []*dashboard.UserAnalysis `json:"results"`
}

// BulkUserAnalysis analyses the workload of several users at once. Only
// elevated principals may analyse users other than themselves.
// POST /api/v1/users/analysis
func (s *APIV1Service) BulkUserAnalysis(c echo.Context) error {
	var req BulkUserAnalysisRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, tpserrors.InvalidArgument("invalid request body"))
	}
	if len(req.UserIDs) == 0 || len(req.UserIDs) > maxBulkUsers {
		return s.respondError(c, tpserrors.InvalidArgument("user_ids must hold between 1 and 100 ids"))
	}
	if req.Days < 0 || req.Days > 365 {
		return s.respondError(c, tpserrors.InvalidArgument("days must be between 1 and 365"))
	}
	p := principal(c)
	for _, id := range req.UserIDs {
		if !auth.CanAccessUser(p, id) {
			return s.respondError(c, tpserrors.Forbidden("access denied to user"))
		}
	}

	results, err := s.Dashboards.BulkUserAnalysis(c.Request().Context(), req.UserIDs, req.Days)
	if err != nil {
		return s.respondError(c, err)
	}
	return ok(c, BulkUserAnalysisResponse{Results: results})
}

// GetSystemHealth returns system-wide metrics to managers and admins.
// GET /api/v1/system/health
func (s *APIV1Service) GetSystemHealth(c echo.Context) error {
	if !principal(c).IsElevated() {
		return s.respondError(c, tpserrors.Forbidden("system health is restricted to managers"))
	}
	h, err := s.Dashboards.SystemHealth(c.Request().Context())
	if err != nil {
		return s.respondError(c, err)
	}
	return ok(c, h)
}
