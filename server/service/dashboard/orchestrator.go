package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/tps/internal/metrics"
	"github.com/hrygo/tps/server/auth"
	"github.com/hrygo/tps/server/timezone"
	"github.com/hrygo/tps/store/cache"
)

// Section names a part of the dashboard that is computed independently.
type Section string

const (
	SectionUserDashboard Section = "user_dashboard"
	SectionSystemHealth  Section = "system_health"
	SectionTeams         Section = "user_teams"
	SectionWorkload      Section = "workload_analysis"
)

// sectionOrder fixes the order of failed_sections.
var sectionOrder = []Section{SectionUserDashboard, SectionSystemHealth, SectionTeams, SectionWorkload}

// Dashboard is the assembled dashboard of one principal. A degraded dashboard
// carries defaults for every failed section and is never cached.
type Dashboard struct {
	UserID         int64             `json:"user_id"`
	Role           string            `json:"role"`
	User           *UserDashboard    `json:"user_dashboard"`
	SystemHealth   *SystemHealth     `json:"system_health,omitempty"`
	Teams          []Team            `json:"user_teams"`
	Workload       *WorkloadAnalysis `json:"workload_analysis"`
	Degraded       bool              `json:"degraded"`
	FailedSections []Section         `json:"failed_sections,omitempty"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// Result is the outcome of one concurrent sub-call.
type Result[T any] struct {
	Value T
	Err   error
}

// Config tunes the orchestrator.
type Config struct {
	// Concurrency bounds in-flight sub-calls per request.
	Concurrency  int
	DashboardTTL time.Duration
	SystemTTL    time.Duration
	TeamsTTL     time.Duration
	WorkloadTTL  time.Duration
	// Critical sections fail the whole dashboard instead of degrading it.
	Critical []Section
}

// Orchestrator assembles dashboards from concurrent aggregations behind the cache.
type Orchestrator struct {
	agg      *Aggregator
	cache    *cache.Service
	cfg      Config
	critical map[Section]bool
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewOrchestrator(agg *Aggregator, c *cache.Service, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	critical := make(map[Section]bool, len(cfg.Critical))
	for _, s := range cfg.Critical {
		critical[s] = true
	}
	return &Orchestrator{agg: agg, cache: c, cfg: cfg, critical: critical, logger: logger, metrics: m}
}

// Aggregator returns the underlying aggregator.
func (o *Orchestrator) Aggregator() *Aggregator {
	return o.agg
}

// GetDashboard returns the cached dashboard of p or assembles a fresh one.
// System health is only included for elevated principals. It is never stored
// inside the per-user entry: every read takes it from the shared system stats
// key, which any assignment write invalidates.
func (o *Orchestrator) GetDashboard(ctx context.Context, p *auth.Principal) (*Dashboard, error) {
	role := string(p.Role)
	key := cache.UserKey(p.UserID, cache.DashboardNamespace(role))
	ticket := o.cache.Begin(ctx, key)
	if cached, ok := cache.GetJSON[Dashboard](ctx, o.cache, key); ok {
		if err := o.attachSystemHealth(ctx, p, &cached); err != nil {
			return nil, err
		}
		return &cached, nil
	}

	var (
		user     Result[*UserDashboard]
		health   Result[*SystemHealth]
		teams    Result[[]Team]
		workload Result[*WorkloadAnalysis]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	run(g, gctx, o, SectionUserDashboard, &user, func(ctx context.Context) (*UserDashboard, error) {
		return o.agg.UserDashboard(ctx, p.UserID)
	})
	if p.IsElevated() {
		run(g, gctx, o, SectionSystemHealth, &health, o.systemHealth)
	}
	run(g, gctx, o, SectionTeams, &teams, func(ctx context.Context) ([]Team, error) {
		return o.userTeams(ctx, p.UserID)
	})
	run(g, gctx, o, SectionWorkload, &workload, func(ctx context.Context) (*WorkloadAnalysis, error) {
		return o.userWorkload(ctx, p.UserID, DefaultAnalysisDays)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "dashboard assembly abandoned")
	}

	d := &Dashboard{UserID: p.UserID, Role: role, GeneratedAt: time.Now().UTC()}
	failed := map[Section]bool{}

	d.User = user.Value
	if user.Err != nil {
		failed[SectionUserDashboard] = true
		d.User = &UserDashboard{UpcomingShifts: []UpcomingShift{}, GeneratedAt: d.GeneratedAt}
	}
	if p.IsElevated() {
		d.SystemHealth = health.Value
		if health.Err != nil {
			failed[SectionSystemHealth] = true
			d.SystemHealth = &SystemHealth{CalculatedAt: d.GeneratedAt}
		}
	}
	d.Teams = teams.Value
	if teams.Err != nil {
		failed[SectionTeams] = true
		d.Teams = []Team{}
	}
	d.Workload = workload.Value
	if workload.Err != nil {
		failed[SectionWorkload] = true
		d.Workload = &WorkloadAnalysis{UserID: p.UserID, BalanceScore: 100}
	}

	for _, s := range sectionOrder {
		if failed[s] {
			d.FailedSections = append(d.FailedSections, s)
		}
	}
	d.Degraded = len(d.FailedSections) > 0
	if d.Degraded {
		o.logger.WarnContext(ctx, "serving degraded dashboard",
			slog.Int64("user_id", p.UserID),
			slog.Any("failed_sections", d.FailedSections))
		return d, nil
	}

	stored := *d
	stored.SystemHealth = nil
	if raw, err := json.Marshal(&stored); err == nil {
		o.cache.Fill(ctx, ticket, raw, o.cfg.DashboardTTL)
	}
	return d, nil
}

// attachSystemHealth fills the system health of a cached dashboard. A failure
// degrades the dashboard unless the section is critical.
func (o *Orchestrator) attachSystemHealth(ctx context.Context, p *auth.Principal, d *Dashboard) error {
	if !p.IsElevated() {
		return nil
	}
	health, err := o.systemHealth(ctx)
	if err == nil {
		d.SystemHealth = health
		return nil
	}
	o.metrics.SectionFailed(string(SectionSystemHealth))
	if o.critical[SectionSystemHealth] {
		return errors.Wrapf(err, "critical section %s failed", SectionSystemHealth)
	}
	o.logger.WarnContext(ctx, "serving degraded dashboard",
		slog.Int64("user_id", p.UserID),
		slog.String("section", string(SectionSystemHealth)),
		slog.String("error", err.Error()))
	d.SystemHealth = &SystemHealth{CalculatedAt: time.Now().UTC()}
	d.Degraded = true
	d.FailedSections = []Section{SectionSystemHealth}
	return nil
}

// run starts fn in g and records its outcome in res. Only critical sections
// return their error to the group, which cancels the remaining sub-calls.
func run[T any](g *errgroup.Group, ctx context.Context, o *Orchestrator, section Section, res *Result[T], fn func(context.Context) (T, error)) {
	g.Go(func() error {
		value, err := fn(ctx)
		res.Value, res.Err = value, err
		if err == nil {
			return nil
		}
		o.metrics.SectionFailed(string(section))
		o.logger.WarnContext(ctx, "dashboard section failed",
			slog.String("section", string(section)),
			slog.String("error", err.Error()))
		if o.critical[section] {
			return errors.Wrapf(err, "critical section %s failed", section)
		}
		return nil
	})
}

func (o *Orchestrator) systemHealth(ctx context.Context) (*SystemHealth, error) {
	v, _, err := cache.LoadJSON(ctx, o.cache, cache.GlobalKey(cache.NamespaceSystemStats), o.cfg.SystemTTL, o.agg.SystemHealth)
	return v, err
}

func (o *Orchestrator) userTeams(ctx context.Context, userID int64) ([]Team, error) {
	v, _, err := cache.LoadJSON(ctx, o.cache, cache.UserKey(userID, cache.NamespaceTeams), o.cfg.TeamsTTL,
		func(ctx context.Context) ([]Team, error) { return o.agg.UserTeams(ctx, userID) })
	return v, err
}

func (o *Orchestrator) userWorkload(ctx context.Context, userID int64, days int) (*WorkloadAnalysis, error) {
	v, _, err := cache.LoadJSON(ctx, o.cache, cache.UserKey(userID, cache.WorkloadNamespace(days)), o.cfg.WorkloadTTL,
		func(ctx context.Context) (*WorkloadAnalysis, error) { return o.agg.UserWorkloadAnalysis(ctx, userID, days) })
	return v, err
}

// SystemHealth returns the cached system metrics or computes them.
func (o *Orchestrator) SystemHealth(ctx context.Context) (*SystemHealth, error) {
	return o.systemHealth(ctx)
}

// TeamWorkload returns default-window workload for each team. Cached teams are
// served from the cache; the rest are computed in one aggregation and cached
// per team.
func (o *Orchestrator) TeamWorkload(ctx context.Context, teamIDs []int64) (map[int64]TeamWorkload, error) {
	out := make(map[int64]TeamWorkload, len(teamIDs))
	tickets := map[int64]cache.Ticket{}
	var missing []int64
	for _, id := range teamIDs {
		if _, seen := out[id]; seen {
			continue
		}
		if _, seen := tickets[id]; seen {
			continue
		}
		key := cache.GlobalKey(cache.TeamStatsNamespace(id))
		ticket := o.cache.Begin(ctx, key)
		if cached, ok := cache.GetJSON[TeamWorkload](ctx, o.cache, key); ok {
			out[id] = cached
			continue
		}
		tickets[id] = ticket
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := o.agg.TeamWorkloadStats(ctx, missing, timezone.Window{})
	if err != nil {
		return nil, err
	}
	for id, stats := range fresh {
		out[id] = stats
		if raw, err := json.Marshal(stats); err == nil {
			o.cache.Fill(ctx, tickets[id], raw, o.cfg.WorkloadTTL)
		}
	}
	return out, nil
}

// TeamTrend compares a team's workload in the last window with the one before it.
type TeamTrend struct {
	TeamID            int64        `json:"team_id"`
	Current           TeamWorkload `json:"current"`
	Previous          TeamWorkload `json:"previous"`
	AssignmentChange  int          `json:"assignment_change"`
	SuccessRateChange float64      `json:"success_rate_change"`
}

// TeamWorkloadTrend computes the current and previous windows of days length
// concurrently. Both are required; either failing fails the trend.
func (o *Orchestrator) TeamWorkloadTrend(ctx context.Context, teamIDs []int64, days int) (map[int64]TeamTrend, error) {
	if days <= 0 {
		days = DefaultWorkloadWindowDays
	}
	today := timezone.StartOfDay(o.agg.now(), o.agg.loc)
	current := timezone.Window{Start: today.AddDate(0, 0, -days), End: today}
	previous := current.Before()

	var cur, prev map[int64]TeamWorkload
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	g.Go(func() error {
		var err error
		cur, err = o.agg.TeamWorkloadStats(gctx, teamIDs, current)
		return errors.Wrap(err, "current window")
	})
	g.Go(func() error {
		var err error
		prev, err = o.agg.TeamWorkloadStats(gctx, teamIDs, previous)
		return errors.Wrap(err, "previous window")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[int64]TeamTrend, len(cur))
	for id, c := range cur {
		p := prev[id]
		out[id] = TeamTrend{
			TeamID:            id,
			Current:           c,
			Previous:          p,
			AssignmentChange:  c.TotalAssignments - p.TotalAssignments,
			SuccessRateChange: round(c.SuccessRate-p.SuccessRate, 1),
		}
	}
	return out, nil
}

// UserAnalysis is the outcome of one user's analysis in a bulk request.
type UserAnalysis struct {
	UserID   int64             `json:"user_id"`
	Analysis *WorkloadAnalysis `json:"analysis,omitempty"`
	Error    string            `json:"error,omitempty"`
	err      error
}

// Err returns the failure of this user's analysis, if any.
func (u *UserAnalysis) Err() error { return u.err }

// BulkUserAnalysis analyses every user concurrently. One user's failure does
// not affect the others; only cancellation of ctx aborts the batch.
func (o *Orchestrator) BulkUserAnalysis(ctx context.Context, userIDs []int64, days int) ([]*UserAnalysis, error) {
	if days <= 0 {
		days = DefaultAnalysisDays
	}
	ids := dedup(userIDs)
	results := make([]*UserAnalysis, len(ids))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res := &UserAnalysis{UserID: id}
			analysis, err := o.userWorkload(ctx, id, days)
			if err != nil {
				res.err = err
				res.Error = err.Error()
			} else {
				res.Analysis = analysis
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "bulk analysis abandoned")
	}
	return results, nil
}

func dedup(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
