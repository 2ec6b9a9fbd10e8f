// Package auth resolves the calling principal from a bearer token and holds
// the access rules shared by the websocket gateway and the REST handlers.
package auth

import (
	"context"

	"github.com/hrygo/tps/store"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID      int64
	Role        store.Role
	IsSuperuser bool
}

// IsElevated reports principals that may read any user's notifications or dashboards.
func (p *Principal) IsElevated() bool {
	return p.IsSuperuser || p.Role.IsManagement()
}

// CanPlan reports principals that may follow any team's planning runs.
func (p *Principal) CanPlan() bool {
	return p.IsSuperuser || p.Role.CanPlan()
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
