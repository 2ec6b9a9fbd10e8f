package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tpserrors "github.com/hrygo/tps/server/internal/errors"
	"github.com/hrygo/tps/store"
)

func TestIssueAndParse(t *testing.T) {
	a := NewAuthenticator("secret")
	token, err := a.Issue(&Principal{UserID: 7, Role: store.RolePlanner}, time.Minute)
	require.NoError(t, err)

	p, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, &Principal{UserID: 7, Role: store.RolePlanner}, p)
}

func TestParseRejects(t *testing.T) {
	a := NewAuthenticator("secret")

	expired, err := a.Issue(&Principal{UserID: 7}, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other").Issue(&Principal{UserID: 7}, time.Minute)
	require.NoError(t, err)
	anonymous, err := a.Issue(&Principal{}, time.Minute)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"garbage":      "not-a-token",
		"missing user": anonymous,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Parse(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tpserrors.ErrAuthentication))
		})
	}
}

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator("secret")
	token, err := a.Issue(&Principal{UserID: 3, Role: store.RoleEmployee}, time.Minute)
	require.NoError(t, err)

	t.Run("header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/system/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		p, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.UserID)
	})

	t.Run("query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/system/?token="+token, nil)
		p, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.UserID)
	})

	t.Run("context wins", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/system/?token="+token, nil)
		r = r.WithContext(WithPrincipal(r.Context(), &Principal{UserID: 99}))
		p, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, int64(99), p.UserID)
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/system/", nil)
		_, err := a.Authenticate(r)
		require.Error(t, err)
		assert.Equal(t, tpserrors.CloseUnauthenticated, tpserrors.CloseCode(err))
	})
}

type members map[[2]int64]bool

func (m members) IsActiveTeamMember(_ context.Context, teamID, userID int64) (bool, error) {
	if teamID < 0 {
		return false, errors.New("lookup failed")
	}
	return m[[2]int64{teamID, userID}], nil
}

func TestAccessRules(t *testing.T) {
	ctx := context.Background()
	m := members{{1, 10}: true}

	employee := &Principal{UserID: 10, Role: store.RoleEmployee}
	stranger := &Principal{UserID: 11, Role: store.RoleEmployee}
	planner := &Principal{UserID: 12, Role: store.RolePlanner}
	manager := &Principal{UserID: 13, Role: store.RoleManager}
	superuser := &Principal{UserID: 14, Role: store.RoleEmployee, IsSuperuser: true}

	assert.True(t, CanAccessUser(employee, 10))
	assert.False(t, CanAccessUser(employee, 11))
	assert.False(t, CanAccessUser(planner, 10))
	assert.True(t, CanAccessUser(manager, 10))
	assert.True(t, CanAccessUser(superuser, 10))

	assert.True(t, CanAccessTeamPlanning(ctx, m, employee, 1))
	assert.False(t, CanAccessTeamPlanning(ctx, m, stranger, 1))
	assert.True(t, CanAccessTeamPlanning(ctx, m, planner, 1))
	assert.False(t, CanAccessTeamPlanning(ctx, m, employee, -1))

	assert.True(t, CanAccessTeam(ctx, m, employee, 1))
	assert.False(t, CanAccessTeam(ctx, m, planner, 1))
	assert.True(t, CanAccessTeam(ctx, m, manager, 1))
}
