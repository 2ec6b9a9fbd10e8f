package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends runs a test against every Backend implementation.
func backends(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newTestMemory(t, 1000))
	})
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		b := NewRedisFromClient(client)
		t.Cleanup(func() { _ = b.Close() })
		fn(t, b)
	})
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "tps:u:5:dashboard:admin", UserKey(5, DashboardNamespace("admin")).String())
	assert.Equal(t, "tps:global:system_stats", GlobalKey(NamespaceSystemStats).String())

	long := UserKey(7, strings.Repeat("x", 200)).String()
	assert.True(t, strings.HasPrefix(long, "tps:u:7:h:"), long)
	assert.LessOrEqual(t, len(long), maxKeyLength)

	hashed := MakeKey(strings.Repeat("y", 120))
	assert.True(t, strings.HasPrefix(hashed, "tps:hash:"))
	assert.Equal(t, hashed, MakeKey(strings.Repeat("y", 120)), "hashing is deterministic")
}

func TestService_GetSetInvalidate(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		s := NewService(b)
		key := UserKey(1, "teams")

		_, ok := s.Get(ctx, key)
		assert.False(t, ok)

		s.Set(ctx, key, []byte(`[1,2]`), time.Minute)
		value, ok := s.Get(ctx, key)
		require.True(t, ok)
		assert.Equal(t, []byte(`[1,2]`), value)

		s.Invalidate(ctx, key)
		_, ok = s.Get(ctx, key)
		assert.False(t, ok)
	})
}

func TestService_InvalidateAll(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		s := NewService(b)

		s.Set(ctx, UserKey(1, "teams"), []byte("a"), time.Minute)
		s.Set(ctx, UserKey(1, DashboardNamespace("admin")), []byte("b"), time.Minute)
		s.Set(ctx, UserKey(2, "teams"), []byte("c"), time.Minute)

		s.InvalidateAll(ctx, 1)

		_, ok := s.Get(ctx, UserKey(1, "teams"))
		assert.False(t, ok)
		_, ok = s.Get(ctx, UserKey(1, DashboardNamespace("admin")))
		assert.False(t, ok)
		_, ok = s.Get(ctx, UserKey(2, "teams"))
		assert.True(t, ok)
	})
}

func TestService_InvalidateWinsOverConcurrentFill(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		s := NewService(b)
		key := UserKey(3, DashboardNamespace("employee"))

		t.Run("key invalidation", func(t *testing.T) {
			ticket := s.Begin(ctx, key)
			// Writer commits and invalidates while the reader is still loading.
			s.Invalidate(ctx, key)
			assert.False(t, s.Fill(ctx, ticket, []byte("stale"), time.Minute))

			_, ok := s.Get(ctx, key)
			assert.False(t, ok, "stale fill must not become visible")
		})

		t.Run("user invalidation", func(t *testing.T) {
			ticket := s.Begin(ctx, key)
			s.InvalidateAll(ctx, 3)
			assert.False(t, s.Fill(ctx, ticket, []byte("stale"), time.Minute))
		})

		t.Run("flush", func(t *testing.T) {
			ticket := s.Begin(ctx, key)
			s.Flush(ctx)
			assert.False(t, s.Fill(ctx, ticket, []byte("stale"), time.Minute))
		})

		t.Run("fill after invalidate", func(t *testing.T) {
			s.Invalidate(ctx, key)
			ticket := s.Begin(ctx, key)
			assert.True(t, s.Fill(ctx, ticket, []byte("fresh"), time.Minute))
			value, ok := s.Get(ctx, key)
			require.True(t, ok)
			assert.Equal(t, []byte("fresh"), value)
		})

		t.Run("set is unconditional", func(t *testing.T) {
			s.Invalidate(ctx, key)
			s.Set(ctx, key, []byte("direct"), time.Minute)
			value, ok := s.Get(ctx, key)
			require.True(t, ok)
			assert.Equal(t, []byte("direct"), value)
		})
	})
}

func TestService_GetOrLoad(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		s := NewService(b)
		key := UserKey(9, DashboardNamespace("planner"))

		var loads atomic.Int32
		load := func(context.Context) ([]byte, error) {
			loads.Add(1)
			return []byte("computed"), nil
		}

		value, hit, err := s.GetOrLoad(ctx, key, time.Minute, load)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, []byte("computed"), value)

		value, hit, err = s.GetOrLoad(ctx, key, time.Minute, load)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, []byte("computed"), value)
		assert.Equal(t, int32(1), loads.Load())

		t.Run("load error is returned and not cached", func(t *testing.T) {
			other := UserKey(9, "teams")
			_, _, err := s.GetOrLoad(ctx, other, time.Minute, func(context.Context) ([]byte, error) {
				return nil, errors.New("db down")
			})
			assert.Error(t, err)
			_, ok := s.Get(ctx, other)
			assert.False(t, ok)
		})

		t.Run("invalidate during load discards the fill", func(t *testing.T) {
			other := UserKey(9, WorkloadNamespace(30))
			value, hit, err := s.GetOrLoad(ctx, other, time.Minute, func(ctx context.Context) ([]byte, error) {
				s.Invalidate(ctx, other)
				return []byte("raced"), nil
			})
			require.NoError(t, err)
			assert.False(t, hit)
			assert.Equal(t, []byte("raced"), value, "caller still gets its own result")
			_, ok := s.Get(ctx, other)
			assert.False(t, ok)
		})
	})
}

func TestService_NeverServesValueOlderThanLatestInvalidate(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		s := NewService(b)
		key := UserKey(11, DashboardNamespace("employee"))

		// version is the committed state; readers load it, writers bump it and invalidate.
		var version atomic.Int64
		var wg sync.WaitGroup
		stop := make(chan struct{})

		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					_, _, _ = s.GetOrLoad(ctx, key, time.Minute, func(context.Context) ([]byte, error) {
						return []byte{byte(version.Load())}, nil
					})
				}
			}()
		}

		for w := 1; w <= 50; w++ {
			version.Store(int64(w))
			s.Invalidate(ctx, key)
			if value, ok := s.Get(ctx, key); ok {
				assert.Equal(t, byte(w), value[0], "observed a value older than the latest invalidate")
			}
		}
		close(stop)
		wg.Wait()
	})
}

func TestLoadJSON(t *testing.T) {
	ctx := context.Background()
	s := NewService(newTestMemory(t, 10))
	key := UserKey(4, "teams")

	type team struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	calls := 0
	load := func(context.Context) ([]team, error) {
		calls++
		return []team{{ID: 1, Name: "Ops"}}, nil
	}

	got, hit, err := LoadJSON(ctx, s, key, time.Minute, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "Ops", got[0].Name)

	got, hit, err = LoadJSON(ctx, s, key, time.Minute, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, 1, calls)

	cached, ok := GetJSON[[]team](ctx, s, key)
	require.True(t, ok)
	assert.Len(t, cached, 1)
}

func TestService_BackendUnavailableIsAMiss(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewService(NewRedisFromClient(client))
	key := UserKey(1, "teams")

	s.Set(ctx, key, []byte("v"), time.Minute)
	mr.Close()

	_, ok := s.Get(ctx, key)
	assert.False(t, ok)
	assert.NotPanics(t, func() {
		s.Invalidate(ctx, key)
		s.InvalidateAll(ctx, 1)
	})

	value, hit, err := s.GetOrLoad(ctx, key, time.Minute, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("fresh"), value)
}

func TestInvalidator_OnAssignmentChanged(t *testing.T) {
	ctx := context.Background()
	s := NewService(newTestMemory(t, 100))
	inv := NewInvalidator(s)

	s.Set(ctx, UserKey(1, DashboardNamespace("employee")), []byte("a"), time.Minute)
	s.Set(ctx, UserKey(2, DashboardNamespace("employee")), []byte("b"), time.Minute)
	s.Set(ctx, GlobalKey(NamespaceSystemStats), []byte("c"), time.Minute)
	s.Set(ctx, GlobalKey(TeamStatsNamespace(7)), []byte("d"), time.Minute)

	inv.OnAssignmentChanged(ctx, 7, 1)

	_, ok := s.Get(ctx, UserKey(1, DashboardNamespace("employee")))
	assert.False(t, ok)
	_, ok = s.Get(ctx, UserKey(2, DashboardNamespace("employee")))
	assert.True(t, ok)
	_, ok = s.Get(ctx, GlobalKey(NamespaceSystemStats))
	assert.False(t, ok)
	_, ok = s.Get(ctx, GlobalKey(TeamStatsNamespace(7)))
	assert.False(t, ok)

	inv.OnLeaveRequestChanged(ctx)
	_, ok = s.Get(ctx, UserKey(2, DashboardNamespace("employee")))
	assert.False(t, ok)
}

func TestInvalidator_OnUserUpdated(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		s := NewService(b)
		inv := NewInvalidator(s)

		s.Set(ctx, UserKey(1, DashboardNamespace("employee")), []byte("a"), time.Minute)
		s.Set(ctx, UserKey(1, NamespaceTeams), []byte("b"), time.Minute)
		s.Set(ctx, UserKey(2, NamespaceTeams), []byte("c"), time.Minute)
		s.Set(ctx, GlobalKey(NamespaceSystemStats), []byte("d"), time.Minute)
		s.Set(ctx, GlobalKey(TeamStatsNamespace(7)), []byte("e"), time.Minute)

		inv.OnUserUpdated(ctx, 1)

		for _, key := range []Key{
			UserKey(1, DashboardNamespace("employee")),
			UserKey(1, NamespaceTeams),
			GlobalKey(NamespaceSystemStats),
		} {
			_, ok := s.Get(ctx, key)
			assert.False(t, ok, key.String())
		}
		for _, key := range []Key{UserKey(2, NamespaceTeams), GlobalKey(TeamStatsNamespace(7))} {
			_, ok := s.Get(ctx, key)
			assert.True(t, ok, key.String())
		}
	})
}

func TestInvalidator_OnTeamMembershipChanged(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		s := NewService(b)
		inv := NewInvalidator(s)

		s.Set(ctx, UserKey(1, DashboardNamespace("employee")), []byte("a"), time.Minute)
		s.Set(ctx, UserKey(1, NamespaceTeams), []byte("b"), time.Minute)
		s.Set(ctx, UserKey(2, NamespaceTeams), []byte("c"), time.Minute)
		s.Set(ctx, GlobalKey(TeamStatsNamespace(7)), []byte("d"), time.Minute)
		s.Set(ctx, GlobalKey(TeamStatsNamespace(8)), []byte("e"), time.Minute)
		s.Set(ctx, GlobalKey(NamespaceSystemStats), []byte("f"), time.Minute)

		inv.OnTeamMembershipChanged(ctx, 7, 1)

		for _, key := range []Key{
			UserKey(1, DashboardNamespace("employee")),
			UserKey(1, NamespaceTeams),
			GlobalKey(TeamStatsNamespace(7)),
		} {
			_, ok := s.Get(ctx, key)
			assert.False(t, ok, key.String())
		}
		// Membership does not enter system health.
		for _, key := range []Key{
			UserKey(2, NamespaceTeams),
			GlobalKey(TeamStatsNamespace(8)),
			GlobalKey(NamespaceSystemStats),
		} {
			_, ok := s.Get(ctx, key)
			assert.True(t, ok, key.String())
		}
	})
}
