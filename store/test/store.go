package test

import (
	"context"
	"os"
	"testing"

	"github.com/hrygo/tps/internal/profile"
	"github.com/hrygo/tps/store"
	"github.com/hrygo/tps/store/db"
)

// NewTestingStore returns a migrated store. DRIVER=postgres switches from the
// default sqlite file under t.TempDir to a postgres container.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	p := getTestingProfile(t)
	if err := p.Validate(); err != nil {
		t.Fatalf("invalid test profile: %v", err)
	}
	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(driver, p)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	p := &profile.Profile{
		Mode:   "dev",
		Data:   t.TempDir(),
		Driver: getDriverFromEnv(),
	}
	p.FromEnv()
	if p.Driver == "postgres" {
		p.DSN = GetPostgresDSN(t)
	}
	return p
}

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}
