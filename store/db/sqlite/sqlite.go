package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	// Import the pure Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/tps/internal/profile"
	"github.com/hrygo/tps/store"
	"github.com/hrygo/tps/store/db/sqlbase"
)

// SQLite backs development and tests. Production deployments run on postgres.

type DB struct {
	*sqlbase.Base

	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a sqlite database with foreign keys on and WAL journaling.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// busy_timeout makes concurrent writers wait instead of failing with SQLITE_BUSY.
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", profile.DSN)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	// One connection serializes access and avoids SQLITE_BUSY between pooled writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{
		Base:    sqlbase.New(db, sq.Question),
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'assignment')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}
