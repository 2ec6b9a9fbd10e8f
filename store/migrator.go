package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Fresh databases get migration/<driver>/LATEST.sql in one transaction.
// Demo mode additionally applies seed/<driver>/*.sql in lexical order.

//go:embed migration
var migrationFS embed.FS

//go:embed seed
var seedFS embed.FS

const (
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"

	modeDemo = "demo"
)

// Migrate initializes the schema when missing and seeds demo data in demo mode.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	filePath := s.getMigrationBasePath() + LatestSchemaFileName
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read latest schema file %s", filePath)
	}
	slog.Info("initializing new database with latest schema", slog.String("file", filePath))
	if err := s.runInTx(ctx, string(bytes)); err != nil {
		return errors.Wrapf(err, "failed to apply %s", filePath)
	}

	if s.profile.Mode == modeDemo {
		if err := s.seed(ctx); err != nil {
			return errors.Wrap(err, "failed to seed")
		}
	}
	return nil
}

func (s *Store) getMigrationBasePath() string {
	return fmt.Sprintf("migration/%s/", s.profile.Driver)
}

func (s *Store) getSeedBasePath() string {
	return fmt.Sprintf("seed/%s/", s.profile.Driver)
}

func (s *Store) seed(ctx context.Context) error {
	filenames, err := fs.Glob(seedFS, s.getSeedBasePath()+"*.sql")
	if err != nil {
		return errors.Wrap(err, "failed to read seed files")
	}
	sort.Strings(filenames)
	for _, filename := range filenames {
		bytes, err := seedFS.ReadFile(filename)
		if err != nil {
			return errors.Wrapf(err, "failed to read seed file, filename=%s", filename)
		}
		if err := s.runInTx(ctx, string(bytes)); err != nil {
			return errors.Wrapf(err, "seed error: %s", filename)
		}
		slog.Info("applied seed file", slog.String("file", filename))
	}
	return nil
}

func (s *Store) runInTx(ctx context.Context, script string) error {
	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()
	if err := execute(ctx, tx, script); err != nil {
		return err
	}
	return tx.Commit()
}

// execute runs each statement of script separately so a failure names the statement.
func execute(ctx context.Context, tx *sql.Tx, script string) error {
	for i, stmt := range splitSQL(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
		}
	}
	return nil
}

// splitSQL splits a schema script on semicolons outside single-quoted strings.
// Lines starting with -- are dropped.
func splitSQL(script string) []string {
	var (
		statements []string
		current    strings.Builder
		inQuote    bool
	)
	for _, line := range strings.Split(script, "\n") {
		if !inQuote && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case r == '\'':
				inQuote = !inQuote
				current.WriteRune(r)
			case r == ';' && !inQuote:
				if stmt := strings.TrimSpace(current.String()); stmt != "" {
					statements = append(statements, stmt)
				}
				current.Reset()
			default:
				current.WriteRune(r)
			}
		}
		current.WriteByte('\n')
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
