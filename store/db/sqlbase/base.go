// Package sqlbase holds the SQL shared by the sqlite and postgres drivers.
// Statements are built with squirrel; the drivers differ only in placeholder
// format and connection setup.
package sqlbase

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/hrygo/tps/store"
)

// Querier is the subset of *sql.DB and *sql.Tx the statements run on.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is a Querier that can start transactions.
type DB interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Base implements every store.Driver method except connection lifecycle.
type Base struct {
	db     DB
	format sq.PlaceholderFormat
}

func New(db DB, format sq.PlaceholderFormat) *Base {
	return &Base{db: db, format: format}
}

func (b *Base) qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(b.format)
}

func logSQL(op, query string, args []any) {
	slog.Debug("sql", slog.String("op", op), slog.String("query", query), slog.Int("args", len(args)))
}

func (b *Base) queryRow(ctx context.Context, q Querier, op string, builder sq.Sqlizer) (*sql.Row, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s", op)
	}
	logSQL(op, query, args)
	return q.QueryRowContext(ctx, query, args...), nil
}

func (b *Base) query(ctx context.Context, op string, builder sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s", op)
	}
	logSQL(op, query, args)
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to run %s", op)
	}
	return rows, nil
}

func (b *Base) exec(ctx context.Context, q Querier, op string, builder sq.Sqlizer) (sql.Result, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s", op)
	}
	logSQL(op, query, args)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to run %s", op)
	}
	return result, nil
}

// scanOne maps sql.ErrNoRows to store.ErrNotFound.
func scanOne(op string, row *sql.Row, dest ...any) error {
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return errors.Wrapf(err, "failed to scan %s", op)
	}
	return nil
}

// countIf counts the rows matching cond. It renders identically on sqlite and postgres.
func countIf(cond string, args ...any) sq.Sqlizer {
	return sq.Expr("COALESCE(SUM(CASE WHEN "+cond+" THEN 1 ELSE 0 END), 0)", args...)
}

func statusStrings[T ~string](statuses []T) []string {
	list := make([]string, 0, len(statuses))
	for _, s := range statuses {
		list = append(list, string(s))
	}
	return list
}

// in renders "col IN (?, ?, ...)" with one placeholder per value.
func in[T any](col string, values []T) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return col + " IN (" + strings.Join(marks, ", ") + ")", args
}
