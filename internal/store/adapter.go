package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Result reports the outcome of a statement that returns no rows.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Querier is the uniform query/get/run/exec surface shared by the adapter and
// its transactions. SQL is written with `?` placeholders for every dialect.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Get(ctx context.Context, query string, args ...any) *sql.Row
	Run(ctx context.Context, query string, args ...any) (Result, error)
	Exec(ctx context.Context, script string) error
}

type execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Adapter struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewAdapter(db *sql.DB, dialect Dialect) *Adapter {
	return &Adapter{db: sqlx.NewDb(db, dialect.driverName()), dialect: dialect}
}

func (a *Adapter) DB() *sql.DB {
	return a.db.DB
}

func (a *Adapter) Dialect() Dialect {
	return a.dialect
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Adapter) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return a.db.QueryContext(ctx, a.db.Rebind(query), args...)
}

func (a *Adapter) Get(ctx context.Context, query string, args ...any) *sql.Row {
	return a.db.QueryRowContext(ctx, a.db.Rebind(query), args...)
}

func (a *Adapter) Run(ctx context.Context, query string, args ...any) (Result, error) {
	return run(ctx, a.db, a.dialect, query, args...)
}

func (a *Adapter) Exec(ctx context.Context, script string) error {
	if _, err := a.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (a *Adapter) InTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{tx: tx, dialect: a.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type Tx struct {
	tx      *sqlx.Tx
	dialect Dialect
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.tx.Rebind(query), args...)
}

func (t *Tx) Get(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.tx.Rebind(query), args...)
}

func (t *Tx) Run(ctx context.Context, query string, args ...any) (Result, error) {
	return run(ctx, t.tx, t.dialect, query, args...)
}

func (t *Tx) Exec(ctx context.Context, script string) error {
	if _, err := t.tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

// run executes a statement. pgx does not implement LastInsertId, so
// PostgreSQL INSERTs are issued with RETURNING id and read back as a row.
func run(ctx context.Context, ex execer, dialect Dialect, query string, args ...any) (Result, error) {
	if dialect == DialectPostgres && isInsert(query) && !strings.Contains(strings.ToUpper(query), "RETURNING") {
		if strings.Contains(strings.ToUpper(query), "ON CONFLICT") {
			return runPostgresUpsert(ctx, ex, query+" RETURNING id", args...)
		}
		var id int64
		if err := ex.QueryRowContext(ctx, rebind(dialect, query+" RETURNING id"), args...).Scan(&id); err != nil {
			return Result{}, err
		}
		return Result{LastInsertID: id, RowsAffected: 1}, nil
	}

	res, err := ex.ExecContext(ctx, rebind(dialect, query), args...)
	if err != nil {
		return Result{}, err
	}
	out := Result{}
	if affected, err := res.RowsAffected(); err == nil {
		out.RowsAffected = affected
	}
	if dialect == DialectSQLite {
		if id, err := res.LastInsertId(); err == nil {
			out.LastInsertID = id
		}
	}
	return out, nil
}

// runPostgresUpsert handles INSERT ... ON CONFLICT DO NOTHING, which returns
// zero rows when the conflicting row already exists.
func runPostgresUpsert(ctx context.Context, ex execer, query string, args ...any) (Result, error) {
	rows, err := ex.QueryContext(ctx, rebind(DialectPostgres, query), args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	out := Result{}
	for rows.Next() {
		if err := rows.Scan(&out.LastInsertID); err != nil {
			return Result{}, err
		}
		out.RowsAffected++
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return out, nil
}

func isInsert(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT")
}

// rebind rewrites `?` placeholders into the dialect's bind style.
func rebind(dialect Dialect, query string) string {
	return sqlx.Rebind(sqlx.BindType(dialect.driverName()), query)
}

// expandIn expands slice arguments bound to `IN (?)` into one placeholder
// per element.
func expandIn(query string, args ...any) (string, []any, error) {
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expand in-list: %w", err)
	}
	return expanded, expandedArgs, nil
}
