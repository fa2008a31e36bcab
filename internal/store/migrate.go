package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

func migrationsFor(dialect Dialect) (fs.FS, goose.Dialect, error) {
	switch dialect {
	case DialectPostgres:
		sub, err := fs.Sub(migrationFiles, path.Join("migrations", "postgres"))
		return sub, goose.DialectPostgres, err
	case DialectSQLite:
		sub, err := fs.Sub(migrationFiles, path.Join("migrations", "sqlite"))
		return sub, goose.DialectSQLite3, err
	default:
		return nil, "", fmt.Errorf("no migrations for dialect %q", dialect)
	}
}

// ApplyMigrations brings the schema up to date and returns how many
// migrations ran.
func ApplyMigrations(ctx context.Context, a *Adapter) (int, error) {
	fsys, dialect, err := migrationsFor(a.dialect)
	if err != nil {
		return 0, err
	}
	provider, err := goose.NewProvider(dialect, a.db.DB, fsys)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	return len(results), nil
}
