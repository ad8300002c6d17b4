package store

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// runMigrations executes the dialect's SQL files in alphabetical order on
// every start. Each file runs in its own transaction and must be safe to
// re-run; a file whose only failure is its tolerated "already applied"
// error is skipped.
func runMigrations(ctx context.Context, db *sql.DB, d dialect) error {
	sub, err := fs.Sub(migrationsFS, "migrations/"+d.name)
	if err != nil {
		return err
	}
	return applyMigrations(ctx, db, sub, d.tolerated)
}

func applyMigrations(ctx context.Context, db *sql.DB, fsys fs.FS, tolerated map[string]string) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}
	// ensure deterministic order: 001_..., 002_..., etc.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		sqlBytes, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return err
		}

		err = execMigration(ctx, db, string(sqlBytes))
		if err == nil {
			continue
		}
		if msg, ok := tolerated[e.Name()]; ok && strings.Contains(err.Error(), msg) {
			continue
		}
		return wrap("migrate "+e.Name(), err)
	}
	return nil
}

func execMigration(ctx context.Context, db *sql.DB, stmt string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
