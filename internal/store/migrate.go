package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"sort"
)

// migrationLockKey serializes migrations across API instances starting together.
const migrationLockKey int64 = 0x5348454554

// ApplyMigrations runs the pending *.up.sql files of migrationsDir in name order, one
// transaction each, and returns the versions it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	return applyMigrations(ctx, db, os.DirFS(migrationsDir))
}

func applyMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	files, err := migrationFiles(fsys, "up")
	if err != nil {
		return nil, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := []string{}
	for _, file := range files {
		var done bool
		if err := conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, file).Scan(&done); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", file, err)
		}
		if done {
			continue
		}
		contents, err := fs.ReadFile(fsys, file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := runMigration(ctx, conn, file, string(contents)); err != nil {
			return applied, err
		}
		applied = append(applied, file)
	}
	return applied, nil
}

func runMigration(ctx context.Context, conn *sql.Conn, version, contents string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, contents); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

// migrationFiles lists the top-level "*.{direction}.sql" files of fsys. Up files sort
// ascending, down files descending.
func migrationFiles(fsys fs.FS, direction string) ([]string, error) {
	files, err := fs.Glob(fsys, "*."+direction+".sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if _, err := fs.Stat(fsys, "."); err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	kept := files[:0]
	for _, file := range files {
		if info, err := fs.Stat(fsys, file); err == nil && !info.IsDir() {
			kept = append(kept, file)
		}
	}
	sort.Strings(kept)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(kept)))
	}
	return kept, nil
}
