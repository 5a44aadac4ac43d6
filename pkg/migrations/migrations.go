// Package migrations applies the bot's pending schema migrations.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"opsbot/pkg/store"
)

// NoChangeReport is returned when the schema is already current.
const NoChangeReport = "No migrations to apply."

// Runner applies migrations from a directory to one SQLite database.
type Runner struct {
	dbPath string
	dir    string
	log    *slog.Logger
}

// NewRunner builds a runner for the database at dbPath and the migration
// files in dir.
func NewRunner(dbPath string, dir string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}

	return &Runner{
		dbPath: strings.TrimSpace(dbPath),
		dir:    strings.TrimSpace(dir),
		log:    log.With("component", "migrations"),
	}
}

// ApplyPending applies every pending up migration one step at a time and
// returns a human readable report.
func (r *Runner) ApplyPending(ctx context.Context) (string, error) {
	m, err := r.open()
	if err != nil {
		return "", err
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			r.log.Warn("Close migrator failed", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		err := m.Steps(1)
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("apply migration %d: %w", applied+1, err)
		}
		applied++
	}

	if applied == 0 {
		r.log.Info("Schema is current")
		return NoChangeReport, nil
	}

	version, _, err := m.Version()
	if err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}

	r.log.Info("Applied migrations", "count", applied, "version", version)
	return fmt.Sprintf("%s applied, schema at version %d.", pluralize(applied, "migration"), version), nil
}

// Version reports the current schema version. A fresh database reports 0.
func (r *Runner) Version(context.Context) (uint, bool, error) {
	m, err := r.open()
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}

	return version, dirty, nil
}

func (r *Runner) open() (*migrate.Migrate, error) {
	if r.dir == "" {
		return nil, errors.New("migrations directory is required")
	}
	dir, err := filepath.Abs(r.dir)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations directory: %w", err)
	}

	db, err := store.Open(r.dbPath)
	if err != nil {
		return nil, err
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(dir), "sqlite3", driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	m.Log = logAdapter{log: r.log}

	return m, nil
}

// logAdapter routes migrate's log lines into slog.
type logAdapter struct {
	log *slog.Logger
}

func (l logAdapter) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l logAdapter) Verbose() bool {
	return false
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}

	return fmt.Sprintf("%d %ss", n, noun)
}
