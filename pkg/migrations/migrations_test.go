package migrations

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeMigration(t *testing.T, dir string, name string, sql string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644))
}

func testRunner(t *testing.T) (*Runner, string) {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "migrations")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	writeMigration(t, dir, "000001_create_notes.up.sql", "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT);")
	writeMigration(t, dir, "000001_create_notes.down.sql", "DROP TABLE notes;")
	writeMigration(t, dir, "000002_add_author.up.sql", "ALTER TABLE notes ADD COLUMN author TEXT;")
	writeMigration(t, dir, "000002_add_author.down.sql", "ALTER TABLE notes DROP COLUMN author;")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(filepath.Join(root, "data", "opsbot.db"), dir, log), dir
}

func TestApplyPendingReportsAppliedCount(t *testing.T) {
	runner, _ := testRunner(t)

	report, err := runner.ApplyPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2 migrations applied, schema at version 2.", report)

	version, dirty, err := runner.Version(context.Background())
	require.NoError(t, err)
	require.False(t, dirty)
	require.EqualValues(t, 2, version)
}

func TestApplyPendingIsIdempotent(t *testing.T) {
	runner, dir := testRunner(t)

	_, err := runner.ApplyPending(context.Background())
	require.NoError(t, err)

	report, err := runner.ApplyPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, NoChangeReport, report)

	writeMigration(t, dir, "000003_add_index.up.sql", "CREATE INDEX notes_author ON notes(author);")
	writeMigration(t, dir, "000003_add_index.down.sql", "DROP INDEX notes_author;")

	report, err = runner.ApplyPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1 migration applied, schema at version 3.", report)
}

func TestVersionOfFreshDatabase(t *testing.T) {
	runner, _ := testRunner(t)

	version, dirty, err := runner.Version(context.Background())
	require.NoError(t, err)
	require.False(t, dirty)
	require.Zero(t, version)
}

func TestApplyPendingReportsBrokenMigration(t *testing.T) {
	runner, dir := testRunner(t)
	writeMigration(t, dir, "000003_broken.up.sql", "CREATE TABLE;")
	writeMigration(t, dir, "000003_broken.down.sql", "")

	_, err := runner.ApplyPending(context.Background())
	require.ErrorContains(t, err, "apply migration 3")
}

func TestApplyPendingRequiresDirectory(t *testing.T) {
	runner := NewRunner(filepath.Join(t.TempDir(), "opsbot.db"), "", nil)

	_, err := runner.ApplyPending(context.Background())
	require.Error(t, err)
}

func TestRepositoryMigrationsApply(t *testing.T) {
	runner := NewRunner(filepath.Join(t.TempDir(), "opsbot.db"), filepath.Join("..", "..", "migrations"), nil)

	report, err := runner.ApplyPending(context.Background())
	require.NoError(t, err)
	require.Contains(t, report, "applied")
}
