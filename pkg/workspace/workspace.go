// Package workspace resolves where the bot's checkout, database and
// migrations live on disk.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"opsbot/pkg/config"
)

// Layout holds absolute, symlink-free project paths.
type Layout struct {
	Root          string
	DatabasePath  string
	MigrationsDir string
}

// Resolve validates the project section of the config. Relative database
// and migration paths are taken from Root and may not leave it. The
// database directory is created when missing.
func Resolve(cfg config.ProjectConfig) (Layout, error) {
	root, err := resolveRoot(cfg.Root)
	if err != nil {
		return Layout{}, err
	}

	dbPath, err := resolveUnder(root, cfg.DatabasePath)
	if err != nil {
		return Layout{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return Layout{}, normalizeIOError(err, filepath.Dir(dbPath))
	}

	migrationsDir, err := resolveUnder(root, cfg.MigrationsDir)
	if err != nil {
		return Layout{}, err
	}
	if err := requireDir(migrationsDir); err != nil {
		return Layout{}, err
	}

	return Layout{Root: root, DatabasePath: dbPath, MigrationsDir: migrationsDir}, nil
}

func resolveRoot(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		trimmed = "."
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute project root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return "", normalizeIOError(err, absPath)
	}
	if err := requireDir(resolved); err != nil {
		return "", err
	}

	return filepath.Clean(resolved), nil
}

// resolveUnder joins a relative path to root and checks it stays inside.
func resolveUnder(root string, input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", newError(ErrorInvalidPath, "", "path must not be empty")
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}

	joined := filepath.Join(root, expanded)
	if !isWithin(root, joined) {
		return "", newError(ErrorOutsideRoot, trimmed, "relative path escapes the project root")
	}

	return joined, nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return normalizeIOError(err, path)
	}
	if !info.IsDir() {
		return newError(ErrorNotDirectory, path, "")
	}

	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(rel)
}
