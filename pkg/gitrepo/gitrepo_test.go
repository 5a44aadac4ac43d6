package gitrepo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=opsbot", "GIT_AUTHOR_EMAIL=opsbot@example.com",
		"GIT_COMMITTER_NAME=opsbot", "GIT_COMMITTER_EMAIL=opsbot@example.com",
		"GIT_CONFIG_NOSYSTEM=1", "HOME="+dir,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func commitFile(t *testing.T, dir string, name string, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(message), 0o644))
	git(t, dir, "add", name)
	git(t, dir, "commit", "--quiet", "-m", message)
}

func newRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)

	dir := t.TempDir()
	git(t, dir, "init", "--quiet")
	git(t, dir, "checkout", "--quiet", "-b", "main")
	commitFile(t, dir, "README.md", "Initial commit")
	git(t, dir, "branch", "feature")

	return dir
}

func TestCurrentBranchAndHeadCommit(t *testing.T) {
	dir := newRepo(t)
	repo := Open(dir, nil)

	branch, err := repo.CurrentBranch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "main", branch)

	head, err := repo.HeadCommit(context.Background())
	require.NoError(t, err)
	require.Len(t, head.Hash, 40)
	require.Equal(t, "Initial commit", head.Message)
}

func TestCheckout(t *testing.T) {
	dir := newRepo(t)
	repo := Open(dir, nil)

	require.NoError(t, repo.Checkout(context.Background(), "feature"))
	branch, err := repo.CurrentBranch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "feature", branch)

	for _, name := range []string{"does-not-exist", "", "--orphan"} {
		err := repo.Checkout(context.Background(), name)
		if !errors.Is(err, ErrBranchNotFound) {
			t.Fatalf("Checkout(%q) = %v, want ErrBranchNotFound", name, err)
		}
	}
}

func TestPullFastForwards(t *testing.T) {
	upstream := newRepo(t)

	clone := filepath.Join(t.TempDir(), "clone")
	git(t, filepath.Dir(clone), "clone", "--quiet", upstream, clone)
	commitFile(t, upstream, "CHANGELOG.md", "Add changelog")

	repo := Open(clone, nil)
	require.NoError(t, repo.Pull(context.Background()))

	head, err := repo.HeadCommit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Add changelog", head.Message)
}

func TestCommandErrorsIncludeStderr(t *testing.T) {
	requireGit(t)
	repo := Open(t.TempDir(), nil)

	_, err := repo.CurrentBranch(context.Background())
	require.ErrorContains(t, err, "git rev-parse")
}
