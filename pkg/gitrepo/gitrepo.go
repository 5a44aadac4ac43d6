// Package gitrepo drives the git checkout the bot runs from.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ErrBranchNotFound is returned by Checkout for unknown local branches.
var ErrBranchNotFound = errors.New("branch does not exist")

const defaultRemote = "origin"

// Commit is the head commit of the checked out branch.
type Commit struct {
	Hash    string
	Message string
}

// Repo runs git commands inside one working tree.
type Repo struct {
	dir    string
	binary string
	remote string
	log    *slog.Logger
}

// Option configures a Repo.
type Option func(*Repo)

// WithRemote overrides the remote pulled from.
func WithRemote(remote string) Option {
	return func(r *Repo) {
		if remote = strings.TrimSpace(remote); remote != "" {
			r.remote = remote
		}
	}
}

// WithBinary overrides the git executable.
func WithBinary(binary string) Option {
	return func(r *Repo) {
		if binary = strings.TrimSpace(binary); binary != "" {
			r.binary = binary
		}
	}
}

// Open returns a Repo for dir. It does not touch the filesystem.
func Open(dir string, log *slog.Logger, opts ...Option) *Repo {
	if log == nil {
		log = slog.Default()
	}

	r := &Repo{
		dir:    dir,
		binary: "git",
		remote: defaultRemote,
		log:    log.With("component", "gitrepo"),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Dir returns the working tree path.
func (r *Repo) Dir() string {
	return r.dir
}

// CurrentBranch returns the checked out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out), nil
}

// HeadCommit returns the hash and full message of HEAD.
func (r *Repo) HeadCommit(ctx context.Context) (Commit, error) {
	out, err := r.run(ctx, "log", "-1", "--format=%H%x00%B")
	if err != nil {
		return Commit{}, err
	}

	hash, message, _ := strings.Cut(out, "\x00")
	return Commit{Hash: strings.TrimSpace(hash), Message: strings.TrimSpace(message)}, nil
}

// Pull fetches and merges the configured remote into the current branch.
func (r *Repo) Pull(ctx context.Context) error {
	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return err
	}

	r.log.Info("Pulling", "remote", r.remote, "branch", branch)
	_, err = r.run(ctx, "pull", "--ff-only", r.remote, branch)
	return err
}

// Checkout switches to an existing local branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	branch = strings.TrimSpace(branch)
	if branch == "" || strings.HasPrefix(branch, "-") {
		return fmt.Errorf("%w: %q", ErrBranchNotFound, branch)
	}

	if _, err := r.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
		}
		return err
	}

	r.log.Info("Checking out", "branch", branch)
	_, err := r.run(ctx, "checkout", "--quiet", branch, "--")
	return err
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, detail)
	}

	return stdout.String(), nil
}
