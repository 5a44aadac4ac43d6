// Package system provides the bot's self-management commands: restart,
// status, source control, schema migrations and the full self update.
package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"opsbot/pkg/engine"
	"opsbot/pkg/gitrepo"
)

// Namespace is the plugin namespace of the system commands.
const Namespace = "system"

// SourceControl is the git working tree the bot runs from.
type SourceControl interface {
	CurrentBranch(ctx context.Context) (string, error)
	HeadCommit(ctx context.Context) (gitrepo.Commit, error)
	Pull(ctx context.Context) error
	Checkout(ctx context.Context, branch string) error
}

// Migrator applies pending schema migrations.
type Migrator interface {
	ApplyPending(ctx context.Context) (string, error)
}

// Metrics reports about the running process and host.
type Metrics interface {
	ResidentMemoryBytes(ctx context.Context) (uint64, error)
	StartTime(ctx context.Context) (time.Time, error)
	OSDescription(ctx context.Context) (string, string, error)
}

// Deps are the collaborators the system commands call.
type Deps struct {
	Source   SourceControl
	Migrator Migrator
	Metrics  Metrics
	Log      *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Plugin implements engine.Plugin.
type Plugin struct {
	deps Deps
	log  *slog.Logger
}

// New builds the system plugin.
func New(deps Deps) (*Plugin, error) {
	if deps.Source == nil {
		return nil, errors.New("system plugin: source control is required")
	}
	if deps.Migrator == nil {
		return nil, errors.New("system plugin: migrator is required")
	}
	if deps.Metrics == nil {
		return nil, errors.New("system plugin: metrics are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &Plugin{deps: deps, log: log.With("component", "plugins.system")}, nil
}

func (p *Plugin) Name() string {
	return Namespace
}

func (p *Plugin) Commands() []engine.Descriptor {
	return []engine.Descriptor{
		{Name: "restart", Require: engine.RequireAdmin, Help: "Restart the bot.", Run: p.restart},
		{Name: "sysinfo", Require: engine.RequireOpen, Help: "Show uptime, memory usage and the running commit.", Run: p.sysinfo},
		{Name: "git_checkout", Pattern: `(?P<branch>.+)`, Require: engine.RequireAdmin, Help: "Check out a local branch.", Run: p.gitCheckout},
		{Name: "git_pull", Require: engine.RequireAdmin, Help: "Pull the latest commits.", Run: p.gitPull},
		{Name: "migrate", Require: engine.RequireAdmin, Help: "Apply pending database migrations.", Run: p.migrate},
		{Name: "update_self", Require: engine.RequireAdmin, Help: "Pull, migrate, report and restart.", Run: p.updateSelf},
	}
}

func (p *Plugin) restart(inv *engine.Invocation) error {
	p.log.Info("Restart issued", "sender", inv.Message.SenderName, "sender_id", inv.Caller.SenderID)

	if err := inv.Typing(); err != nil {
		return err
	}
	if err := inv.Reply("Restarting..."); err != nil {
		return err
	}

	return inv.Terminate("restart requested by " + senderLabel(inv.Message))
}

func (p *Plugin) sysinfo(inv *engine.Invocation) error {
	status, err := engine.Await(inv, p.collectStatus)
	if err != nil {
		return err
	}

	return inv.Reply(status.format(p.deps.Now()))
}

func (p *Plugin) gitCheckout(inv *engine.Invocation) error {
	branch := strings.TrimSpace(inv.Args.Get("branch"))

	_, err := engine.Await(inv, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.deps.Source.Checkout(ctx, branch)
	})
	if errors.Is(err, gitrepo.ErrBranchNotFound) {
		return inv.Replyf("Branch `%s` does not exist", branch)
	}
	if err != nil {
		return engine.NewCollaboratorError("git", "checkout", err)
	}

	return inv.Replyf("Checked out `%s`", branch)
}

func (p *Plugin) gitPull(inv *engine.Invocation) error {
	if err := inv.Typing(); err != nil {
		return err
	}

	_, err := engine.Await(inv, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.deps.Source.Pull(ctx)
	})
	if err != nil {
		return engine.NewCollaboratorError("git", "pull", err)
	}

	return inv.Reply("Pulled the latest commits")
}

func (p *Plugin) migrate(inv *engine.Invocation) error {
	if err := inv.Typing(); err != nil {
		return err
	}

	report, err := engine.Await(inv, p.deps.Migrator.ApplyPending)
	if err != nil {
		return engine.NewCollaboratorError("migrations", "apply", err)
	}

	return inv.Reply(report)
}

// updateSelf runs the independent commands in sequence and then stops the
// process; any failing step ends the chain before the restart.
func (p *Plugin) updateSelf(inv *engine.Invocation) error {
	p.log.Info("Starting full self update", "sender_id", inv.Caller.SenderID)

	if err := inv.Typing(); err != nil {
		return err
	}
	for _, step := range []string{"git_pull", "migrate", "sysinfo"} {
		if err := inv.Delegate(step); err != nil {
			return fmt.Errorf("self update: %s: %w", step, err)
		}
	}

	return inv.Terminate("self update requested by " + senderLabel(inv.Message))
}

type status struct {
	startedAt time.Time
	memory    uint64
	system    string
	release   string
	branch    string
	commit    gitrepo.Commit
}

func (p *Plugin) collectStatus(ctx context.Context) (status, error) {
	var (
		s   status
		err error
	)

	if s.memory, err = p.deps.Metrics.ResidentMemoryBytes(ctx); err != nil {
		return s, engine.NewCollaboratorError("metrics", "memory", err)
	}
	if s.startedAt, err = p.deps.Metrics.StartTime(ctx); err != nil {
		return s, engine.NewCollaboratorError("metrics", "start time", err)
	}
	if s.system, s.release, err = p.deps.Metrics.OSDescription(ctx); err != nil {
		return s, engine.NewCollaboratorError("metrics", "os", err)
	}
	if s.branch, err = p.deps.Source.CurrentBranch(ctx); err != nil {
		return s, engine.NewCollaboratorError("git", "current branch", err)
	}
	if s.commit, err = p.deps.Source.HeadCommit(ctx); err != nil {
		return s, engine.NewCollaboratorError("git", "head commit", err)
	}

	return s, nil
}

func (s status) format(now time.Time) string {
	return fmt.Sprintf(
		"Uptime: `%s`\nMemory usage: `%s`\nOS: `%s, %s`\nCurrent branch: `%s`, `%s`, \n`%s`\n",
		uptime(s.startedAt, now),
		humanize.IBytes(s.memory),
		s.system, s.release,
		s.branch, s.commit.Hash,
		s.commit.Message,
	)
}

func uptime(startedAt time.Time, now time.Time) string {
	return strings.TrimSpace(humanize.RelTime(startedAt, now, "", ""))
}

func senderLabel(msg engine.Message) string {
	if name := strings.TrimSpace(msg.SenderName); name != "" {
		return name
	}

	return msg.SenderID
}
