package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"opsbot/pkg/channel"
	"opsbot/pkg/config"
	"opsbot/pkg/engine"
	"opsbot/pkg/gateway"
	"opsbot/pkg/gitrepo"
	"opsbot/pkg/migrations"
	"opsbot/pkg/plugins/assistant"
	"opsbot/pkg/plugins/devtest"
	"opsbot/pkg/plugins/system"
	"opsbot/pkg/provider"
	"opsbot/pkg/roster"
	"opsbot/pkg/sysinfo"
	"opsbot/pkg/workspace"
)

// app holds the collaborators shared by the serving commands.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	layout   workspace.Layout
	migrator *migrations.Runner
	roster   *roster.Store
	provider provider.Client
}

// openApp brings the schema up to date and opens the roster.
func openApp(ctx context.Context, cfg *config.Config, layout workspace.Layout, log *slog.Logger) (*app, error) {
	migrator := migrations.NewRunner(layout.DatabasePath, layout.MigrationsDir, log)
	report, err := migrator.ApplyPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Debug("Schema checked", "report", report)

	store, err := roster.Open(layout.DatabasePath, cfg.Roster.Admins, log)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}

	return &app{
		cfg:      cfg,
		log:      log,
		layout:   layout,
		migrator: migrator,
		roster:   store,
	}, nil
}

func (a *app) Close() error {
	return a.roster.Close()
}

// plugins builds every enabled plugin. The assistant plugin also sets the
// provider whose health gates readiness.
func (a *app) plugins() ([]engine.Plugin, error) {
	metrics, err := sysinfo.NewCollector()
	if err != nil {
		return nil, err
	}

	sys, err := system.New(system.Deps{
		Source:   gitrepo.Open(a.layout.Root, a.log, gitrepo.WithRemote(a.cfg.Project.GitRemote)),
		Migrator: a.migrator,
		Metrics:  metrics,
		Log:      a.log,
	})
	if err != nil {
		return nil, err
	}

	delay := time.Duration(a.cfg.Bot.DevtestDelaySeconds) * time.Second
	plugins := []engine.Plugin{sys, devtest.New(a.cfg.Bot.DeveloperChannel, delay)}

	if !a.cfg.Assistant.Enabled {
		return plugins, nil
	}

	client, err := provider.New(a.cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("configure assistant provider: %w", err)
	}
	plugin, err := assistant.New(client, a.cfg.Assistant.Model, a.cfg.Assistant.Agent, a.log)
	if err != nil {
		return nil, err
	}
	a.provider = client

	return append(plugins, plugin), nil
}

func (a *app) service(adapters []channel.Adapter, noStatusServer bool) (*gateway.Service, error) {
	plugins, err := a.plugins()
	if err != nil {
		return nil, err
	}

	return gateway.NewService(a.cfg, gateway.Deps{
		Roster:         a.roster,
		Plugins:        plugins,
		Adapters:       adapters,
		Provider:       a.provider,
		Log:            a.log,
		NoStatusServer: noStatusServer,
	})
}

// runService maps the gateway result onto a process exit: a termination
// becomes the restart exit code, a cancelled context a clean exit.
func runService(ctx context.Context, svc *gateway.Service, cfg *config.Config, log *slog.Logger) error {
	err := svc.Run(ctx)
	if term, ok := engine.IsTermination(err); ok {
		log.Info("Exiting for restart", "reason", term.Reason, "exit_code", cfg.Bot.RestartExitCode)
		return &exitError{code: cfg.Bot.RestartExitCode}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
