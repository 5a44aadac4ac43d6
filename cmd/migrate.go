package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"opsbot/pkg/logger"
	"opsbot/pkg/migrations"
	"opsbot/pkg/workspace"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newMigrationRunner()
		if err != nil {
			return err
		}

		report, err := runner.ApplyPending(commandContext(cmd))
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), report)
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newMigrationRunner()
		if err != nil {
			return err
		}

		version, dirty, err := runner.Version(commandContext(cmd))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if dirty {
			fmt.Fprintf(out, "%d (dirty)\n", version)
			return nil
		}
		fmt.Fprintln(out, version)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func newMigrationRunner() (*migrations.Runner, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	layout, err := workspace.Resolve(cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("resolve project layout: %w", err)
	}

	return migrations.NewRunner(layout.DatabasePath, layout.MigrationsDir, appLogger), nil
}

// commandContext returns the cobra context, or Background when a command
// runs without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
