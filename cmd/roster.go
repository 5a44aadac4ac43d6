package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/user"
	"strings"
	"time"

	"opsbot/pkg/engine"
	"opsbot/pkg/logger"
	"opsbot/pkg/roster"
	"opsbot/pkg/workspace"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	grantLevel string
	grantedBy  string
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage who may run admin commands",
}

var rosterGrantCmd = &cobra.Command{
	Use:   "grant <sender-id>",
	Short: "Set a sender's permission level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, ok := engine.ParsePermission(grantLevel)
		if !ok {
			return fmt.Errorf("unknown permission level %q (want admin or normal)", grantLevel)
		}

		return withRoster(cmd, func(ctx context.Context, store *roster.Store) error {
			if err := store.Grant(ctx, args[0], level, grantor()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], level)
			return nil
		})
	},
}

var rosterRevokeCmd = &cobra.Command{
	Use:   "revoke <sender-id>",
	Short: "Remove a sender from the roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoster(cmd, func(ctx context.Context, store *roster.Store) error {
			removed, err := store.Revoke(ctx, args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not on the roster\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed\n", args[0])
			return nil
		})
	},
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roster members",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoster(cmd, func(ctx context.Context, store *roster.Store) error {
			members, err := store.List(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderMembers(members))
			return nil
		})
	},
}

func init() {
	rosterGrantCmd.Flags().StringVar(&grantLevel, "level", string(engine.PermissionAdmin), "permission level: admin or normal")
	rosterGrantCmd.Flags().StringVar(&grantedBy, "by", "", "who granted it (default: local user)")

	rosterCmd.AddCommand(rosterGrantCmd, rosterRevokeCmd, rosterListCmd)
	rootCmd.AddCommand(rosterCmd)
}

func withRoster(cmd *cobra.Command, fn func(context.Context, *roster.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	layout, err := workspace.Resolve(cfg.Project)
	if err != nil {
		return fmt.Errorf("resolve project layout: %w", err)
	}

	ctx := commandContext(cmd)
	a, err := openApp(ctx, cfg, layout, appLogger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a.roster)
}

func grantor() string {
	if by := strings.TrimSpace(grantedBy); by != "" {
		return by
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		return "cli:" + current.Username
	}
	return "cli"
}

func renderMembers(members []roster.Member) string {
	if len(members) == 0 {
		return "roster is empty"
	}

	rows := make([][]string, 0, len(members))
	for _, m := range members {
		updated := "-"
		if !m.UpdatedAt.IsZero() {
			updated = m.UpdatedAt.Local().Format(time.DateTime)
		}
		by := m.GrantedBy
		if by == "" {
			by = "-"
		}
		rows = append(rows, []string{m.SenderID, string(m.Permission), m.Source, by, updated})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SENDER", "LEVEL", "SOURCE", "GRANTED BY", "UPDATED").
		Rows(rows...).
		String()
}
