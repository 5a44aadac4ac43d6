package cmd

import (
	"fmt"
	"log/slog"
	"sort"

	"opsbot/pkg/engine"
	"opsbot/pkg/logger"
	"opsbot/pkg/workspace"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the chat commands the bot answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		a, err := openApp(commandContext(cmd), cfg, layout, appLogger)
		if err != nil {
			return err
		}
		defer a.Close()

		plugins, err := a.plugins()
		if err != nil {
			return err
		}

		registry := engine.NewRegistry()
		for _, plugin := range plugins {
			if err := registry.Install(plugin); err != nil {
				return err
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderCommands(cfg.Bot.CommandMarker, registry.Commands()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commandsCmd)
}

func renderCommands(marker string, commands []engine.CommandInfo) string {
	sort.SliceStable(commands, func(i, j int) bool {
		if commands[i].Namespace != commands[j].Namespace {
			return commands[i].Namespace < commands[j].Namespace
		}
		return commands[i].Prefix < commands[j].Prefix
	})

	rows := make([][]string, 0, len(commands))
	for _, c := range commands {
		usage := marker + c.Prefix
		if c.Pattern != "" {
			usage += " " + c.Pattern
		}
		rows = append(rows, []string{c.Namespace + "." + c.Name, usage, c.Require.String(), c.Help})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("COMMAND", "USAGE", "ACCESS", "HELP").
		Rows(rows...).
		String()
}
