package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"opsbot/pkg/channel"
	"opsbot/pkg/channel/console"
	"opsbot/pkg/logger"
	"opsbot/pkg/workspace"

	"github.com/spf13/cobra"
)

var consoleLogPath string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Talk to the bot from a local terminal",
	Long:  "Runs the bot with a terminal chat window as its only channel. Logs go to a file so they do not draw over the window.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		layout, err := workspace.Resolve(cfg.Project)
		if err != nil {
			return fmt.Errorf("resolve project layout: %w", err)
		}

		logPath := consoleLogPath
		if logPath == "" {
			logPath = filepath.Join(filepath.Dir(layout.DatabasePath), "console.log")
		}
		appLogger, closer, err := logger.NewFile(cfg.Logging, logPath)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer closer.Close()
		log := appLogger.With("component", "cmd.console")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(runCtx, cfg, layout, appLogger)
		if err != nil {
			return err
		}
		defer a.Close()

		adapter := console.NewAdapter(cfg.Channels.Console, cfg.Bot.CommandMarker, appLogger)
		svc, err := a.service([]channel.Adapter{adapter}, true)
		if err != nil {
			return err
		}

		err = runService(runCtx, svc, cfg, log)
		if errors.Is(err, console.ErrQuit) {
			log.Info("Console closed")
			return nil
		}

		return err
	},
}

func init() {
	consoleCmd.Flags().StringVar(&consoleLogPath, "log-file", "", "log file (default: console.log next to the database)")
	rootCmd.AddCommand(consoleCmd)
}
