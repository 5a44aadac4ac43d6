package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"opsbot/pkg/channel"
	"opsbot/pkg/channel/telegram"
	"opsbot/pkg/config"
	"opsbot/pkg/logger"
	"opsbot/pkg/workspace"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the bot on its chat channels",
	Long:  "Serves chat commands on every enabled channel with health and readiness endpoints. Exits with bot.restart_exit_code when a restart is requested.",
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
		log := slog.Default().With("component", "cmd.gateway")

		adapters, err := enabledAdapters(cfg, appLogger)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return &exitError{code: 1}
		}

		layout, err := workspace.Resolve(cfg.Project)
		if err != nil {
			log.Error("Project layout invalid", "error", err, "category", workspace.CategoryFromError(err))
			return &exitError{code: 1}
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(runCtx, cfg, layout, appLogger)
		if err != nil {
			log.Error("Failed to open bot state", "error", err)
			return &exitError{code: 1}
		}
		defer a.Close()

		svc, err := a.service(adapters, false)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return &exitError{code: 1}
		}

		log.Info("Gateway configured", "channels", enabledChannelNames(adapters), "root", layout.Root, "assistant", cfg.Assistant.Enabled)
		return runService(runCtx, svc, cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
