// Package provider builds the language-model client behind the ask command.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"opsbot/pkg/config"
	provideropenai "opsbot/pkg/provider/openai"
	"opsbot/pkg/provider/opencode"
	providertypes "opsbot/pkg/provider/types"
)

// Client is a session-oriented prompt API.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, sessionID string, prompt string, model string, agent string) (providertypes.PromptResult, error)
}

// New returns the client named by assistant.provider, defaulting to opencode.
func New(cfg *config.Config, log *slog.Logger) (Client, error) {
	if log == nil {
		log = slog.Default()
	}

	providerID := strings.ToLower(strings.TrimSpace(cfg.Assistant.Provider))
	if providerID == "" {
		providerID = "opencode"
	}

	log.With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "opencode":
		return opencode.New(cfg.Providers.OpenCode, log)
	case "openai":
		return provideropenai.New(cfg.Providers.OpenAI, log)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
