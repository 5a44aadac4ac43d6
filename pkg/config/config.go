package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

const (
	envConfigPath        = "OPSBOT_CONFIG"
	envPrefix            = "OPSBOT"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envAdmins            = "OPSBOT_ADMINS"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Roster    RosterConfig    `mapstructure:"roster"`
	Project   ProjectConfig   `mapstructure:"project"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BotConfig controls command dispatch and process control.
type BotConfig struct {
	CommandMarker       string `mapstructure:"command_marker"`
	RestartExitCode     int    `mapstructure:"restart_exit_code"`
	DeveloperChannel    string `mapstructure:"developer_channel"`
	DevtestDelaySeconds int    `mapstructure:"devtest_delay_seconds"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `mapstructure:"format"`
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

// RosterConfig lists senders that are always admins.
type RosterConfig struct {
	Admins []string `mapstructure:"admins"`
}

// ProjectConfig locates the checkout the bot runs from and its database.
type ProjectConfig struct {
	Root          string `mapstructure:"root"`
	DatabasePath  string `mapstructure:"database_path"`
	MigrationsDir string `mapstructure:"migrations_dir"`
	GitRemote     string `mapstructure:"git_remote"`
}

// AssistantConfig enables the ask command and picks its provider.
type AssistantConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	Agent    string `mapstructure:"agent"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `mapstructure:"opencode"`
	OpenAI   OpenAIProviderConfig   `mapstructure:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	Username              string `mapstructure:"username"`
	PasswordEnv           string `mapstructure:"password_env"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	APIKeyEnv             string `mapstructure:"api_key_env"`
	Organization          string `mapstructure:"organization"`
	Project               string `mapstructure:"project"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Console  ConsoleConfig  `mapstructure:"console"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Token     string   `mapstructure:"token"`
	Proxy     string   `mapstructure:"proxy"`
	AllowFrom []string `mapstructure:"allow_from"`
}

// ConsoleConfig configures the local terminal channel.
type ConsoleConfig struct {
	SenderID string `mapstructure:"sender_id"`
	ChatName string `mapstructure:"chat_name"`
}

// GatewayConfig configures HTTP health server bind settings.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile reads one config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	var cfg Config
	// Defaults are plain scalars; decoding them cannot fail.
	_ = newViper().Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")

	v.SetDefault("bot.command_marker", "!")
	v.SetDefault("bot.restart_exit_code", 75)
	v.SetDefault("bot.developer_channel", "developer")
	v.SetDefault("bot.devtest_delay_seconds", 3)
	v.SetDefault("roster.admins", []string{})
	v.SetDefault("project.root", ".")
	v.SetDefault("project.database_path", filepath.Join("data", "opsbot.db"))
	v.SetDefault("project.migrations_dir", "migrations")
	v.SetDefault("project.git_remote", "origin")
	v.SetDefault("assistant.enabled", false)
	v.SetDefault("assistant.provider", "opencode")
	v.SetDefault("channels.telegram.enabled", false)
	v.SetDefault("channels.console.sender_id", "console")
	v.SetDefault("channels.console.chat_name", "console")
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 18790)
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.add_source", false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Validate rejects settings the bot cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bot.CommandMarker) == "" {
		return fmt.Errorf("bot.command_marker must not be empty")
	}
	if c.Bot.RestartExitCode < 1 || c.Bot.RestartExitCode > 125 {
		return fmt.Errorf("bot.restart_exit_code must be between 1 and 125, got %d", c.Bot.RestartExitCode)
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		return fmt.Errorf("channels.telegram.token is required when telegram is enabled (or set %s)", envTelegramBotToken)
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if rawAdmins := strings.TrimSpace(os.Getenv(envAdmins)); rawAdmins != "" {
		cfg.Roster.Admins = parseCSV(rawAdmins)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is OPSBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
