package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	return path
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfig(t, `{
	  "bot": {"command_marker": "/", "restart_exit_code": 3},
	  "channels": {"telegram": {"enabled": true, "token": "123:abc", "allow_from": ["42"]}},
	  "roster": {"admins": ["1001", "1002"]},
	  "project": {"root": "/srv/opsbot", "database_path": "/var/lib/opsbot/opsbot.db"},
	  "providers": {"opencode": {"base_url": "http://127.0.0.1:4096"}},
	  "gateway": {"host": "0.0.0.0", "port": 18791},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`)
	t.Setenv("OPSBOT_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if cfg.Bot.CommandMarker != "/" || cfg.Bot.RestartExitCode != 3 {
		t.Fatalf("bot = %+v", cfg.Bot)
	}
	if len(cfg.Roster.Admins) != 2 || cfg.Roster.Admins[1] != "1002" {
		t.Fatalf("roster.admins = %v", cfg.Roster.Admins)
	}
	if cfg.Project.DatabasePath != "/var/lib/opsbot/opsbot.db" {
		t.Fatalf("project.database_path = %q", cfg.Project.DatabasePath)
	}
	if cfg.Gateway.Port != 18791 {
		t.Fatalf("gateway.port = %d, want 18791", cfg.Gateway.Port)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("OPSBOT_CONFIG", writeConfig(t, `{}`))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Bot.CommandMarker != "!" {
		t.Fatalf("bot.command_marker = %q, want !", cfg.Bot.CommandMarker)
	}
	if cfg.Bot.RestartExitCode != 75 {
		t.Fatalf("bot.restart_exit_code = %d, want 75", cfg.Bot.RestartExitCode)
	}
	if cfg.Project.MigrationsDir != "migrations" {
		t.Fatalf("project.migrations_dir = %q", cfg.Project.MigrationsDir)
	}
	if cfg.Project.GitRemote != "origin" {
		t.Fatalf("project.git_remote = %q", cfg.Project.GitRemote)
	}
	if cfg.Channels.Console.SenderID != "console" {
		t.Fatalf("channels.console.sender_id = %q", cfg.Channels.Console.SenderID)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPSBOT_CONFIG", writeConfig(t, `{"channels": {"telegram": {"enabled": true}}}`))
	t.Setenv("TELEGRAM_BOT_TOKEN", "999:env")
	t.Setenv("TELEGRAM_ALLOW_FROM", " 1, 2 ,,3 ")
	t.Setenv("OPSBOT_ADMINS", "1001")
	t.Setenv("OPSBOT_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Channels.Telegram.Token != "999:env" {
		t.Fatalf("telegram token = %q", cfg.Channels.Telegram.Token)
	}
	if got := cfg.Channels.Telegram.AllowFrom; len(got) != 3 || got[2] != "3" {
		t.Fatalf("allow_from = %v", got)
	}
	if len(cfg.Roster.Admins) != 1 || cfg.Roster.Admins[0] != "1001" {
		t.Fatalf("roster.admins = %v", cfg.Roster.Admins)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("logging.level = %q, want warn", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := map[string]string{
		"empty marker":      `{"bot": {"command_marker": " "}}`,
		"exit code":         `{"bot": {"restart_exit_code": 0}}`,
		"telegram no token": `{"channels": {"telegram": {"enabled": true}}}`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TELEGRAM_BOT_TOKEN", "")
			if _, err := LoadFile(writeConfig(t, content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("OPSBOT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Gateway.Port != 18790 || cfg.Bot.DeveloperChannel != "developer" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
