package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func baseConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "t"},
		Database: DatabaseConfig{Driver: DriverMemory},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := baseConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("run mode = %q", cfg.Telegram.RunMode)
	}
	if cfg.Session.Store != SessionStoreMemory {
		t.Fatalf("session store = %q", cfg.Session.Store)
	}
	if cfg.Session.WizardTTL != 0 {
		t.Fatalf("wizard ttl should stay disabled, got %s", cfg.Session.WizardTTL)
	}
	if cfg.Session.LockTimeout != defaultLockTimeout || cfg.Session.LockTTL != defaultLockTTL {
		t.Fatalf("lock defaults not applied: %+v", cfg.Session)
	}
	if cfg.Notify.OverdueReannounce != 24*time.Hour {
		t.Fatalf("overdue reannounce = %s", cfg.Notify.OverdueReannounce)
	}
	if cfg.Notify.DeadlineCron != defaultDeadlineCron || cfg.Notify.DeadlineWindow != 24*time.Hour {
		t.Fatalf("notify defaults not applied: %+v", cfg.Notify)
	}
	if cfg.Sender.Workers != defaultSenderWorkers || cfg.Sender.QueueSize != defaultSenderQueue {
		t.Fatalf("sender defaults not applied: %+v", cfg.Sender)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "token"},
		{"bad run mode", func(c *Config) { c.Telegram.RunMode = "carrier-pigeon" }, "run_mode"},
		{"webhook without url", func(c *Config) { c.Telegram.RunMode = RunModeWebhook }, "webhook.url"},
		{"redis without addr", func(c *Config) { c.Session.Store = SessionStoreRedis }, "redis.addr"},
		{"unknown store", func(c *Config) { c.Session.Store = "etcd" }, "session.store"},
		{"negative ttl", func(c *Config) { c.Session.WizardTTL = -time.Second }, "wizard_ttl"},
		{"bad cron", func(c *Config) { c.Notify.DeadlineCron = "every day" }, "deadline_cron"},
		{"postgres without host", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.host"},
		{"bad exclude", func(c *Config) { c.RateLimit.ExcludeUpdates = []string{"inline_query"} }, "exclude_updates"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := Normalize(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
telegram:
  token: from-file
  run_mode: polling
database:
  driver: memory
session:
  store: memory
  wizard_ttl: 30m
notify:
  deadline_cron: "0 9 * * *"
  deadline_window: 12h
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BOT_TOKEN", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q, env should win", cfg.Telegram.Token)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("polling alias not normalized: %q", cfg.Telegram.RunMode)
	}
	if cfg.Session.WizardTTL != 30*time.Minute {
		t.Fatalf("wizard ttl = %s", cfg.Session.WizardTTL)
	}
	if cfg.Notify.DeadlineCron != "0 9 * * *" || cfg.Notify.DeadlineWindow != 12*time.Hour {
		t.Fatalf("notify = %+v", cfg.Notify)
	}
}
