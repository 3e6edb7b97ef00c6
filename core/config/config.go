package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	// SecretToken is echoed by Telegram in every webhook request; empty disables the check.
	SecretToken string `yaml:"secret_token" envconfig:"WEBHOOK_SECRET_TOKEN"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig holds settings for per-user rate limiting.
// ExcludeUpdates accepts "callback" and "message".
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	// DriverPostgres backs the portal repository with PostgreSQL.
	DriverPostgres = "postgres"
	// DriverMemory keeps portal data in process memory.
	DriverMemory = "memory"
)

// DatabaseConfig holds connection settings of the portal database.
type DatabaseConfig struct {
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	Migrate        bool   `yaml:"migrate" envconfig:"DB_MIGRATE"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
	// Fixtures is a YAML file of users and tickets loaded into the memory driver.
	Fixtures string `yaml:"fixtures" envconfig:"DB_FIXTURES"`
}

// RedisConfig configures the shared session store.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

const (
	// SessionStoreMemory keeps sessions inside the process.
	SessionStoreMemory = "memory"
	// SessionStoreRedis keeps sessions in Redis so several replicas can share them.
	SessionStoreRedis = "redis"
)

// SessionConfig controls conversation state storage.
type SessionConfig struct {
	Store string `yaml:"store" envconfig:"SESSION_STORE"`
	// WizardTTL discards wizards idle for longer than this; zero disables expiry.
	WizardTTL   time.Duration `yaml:"wizard_ttl" envconfig:"SESSION_WIZARD_TTL"`
	LockTimeout time.Duration `yaml:"lock_timeout" envconfig:"SESSION_LOCK_TIMEOUT"`
	LockTTL     time.Duration `yaml:"lock_ttl" envconfig:"SESSION_LOCK_TTL"`
}

// NotifyConfig controls the deadline sweep and notification fan-out.
type NotifyConfig struct {
	DeadlineCron   string        `yaml:"deadline_cron" envconfig:"NOTIFY_DEADLINE_CRON"`
	DeadlineWindow time.Duration `yaml:"deadline_window" envconfig:"NOTIFY_DEADLINE_WINDOW"`
	DisableSweep   bool          `yaml:"disable_sweep" envconfig:"NOTIFY_DISABLE_SWEEP"`
	// OverdueReannounce repeats the overdue reminder of a ticket while it stays
	// overdue. Zero selects the default; a negative value announces once.
	OverdueReannounce time.Duration `yaml:"overdue_reannounce" envconfig:"NOTIFY_OVERDUE_REANNOUNCE"`
}

// SenderConfig sizes the asynchronous callback-acknowledgement queue.
type SenderConfig struct {
	Workers   int `yaml:"workers" envconfig:"SENDER_WORKERS"`
	QueueSize int `yaml:"queue_size" envconfig:"SENDER_QUEUE_SIZE"`
}

// Config aggregates the bot configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Session   SessionConfig   `yaml:"session"`
	Notify    NotifyConfig    `yaml:"notify"`
	Sender    SenderConfig    `yaml:"sender"`
}

const (
	defaultLockTimeout    = 5 * time.Second
	defaultLockTTL        = 30 * time.Second
	defaultDeadlineCron   = "*/30 * * * *"
	defaultDeadlineWindow = 24 * time.Hour
	defaultReannounce     = 24 * time.Hour
	defaultSenderWorkers  = 4
	defaultSenderQueue    = 256
	defaultMigrationsDir  = "migrations"
)

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs validation of required configuration fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if err := normalizeDatabase(&cfg.Database); err != nil {
		return err
	}
	if err := normalizeSession(&cfg.Session, cfg.Redis); err != nil {
		return err
	}
	if err := normalizeNotify(&cfg.Notify); err != nil {
		return err
	}
	if cfg.Sender.Workers <= 0 {
		cfg.Sender.Workers = defaultSenderWorkers
	}
	if cfg.Sender.QueueSize <= 0 {
		cfg.Sender.QueueSize = defaultSenderQueue
	}
	return nil
}

func normalizeDatabase(db *DatabaseConfig) error {
	driver := strings.ToLower(strings.TrimSpace(db.Driver))
	if driver == "" {
		driver = DriverPostgres
	}
	switch driver {
	case DriverPostgres:
		if strings.TrimSpace(db.Host) == "" || strings.TrimSpace(db.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for the postgres driver")
		}
		if db.Port == "" {
			db.Port = "5432"
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
		if db.MaxConnections <= 0 {
			db.MaxConnections = 10
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid database.driver %q; allowed: postgres, memory", db.Driver)
	}
	db.Driver = driver
	if db.MigrationsDir == "" {
		db.MigrationsDir = defaultMigrationsDir
	}
	return nil
}

func normalizeSession(s *SessionConfig, redis RedisConfig) error {
	store := strings.ToLower(strings.TrimSpace(s.Store))
	if store == "" {
		store = SessionStoreMemory
	}
	switch store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if strings.TrimSpace(redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when session.store is 'redis'")
		}
	default:
		return fmt.Errorf("invalid session.store %q; allowed: memory, redis", s.Store)
	}
	s.Store = store
	if s.WizardTTL < 0 {
		return fmt.Errorf("session.wizard_ttl must be >= 0")
	}
	if s.LockTimeout <= 0 {
		s.LockTimeout = defaultLockTimeout
	}
	if s.LockTTL <= 0 {
		s.LockTTL = defaultLockTTL
	}
	return nil
}

func normalizeNotify(n *NotifyConfig) error {
	n.DeadlineCron = strings.TrimSpace(n.DeadlineCron)
	if n.DeadlineCron == "" {
		n.DeadlineCron = defaultDeadlineCron
	}
	g := gronx.New()
	if !g.IsValid(n.DeadlineCron) {
		return fmt.Errorf("invalid notify.deadline_cron %q", n.DeadlineCron)
	}
	if n.DeadlineWindow <= 0 {
		n.DeadlineWindow = defaultDeadlineWindow
	}
	if n.OverdueReannounce == 0 {
		n.OverdueReannounce = defaultReannounce
	}
	return nil
}
