package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultServerPort      = 8060
	defaultServerTimeout   = 30
	defaultDatabasePort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultRedisAddress    = "localhost:6379"
	defaultWebDAVTimeout   = 60 * time.Second

	defaultWritebackDelay    = 5 * time.Second
	defaultMilestoneSize     = 10
	defaultMaxRetries        = 3
	defaultRetryBaseDelay    = 2 * time.Second
	defaultPublishStagger    = 2 * time.Second
	defaultLockLeaseTimeout  = 5 * time.Minute
	defaultSweepInterval     = 24 * time.Hour
	defaultWorkerConcurrency = 10
)

type Config struct {
	Debug    bool           `env:"APP_DEBUG" yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	WebDAV   WebDAVConfig   `yaml:"webdav"`
	Tracking TrackingConfig `yaml:"tracking"`
	Intake   IntakeConfig   `yaml:"intake"`
}

type ServerConfig struct {
	Host         string        `env:"SERVER_HOST" yaml:"host"`
	Port         int           `env:"SERVER_PORT" yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `env:"CORS_ORIGINS" yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Host            string        `env:"DB_HOST"     yaml:"host"`
	Port            int           `env:"DB_PORT"     yaml:"port"`
	User            string        `env:"DB_USER"     yaml:"user"`
	Password        string        `env:"DB_PASSWORD" yaml:"password"`
	DBName          string        `env:"DB_NAME"     yaml:"dbname"`
	SSLMode         string        `env:"DB_SSLMODE"  yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig covers both the task queue and the optional event stream.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"        yaml:"address"`
	Password string `env:"REDIS_PASSWORD"       yaml:"password"`
	DB       int    `env:"REDIS_DB"             yaml:"db"`
	Events   bool   `env:"REDIS_EVENTS_ENABLED" yaml:"events"` // Feature flag for event publishing
}

// WebDAVConfig is the document store (Nextcloud) connection.
type WebDAVConfig struct {
	BaseURL  string        `env:"WEBDAV_URL"      yaml:"base_url"`
	Username string        `env:"WEBDAV_USERNAME" yaml:"username"`
	Password string        `env:"WEBDAV_PASSWORD" yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TrackingConfig tunes the batch coordination core.
type TrackingConfig struct {
	// MilestoneSize is the number of newly completed jobs between
	// intermediate writebacks.
	MilestoneSize int `yaml:"milestone_size"`

	// WritebackDelay is how long a scheduled writeback waits before running,
	// letting sibling callback writes settle.
	WritebackDelay time.Duration `yaml:"writeback_delay"`

	// MaxRetries and RetryBaseDelay bound the writeback retry loop on
	// document-locked conflicts.
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// PublishStagger spaces out job publishing to the scrape provider.
	PublishStagger time.Duration `yaml:"publish_stagger"`

	// LockLeaseTimeout is the record-lock lease duration; SweepInterval is
	// how often expired leases are bulk-cleared.
	LockLeaseTimeout time.Duration `yaml:"lock_lease_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`

	// ProviderURL and ProviderToken address the scrape provider API.
	ProviderURL   string `env:"SCRAPER_API_URL"   yaml:"provider_url"`
	ProviderToken string `env:"SCRAPER_API_TOKEN" yaml:"provider_token"`

	WorkerConcurrency int `yaml:"worker_concurrency"`
}

// IntakeConfig is the optional local drop-folder watcher.
type IntakeConfig struct {
	Enabled bool   `env:"INTAKE_ENABLED" yaml:"enabled"`
	Dir     string `env:"INTAKE_DIR"     yaml:"dir"`
}

func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port is required and must be positive")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	if c.Tracking.MilestoneSize <= 0 {
		return errors.New("tracking.milestone_size must be positive")
	}
	if c.Intake.Enabled && c.Intake.Dir == "" {
		return errors.New("intake.dir is required when intake is enabled")
	}
	return nil
}

// Load reads the config file at path, fills defaults, applies env overrides
// and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := load(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultServerTimeout * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultServerTimeout * time.Second
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultDatabasePort
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = defaultConnMaxLifetime * time.Minute
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = defaultRedisAddress
	}
	if cfg.WebDAV.Timeout == 0 {
		cfg.WebDAV.Timeout = defaultWebDAVTimeout
	}
	if cfg.Tracking.MilestoneSize == 0 {
		cfg.Tracking.MilestoneSize = defaultMilestoneSize
	}
	if cfg.Tracking.WritebackDelay == 0 {
		cfg.Tracking.WritebackDelay = defaultWritebackDelay
	}
	if cfg.Tracking.MaxRetries == 0 {
		cfg.Tracking.MaxRetries = defaultMaxRetries
	}
	if cfg.Tracking.RetryBaseDelay == 0 {
		cfg.Tracking.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.Tracking.PublishStagger == 0 {
		cfg.Tracking.PublishStagger = defaultPublishStagger
	}
	if cfg.Tracking.LockLeaseTimeout == 0 {
		cfg.Tracking.LockLeaseTimeout = defaultLockLeaseTimeout
	}
	if cfg.Tracking.SweepInterval == 0 {
		cfg.Tracking.SweepInterval = defaultSweepInterval
	}
	if cfg.Tracking.WorkerConcurrency == 0 {
		cfg.Tracking.WorkerConcurrency = defaultWorkerConcurrency
	}
}
