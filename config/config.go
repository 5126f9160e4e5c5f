package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL      string        `env:"DATABASE_URL" envDefault:"postgresql://postgres@localhost:5432/timesheets"`
	StoreDriver      string        `env:"STORE_DRIVER" envDefault:"postgres"`
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"your-super-secret-key-change-in-production"`
	JWTExpiration    time.Duration `env:"JWT_EXPIRATION" envDefault:"24h"`
	InviteExpiration time.Duration `env:"INVITE_EXPIRATION" envDefault:"168h"`
	Timezone         string        `env:"TIMEZONE" envDefault:"UTC"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Live push transport. Redis wins when both are set; neither disables it.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	NATSURL       string `env:"NATS_URL"`
	PushPrefix    string `env:"PUSH_PREFIX" envDefault:"timesheets.notifications"`

	// SMTP is disabled, and emails are logged, when SMTPHost is empty.
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"timesheets@localhost"`

	Outbox Outbox `envPrefix:"OUTBOX_"`

	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type Outbox struct {
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"50"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff  time.Duration `env:"RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"5m"`
	LeaseTTL      time.Duration `env:"LEASE_TTL" envDefault:"1m"`
	TaskTimeout   time.Duration `env:"TASK_TIMEOUT" envDefault:"30s"`
	Retention     time.Duration `env:"RETENTION" envDefault:"24h"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
