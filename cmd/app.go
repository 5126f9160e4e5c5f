package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timesheets/config"
	"timesheets/database"
	"timesheets/handlers"
	"timesheets/logging"
	"timesheets/notify"
	"timesheets/storage"
	"timesheets/storage/memory"
	"timesheets/storage/postgres"
)

// app holds what every command needs: configuration, the logger and an open
// store.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   storage.Store
	health  handlers.HealthCheck
	migrate func() error
	close   func() error
}

func bootstrap(requirePostgres bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	if requirePostgres && cfg.StoreDriver != config.DriverPostgres {
		return nil, fmt.Errorf("this command needs STORE_DRIVER=%s", config.DriverPostgres)
	}

	noop := func() error { return nil }
	a := &app{cfg: cfg, log: log, migrate: noop, close: noop}
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn().Msg("using the in-memory store; data is lost on exit")
		a.store = memory.New()
		return a, nil
	}

	db, err := database.Open(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	a.store = postgres.New(db)
	a.health = sqlDB.PingContext
	a.close = sqlDB.Close
	a.migrate = func() error { return database.Migrate(db) }
	return a, nil
}

// newPublisher connects the live push transport. Redis wins when both Redis
// and NATS are configured. An unreachable broker does not stop the server:
// both clients keep reconnecting, and a NATS setup that cannot even be
// created falls back to no live push. The returned func releases the
// connection.
func newPublisher(ctx context.Context, cfg *config.Config, log zerolog.Logger) (notify.Publisher, func()) {
	switch {
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable; live push retries on each publish")
		} else {
			log.Info().Str("addr", cfg.RedisAddr).Msg("live push via redis")
		}
		return notify.NewRedisPublisher(client, cfg.PushPrefix), func() { _ = client.Close() }
	case cfg.NATSURL != "":
		conn, err := nats.Connect(cfg.NATSURL,
			nats.Name("timesheets"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("nats unavailable; live push disabled")
			return notify.NopPublisher{}, func() {}
		}
		if conn.IsConnected() {
			log.Info().Str("url", cfg.NATSURL).Msg("live push via nats")
		} else {
			log.Warn().Str("url", cfg.NATSURL).Msg("nats unreachable; reconnecting in the background")
		}
		return notify.NewNATSPublisher(conn, cfg.PushPrefix), func() {
			if err := conn.Drain(); err != nil {
				conn.Close()
			}
		}
	default:
		log.Info().Msg("live push disabled")
		return notify.NopPublisher{}, func() {}
	}
}

// newMailer sends over SMTP when a host is configured and logs otherwise.
func newMailer(cfg *config.Config, log zerolog.Logger) notify.Mailer {
	if cfg.SMTPHost == "" {
		log.Info().Msg("SMTP_HOST not set; final approval emails are logged")
		return notify.NewLogMailer(log)
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}
