package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"timesheets/database"
	"timesheets/handlers"
	"timesheets/middleware"
	"timesheets/notify"
	"timesheets/telemetry"
	"timesheets/timesheet"
	"timesheets/workflow"
)

var (
	serveMigrate bool
	serveSeed    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the notification worker",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply schema migrations before serving")
	serveCmd.Flags().BoolVar(&serveSeed, "seed-admin", true, "Create admin/admin when no user named admin exists")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(false)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, log := a.cfg, a.log

	shutdownTracing, err := telemetry.Setup(ctx, "timesheets", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	if serveMigrate {
		if err := a.migrate(); err != nil {
			return err
		}
	}
	if serveSeed {
		if _, err := database.SeedDefaultAdmin(ctx, a.store, log); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	publisher, closePublisher := newPublisher(ctx, cfg, log)
	defer closePublisher()

	dispatcher := notify.NewDispatcher(a.store, publisher, log)
	worker := notify.NewWorker(a.store, dispatcher, newMailer(cfg, log), notify.WorkerConfig{
		PollInterval:  cfg.Outbox.PollInterval,
		BatchSize:     cfg.Outbox.BatchSize,
		LeaseTTL:      cfg.Outbox.LeaseTTL,
		MaxAttempts:   cfg.Outbox.MaxAttempts,
		RetryBackoff:  cfg.Outbox.RetryBackoff,
		RetryMaxDelay: cfg.Outbox.RetryMaxDelay,
		TaskTimeout:   cfg.Outbox.TaskTimeout,
		Retention:     cfg.Outbox.Retention,
	}, log)
	engine := workflow.New(a.store, worker, log)
	service := timesheet.NewService(a.store, dispatcher, loc, log)
	tokens := middleware.NewTokens(cfg.JWTSecret, cfg.JWTExpiration)

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:          handlers.NewAuthHandler(a.store, tokens, cfg.InviteExpiration, log),
		Timesheets:    handlers.NewTimesheetHandler(service, engine),
		Templates:     handlers.NewTemplateHandler(service),
		Notifications: handlers.NewNotificationHandler(dispatcher),
		Tokens:        tokens,
		Users:         a.store,
		Health:        a.health,
		Log:           log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
