package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"timesheets/middleware"
	"timesheets/models"
	"timesheets/storage"
	"timesheets/workflow"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Auth          *AuthHandler
	Timesheets    *TimesheetHandler
	Templates     *TemplateHandler
	Notifications *NotificationHandler
	Tokens        *middleware.Tokens
	Users         storage.UserStore
	Health        HealthCheck
	Log           zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(chimiddleware.Recoverer)

	router.Get("/health", health(cfg.Health))
	router.Handle("/metrics", promhttp.Handler())

	// Public routes
	router.Post("/login", cfg.Auth.Login)
	router.Post("/register", cfg.Auth.Register)

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Tokens, cfg.Users))

		// Reachable even when a password change is pending
		r.Post("/logout", cfg.Auth.Logout)
		r.Post("/change-password", cfg.Auth.ChangePassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePasswordChange)

			r.Get("/me", cfg.Auth.Me)

			r.Route("/timesheets", func(r chi.Router) {
				r.Get("/", cfg.Timesheets.List)
				r.Post("/", cfg.Timesheets.Create)
				r.Get("/current", cfg.Timesheets.Current)
				r.With(middleware.RequireRole(models.RoleAdmin, models.RoleHR)).
					Get("/export.csv", cfg.Timesheets.ExportCSV)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.Timesheets.Get)
					r.Patch("/entries/{entryID}", cfg.Timesheets.UpdateEntry)
					r.Post("/apply-template", cfg.Timesheets.ApplyTemplate)
					r.Post("/submit", cfg.Timesheets.Transition(workflow.ActionSubmit))
					r.Post("/approve", cfg.Timesheets.Transition(workflow.ActionManagerApprove))
					r.Post("/deny", cfg.Timesheets.Transition(workflow.ActionManagerDeny))
					r.Post("/hr-approve", cfg.Timesheets.Transition(workflow.ActionHRApprove))
					r.Post("/hr-deny", cfg.Timesheets.Transition(workflow.ActionHRDeny))
				})
			})

			r.Route("/templates", func(r chi.Router) {
				r.Get("/", cfg.Templates.List)
				r.Post("/", cfg.Templates.Create)
				r.Delete("/{id}", cfg.Templates.Delete)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", cfg.Notifications.List)
				r.Post("/{id}/read", cfg.Notifications.MarkRead)
				r.Delete("/{id}", cfg.Notifications.Dismiss)
			})

			// Admin and HR only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin, models.RoleHR))
				r.Get("/users", cfg.Auth.ListUsers)
			})

			// Admin only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Post("/invites", cfg.Auth.CreateInvite)
				r.Patch("/users/{id}", cfg.Auth.UpdateUser)
			})
		})
	})

	return router
}

func health(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("health check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
