package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/auth"
	"github.com/pearl-rdm/pearl/internal/metrics"
)

// RouterConfig bundles everything the router needs.
type RouterConfig struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Registry backs the /metrics endpoint. It must be the same registry the
	// Metrics collectors were registered on.
	Registry *prometheus.Registry

	JWTManager *auth.JWTManager

	Auth         *AuthHandler
	WS           *WSHandler
	Studies      *StudyHandler
	Packages     *PackageHandler
	PackageItems *PackageItemHandler
	Trackers     *TrackerHandler
	Users        *UserHandler
	TextElements *TextElementHandler
	Comments     *CommentHandler
}

// NewRouter assembles the full HTTP routing tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(cfg.Logger.Named("http"), cfg.Metrics))

	// Operational endpoints, unauthenticated.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		Ok(w, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	// WebSocket endpoint. Authentication happens inside the handler via the
	// token query parameter.
	r.Get("/ws", cfg.WS.Serve)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", cfg.Auth.Login)
			r.Post("/refresh", cfg.Auth.Refresh)
			r.Post("/logout", cfg.Auth.Logout)
		})

		// Everything below requires a valid access token.
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.JWTManager))

			r.Route("/studies", func(r chi.Router) {
				r.Get("/", cfg.Studies.List)
				r.Post("/", cfg.Studies.Create)
				r.Get("/{id}", cfg.Studies.Get)
				r.Patch("/{id}", cfg.Studies.Update)
				r.Delete("/{id}", cfg.Studies.Delete)
			})

			r.Route("/packages", func(r chi.Router) {
				r.Get("/", cfg.Packages.List)
				r.Post("/", cfg.Packages.Create)
				r.Get("/{id}", cfg.Packages.Get)
				r.Patch("/{id}", cfg.Packages.Update)
				r.Delete("/{id}", cfg.Packages.Delete)
			})

			r.Route("/package-items", func(r chi.Router) {
				r.Get("/", cfg.PackageItems.List)
				r.Post("/", cfg.PackageItems.Create)
				r.Get("/{id}", cfg.PackageItems.Get)
				r.Patch("/{id}", cfg.PackageItems.Update)
				r.Delete("/{id}", cfg.PackageItems.Delete)
			})

			r.Route("/trackers", func(r chi.Router) {
				r.Get("/", cfg.Trackers.List)
				r.Post("/", cfg.Trackers.Create)
				r.Get("/{id}", cfg.Trackers.Get)
				r.Patch("/{id}", cfg.Trackers.Update)
				r.Delete("/{id}", cfg.Trackers.Delete)
			})

			r.Route("/text-elements", func(r chi.Router) {
				r.Get("/", cfg.TextElements.List)
				r.Post("/", cfg.TextElements.Create)
				r.Get("/{id}", cfg.TextElements.Get)
				r.Patch("/{id}", cfg.TextElements.Update)
				r.Delete("/{id}", cfg.TextElements.Delete)
			})

			r.Route("/comments", func(r chi.Router) {
				r.Get("/", cfg.Comments.List)
				r.Post("/", cfg.Comments.Create)
				r.Patch("/{id}", cfg.Comments.Update)
				r.Delete("/{id}", cfg.Comments.Delete)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", cfg.Users.Me)

				// User administration is admin-only.
				r.Group(func(r chi.Router) {
					r.Use(RequireRole("admin"))
					r.Get("/", cfg.Users.List)
					r.Post("/", cfg.Users.Create)
					r.Get("/{id}", cfg.Users.Get)
					r.Patch("/{id}", cfg.Users.Update)
					r.Delete("/{id}", cfg.Users.Delete)
				})
			})
		})
	})

	return r
}
