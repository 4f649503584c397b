// http собирает HTTP-роутер сервиса: API учётных записей под /api/users,
// пробы /livez, /healthz и /metrics на корне.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/service"
	"github.com/pribylovaa/accounts-auth/internal/transport/http/handlers"
	"github.com/pribylovaa/accounts-auth/internal/transport/http/middleware"
)

// BasePath — префикс API учётных записей.
const BasePath = "/api/users"

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger  *slog.Logger
	Timeout time.Duration
	// Ready сообщает готовность для /healthz; nil — всегда готов.
	Ready func() bool
	// Metrics обслуживает /metrics; nil — promhttp.Handler().
	Metrics http.Handler
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc *service.Service, auth middleware.Authenticator, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),
		middleware.RequestID(), // до логирования
		middleware.Logging(opts.Logger),
		middleware.Metrics(),
	)

	registerProbes(root, opts)

	h := handlers.New(svc)
	root.Route(BasePath, func(r chi.Router) {
		r.Use(middleware.Timeout(opts.Timeout))
		registerRoutes(r, h, auth)
	})

	return root
}

// registerRoutes — единая точка регистрации эндпойнтов /api/users.
func registerRoutes(r chi.Router, h *handlers.Handlers, auth middleware.Authenticator) {
	// публичные
	r.Post("/", h.Register)
	r.Post("/login", h.Login)
	r.Get("/confirm/{code}", h.Confirm)
	r.Post("/confirm", h.RequestConfirmation)
	r.Post("/reset", h.RequestPasswordReset)
	r.Put("/reset", h.ResetPassword)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)

	// аутентифицированный пользователь
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(auth))
		r.Get("/profile", h.Profile)
		r.Put("/profile", h.UpdateProfile)
	})

	// администратор
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(auth), middleware.RequireRole(models.RoleAdmin))
		r.Get("/", h.ListUsers)
		r.Get("/{id}", h.User)
		r.Put("/{id}", h.UpdateUser)
		r.Delete("/{id}", h.DeleteUser)
	})
}

func registerProbes(r chi.Router, opts Options) {
	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if opts.Ready != nil && !opts.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	metricsHandler := opts.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)
}
