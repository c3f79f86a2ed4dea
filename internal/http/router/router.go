package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/guardian-location-service/internal/health"
	"github.com/sandeepkv93/guardian-location-service/internal/http/handler"
	"github.com/sandeepkv93/guardian-location-service/internal/http/middleware"
	"github.com/sandeepkv93/guardian-location-service/internal/http/response"
	"github.com/sandeepkv93/guardian-location-service/internal/security"
)

type Dependencies struct {
	ShareHandler    *handler.ShareHandler
	LocationHandler *handler.LocationHandler
	PanicHandler    *handler.PanicHandler
	ContactHandler  *handler.ContactHandler
	JWTManager      *security.JWTManager
	Readiness       *health.ReadinessRunner
	Logger          *slog.Logger
	APIRateLimiter  RateLimiterFunc
	PanicRateLimit  RateLimiterFunc
	EnableOTelHTTP  bool
}

type RateLimiterFunc func(http.Handler) http.Handler

func passthrough(next http.Handler) http.Handler { return next }

func NewRouter(dep Dependencies) http.Handler {
	apiLimiter := dep.APIRateLimiter
	if apiLimiter == nil {
		apiLimiter = passthrough
	}
	panicLimiter := dep.PanicRateLimit
	if panicLimiter == nil {
		panicLimiter = passthrough
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger(dep.Logger))
	r.Use(middleware.BodyLimit(1 << 20))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, response.CodeDependencyUnready, "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(dep.JWTManager))
		r.Use(apiLimiter)

		r.Route("/shares", func(r chi.Router) {
			r.Get("/", dep.ShareHandler.List)
			r.Post("/", dep.ShareHandler.Start)
			r.Get("/active", dep.ShareHandler.Active)
			r.Get("/{id}", dep.ShareHandler.Get)
			r.Delete("/{id}", dep.ShareHandler.Cancel)
			r.Get("/{id}/watch", dep.ShareHandler.Watch)
		})

		r.Route("/location", func(r chi.Router) {
			r.Post("/", dep.LocationHandler.Report)
			r.Post("/permission", dep.LocationHandler.Permission)
		})

		r.Route("/panic", func(r chi.Router) {
			r.Get("/", dep.PanicHandler.List)
			r.With(panicLimiter).Post("/", dep.PanicHandler.Start)
			r.Get("/{id}", dep.PanicHandler.Get)
			r.Delete("/{id}", dep.PanicHandler.Cancel)
			r.Post("/{id}/send", dep.PanicHandler.Send)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", dep.ContactHandler.List)
			r.Post("/", dep.ContactHandler.Add)
			r.Patch("/{id}", dep.ContactHandler.Patch)
			r.Delete("/{id}", dep.ContactHandler.Delete)
			r.Put("/{id}/primary", dep.ContactHandler.SetPrimary)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
