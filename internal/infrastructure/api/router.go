package api

import (
	"net/http"
	"time"

	"archie-core-connections-layer/internal/application"
	"archie-core-connections-layer/internal/infrastructure/pubsub"
	"archie-core-connections-layer/internal/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Services are the application services the HTTP surface exposes
type Services struct {
	Environments    *application.EnvironmentService
	Connections     *application.ConnectionService
	Credentials     *application.CredentialsService
	ProviderConfigs *application.ProviderConfigService
	Proxy           *application.ProxyService
	Providers       ports.ProviderRegistry
	Events          *pubsub.ConnectionPubSub
}

// Options tune the router
type Options struct {
	AllowedOrigins []string
	// MetricsHandler is mounted at /metrics when set
	MetricsHandler http.Handler
	// SwaggerFile is the OpenAPI document served at /swagger/doc.json
	SwaggerFile string
}

// Server holds the HTTP handlers
type Server struct {
	services Services
	logger   zerolog.Logger
}

// NewRouter builds the broker's HTTP router
func NewRouter(services Services, opts Options, logger zerolog.Logger) http.Handler {
	s := &Server{services: services, logger: logger}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	swaggerFile := opts.SwaggerFile
	if swaggerFile == "" {
		swaggerFile = "./docs/swagger.json"
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("requestId", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	r.Get("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		http.ServeFile(w, r, swaggerFile)
	})

	// Routes requiring an environment secret key
	r.Group(func(r chi.Router) {
		r.Use(SecretKeyMiddleware(services.Environments, logger))

		r.Route("/connection", func(r chi.Router) {
			r.Get("/", s.listConnections)
			r.Post("/", s.importConnection)
			r.Get("/events", s.streamEvents)
			r.Get("/{connectionId}", s.getConnection)
			r.Delete("/{connectionId}", s.deleteConnection)
			r.Post("/{connectionId}/metadata", s.setMetadata)
			r.Patch("/{connectionId}/metadata", s.updateMetadata)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.listConfigs)
			r.Post("/", s.configureProvider)
			r.Get("/{providerConfigKey}", s.getConfig)
			r.Delete("/{providerConfigKey}", s.deleteConfig)
		})

		r.HandleFunc("/proxy/*", s.proxy)
	})

	return r
}
