package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"example.com/backstage/contacts/config"
	"example.com/backstage/contacts/internal/api/handlers"
	"example.com/backstage/contacts/internal/api/middleware"
	"example.com/backstage/contacts/internal/auth"
	"example.com/backstage/contacts/internal/broadcast"
	"example.com/backstage/contacts/internal/metrics"
	"example.com/backstage/contacts/internal/services"
	"example.com/backstage/contacts/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Dependencies are the collaborators the HTTP layer serves
type Dependencies struct {
	Contacts     *services.ContactService
	Visitors     *services.VisitorService
	Hub          *broadcast.Hub
	Auth         *auth.Authenticator
	Tracer       tracing.Tracer
	Metrics      *metrics.Metrics
	HealthChecks map[string]handlers.HealthCheck
}

// Server represents the HTTP server
type Server struct {
	config     config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	router := NewRouter(cfg, deps)
	return &Server{
		config: cfg,
		router: router,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

var registerValidations sync.Once

// NewRouter builds the gin engine with every route mounted
func NewRouter(cfg config.ServerConfig, deps Dependencies) *gin.Engine {
	registerValidations.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			services.RegisterValidations(v)
		}
	})

	if deps.Tracer == nil {
		deps.Tracer = tracing.Noop()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn().Err(err).Strs("trusted_proxies", cfg.TrustedProxies).Msg("Invalid trusted proxies, trusting none")
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.NewRelic(deps.Tracer.Application()))
	router.Use(middleware.AccessLog())
	if cfg.CorsEnabled {
		router.Use(middleware.CORS(cfg))
	}

	apiGroup := router.Group("/api")
	adminGroup := apiGroup.Group("")
	adminGroup.Use(middleware.RequireAdmin(deps.Auth))

	if deps.Contacts != nil {
		handlers.NewContactHandler(deps.Contacts, deps.Tracer).RegisterRoutes(apiGroup, adminGroup)
	}
	if deps.Visitors != nil {
		handlers.NewVisitorHandler(deps.Visitors, deps.Hub).RegisterRoutes(apiGroup, router)
	}
	handlers.NewMetricsHandler(deps.Metrics, deps.HealthChecks).RegisterRoutes(router)

	return router
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	timeout := s.config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
