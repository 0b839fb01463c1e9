package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/service"
	inthttp "github.com/sifan077/PowerTrack/internal/http/handler"
	"github.com/sifan077/PowerTrack/internal/http/middleware"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"go.uber.org/zap"
)

// Dependencies bundles the services and infrastructure required by the HTTP server.
type Dependencies struct {
	Logger *zap.Logger
	// Redis backs the rate limiter; nil disables rate limiting.
	Redis     redis.Cmdable
	App       config.AppConfig
	RateLimit config.RateLimitConfig

	Clicks      service.ClickRecorder
	Conversions service.ConversionService
	Registry    service.RegistryService
	Analytics   service.AnalyticsService
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	deps.Logger = logger.OrNop(deps.Logger)
	app := fiber.New(fiber.Config{
		AppName:               "PowerTrack",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	httpLogger := s.deps.Logger.Named("http")
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(httpLogger))
	s.app.Use(middleware.Logger(httpLogger))
	s.app.Use(middleware.CORS(s.deps.App.CORSOrigins))
}

func (s *Server) registerRoutes() {
	// Only /api is limited; health checks and click redirects are not.
	if s.deps.Redis != nil {
		s.app.Use("/api", middleware.RateLimit(s.deps.Redis, middleware.RateLimitConfig{
			MaxRequests: s.deps.RateLimit.MaxRequests,
			Window:      s.deps.RateLimit.Window,
			Group:       "api",
		}, s.deps.Logger.Named("rate_limit")))
	}

	tracking := inthttp.NewTrackingHandler(inthttp.TrackingDeps{
		Logger:   s.deps.Logger,
		Recorder: s.deps.Clicks,
	})
	tracking.Register(s.app)

	inthttp.NewConversionHandler(inthttp.ConversionDeps{
		Logger:        s.deps.Logger,
		Conversions:   s.deps.Conversions,
		WebhookSecret: []byte(s.deps.App.WebhookSecret),
	}).Register(s.app)

	inthttp.NewAdminHandler(inthttp.AdminDeps{
		Logger:   s.deps.Logger,
		Registry: s.deps.Registry,
	}).Register(s.app)

	inthttp.NewAnalyticsHandler(inthttp.AnalyticsDeps{
		Logger:    s.deps.Logger,
		Analytics: s.deps.Analytics,
	}).Register(s.app)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
