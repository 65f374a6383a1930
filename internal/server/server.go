// Package server contains the HTTP handlers of the request and gate pass API.
package server

import (
	"context"
	"fmt"
	"time"

	"hostelgate/internal/cache"
	"hostelgate/internal/clock"
	"hostelgate/internal/config"
	"hostelgate/internal/database"
	"hostelgate/internal/featureflags"
	"hostelgate/internal/gatepass"
	"hostelgate/internal/middleware"
	"hostelgate/internal/models"
	"hostelgate/internal/notifications"
	"hostelgate/internal/otp"
	"hostelgate/internal/repository"
	"hostelgate/internal/service"
	"hostelgate/internal/validation"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	verifyOtpLimit  = 5
	verifyOtpWindow = 10 * time.Minute
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	clock          clock.Clock
	location       *time.Location
	requestRepo    repository.RequestRepository
	notifier       *notifications.Notifier
	dispatcher     notifications.Dispatcher
	featureFlags   *featureflags.Manager
	otpService     *otp.Service
	workflow       *service.WorkflowService
	gatePasses     *gatepass.Service
}

// Option overrides a dependency chosen from configuration.
type Option func(*Server)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithDispatcher replaces the OTP dispatcher.
func WithDispatcher(d notifications.Dispatcher) Option {
	return func(s *Server) { s.dispatcher = d }
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, opts ...Option) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	hour, minute, err := cfg.Cutoff()
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("hostelgate-api"),
		clock:          clock.NewReal(loc),
		location:       loc,
		requestRepo:    repository.NewRequestRepository(db),
		notifier:       notifications.NewNotifier(redisClient),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}
	if cfg.SMSGatewayURL != "" {
		s.dispatcher = notifications.NewSMSDispatcher(cfg.SMSGatewayURL, cfg.SMSGatewayToken, cfg.SMSSenderID)
	} else {
		s.dispatcher = notifications.LogDispatcher{}
	}
	for _, opt := range opts {
		opt(s)
	}

	s.otpService = otp.NewService(s.requestRepo, s.dispatcher, s.clock, s.featureFlags, cfg.OtpResendCooldown())
	policy := validation.Policy{Location: loc, CutoffHour: hour, CutoffMinute: minute}
	s.workflow = service.NewWorkflowService(s.requestRepo, s.otpService, s.notifier, s.clock, policy, cfg.DefaultMaxVisits)
	s.gatePasses, err = gatepass.NewService(s.requestRepo, s.clock, loc, cfg.QROrigin, cfg.IncomingQrGrace())
	if err != nil {
		return nil, err
	}

	middleware.InitMiddleware(cfg)
	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string { return uuid.NewString() },
	}))

	app.Use(middleware.TracingMiddleware())

	// Propagates request id and trace id into the user context for logging
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, If-Match",
		ExposeHeaders: "ETag, X-Trace-ID",
		MaxAge:        86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api", middleware.AuthRequired)
	staff := middleware.RequireRole(models.RoleWarden, models.RolePrincipal)
	student := middleware.RequireRole(models.RoleStudent)

	api.Get("/feature-flags", staff, s.GetFeatureFlags)

	requests := api.Group("/requests")
	requests.Post("/", student, s.CreateRequest)
	requests.Get("/", staff, s.ListRequests)
	requests.Get("/me", student, s.GetMyRequests)
	// Specific /:id/:action routes before the generic /:id.
	// Both code-accepting routes share one budget per request and warden.
	verifyLimit := middleware.RateLimitByParam(s.redis, verifyOtpLimit, verifyOtpWindow, "verify_otp", "id")
	requests.Post("/:id/verify-otp", middleware.RequireRole(models.RoleWarden), verifyLimit, s.VerifyOtp)
	requests.Post("/:id/resend-otp", middleware.RateLimit(s.redis, 10, 10*time.Minute, "resend_otp"), s.ResendOtp)
	requests.Get("/:id/resend-otp", s.GetResendStatus)
	requests.Post("/:id/warden-decision", middleware.RequireRole(models.RoleWarden), verifyLimit, s.WardenDecision)
	requests.Post("/:id/principal-decision", middleware.RequireRole(models.RolePrincipal), s.PrincipalDecision)
	requests.Get("/:id/outgoing-qr", student, s.GetOutgoingQr)
	requests.Get("/:id/incoming-qr", student, s.GetIncomingQr)
	requests.Get("/:id", s.GetRequest)
	requests.Delete("/:id", student, s.DeleteRequest)

	gate := api.Group("/gate", middleware.RequireRole(models.RoleGate))
	gate.Post("/scan", s.GateScan)
	gate.Post("/requests/:id/exited", s.MarkExited)
}

// App builds the Fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Hostel Gate API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, fe)
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   s.clock.Now(),
	})
}

// ReadinessCheck reports database and Redis health. Redis is optional, so
// its absence degrades the report without failing readiness.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis == nil {
		redisStatus = "unavailable"
	} else if err := cache.Ping(ctx, s.redis); err != nil {
		redisStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": s.clock.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	s.app = s.App()
	middleware.Logger.Info("Server starting", "port", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", "error", err)
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", "error", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", "error", rerr)
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
