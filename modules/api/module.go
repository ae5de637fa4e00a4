package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/example/chatroom-coordinator/modules/auth"
	"github.com/example/chatroom-coordinator/modules/broadcast"
	"github.com/example/chatroom-coordinator/modules/coordinator"
	"github.com/example/chatroom-coordinator/modules/media"
	"github.com/example/chatroom-coordinator/modules/storage"
	"github.com/go-monolith/mono"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Config holds the HTTP server settings.
type Config struct {
	Port           string
	MaxUploadSize  int64
	AllowedOrigins string

	// Sign-in attempts allowed per client IP within SignInWindow.
	SignInLimit  int
	SignInWindow time.Duration
	// LimiterStorage shares sign-in counters between restarts; nil keeps
	// them in memory.
	LimiterStorage fiber.Storage
}

func (c Config) withDefaults() Config {
	if c.Port == "" {
		c.Port = "3000"
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 100 * 1024 * 1024
	}
	if c.AllowedOrigins == "" {
		c.AllowedOrigins = "http://localhost:3000,http://localhost:8080"
	}
	if c.SignInLimit <= 0 {
		c.SignInLimit = 10
	}
	if c.SignInWindow <= 0 {
		c.SignInWindow = time.Minute
	}
	return c
}

// LimiterSource provides the storage behind the sign-in rate limiter.
type LimiterSource interface {
	LimiterStorage() fiber.Storage
}

// APIModule is the HTTP API module with websocket support.
type APIModule struct {
	app      *fiber.App
	handlers *Handlers
	config   Config

	coordinatorModule *coordinator.Module
	mediaModule       *media.Module
	broadcastModule   *broadcast.BroadcastModule
	limiterSource     LimiterSource
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule.
func NewModule(config Config) *APIModule {
	return &APIModule{
		config:   config.withDefaults(),
		handlers: &Handlers{stageDir: os.TempDir()},
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"storage", "coordinator", "auth"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "storage":
		m.handlers.accounts = storage.NewUserAdapter(container)
		m.handlers.history = storage.NewRoomAdapter(container)
	case "coordinator":
		m.handlers.lobby = coordinator.NewCoordinatorAdapter(container)
	case "auth":
		m.handlers.sessions = auth.NewAuthAdapter(container)
	}
}

// SetCoordinatorModule sets the coordinator used for live room connections
// (called from main.go).
func (m *APIModule) SetCoordinatorModule(module *coordinator.Module) {
	m.coordinatorModule = module
}

// SetMediaModule sets the media module (called from main.go).
func (m *APIModule) SetMediaModule(module *media.Module) {
	m.mediaModule = module
}

// SetBroadcastModule sets the lobby broadcaster (called from main.go).
func (m *APIModule) SetBroadcastModule(module *broadcast.BroadcastModule) {
	m.broadcastModule = module
}

// SetLimiterSource shares sign-in rate limiting state through an external
// store (called from main.go when Redis is configured).
func (m *APIModule) SetLimiterSource(source LimiterSource) {
	m.limiterSource = source
}

// Start initializes and starts the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.coordinatorModule == nil || m.mediaModule == nil || m.broadcastModule == nil {
		return errors.New("api: coordinator, media and broadcast modules must be set")
	}
	if m.handlers.accounts == nil || m.handlers.lobby == nil || m.handlers.sessions == nil {
		return errors.New("api: storage, coordinator and auth dependencies not set")
	}
	m.handlers.rooms = m.coordinatorModule.Coordinator()
	m.handlers.media = m.mediaModule
	m.handlers.hub = m.broadcastModule.Hub()
	if m.limiterSource != nil {
		m.config.LimiterStorage = m.limiterSource.LimiterStorage()
	}

	m.app = newApp(m.handlers, m.config)

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.config.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	log.Printf("[api] HTTP server started on :%s", m.config.Port)
	return nil
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	log.Println("[api] Shutting down HTTP server...")
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	if m.app == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "HTTP server not started",
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"port":          m.config.Port,
			"lobby_clients": m.handlers.hub.ClientCount(),
		},
	}
}

// newApp builds the Fiber application with its middleware and routes.
func newApp(h *Handlers, config Config) *fiber.App {
	config = config.withDefaults()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		UnescapePath:          true,
		BodyLimit:             int(config.MaxUploadSize),
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(loggerMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.AllowedOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	h.signInLimiter = limiter.New(limiter.Config{
		Max:        config.SignInLimit,
		Expiration: config.SignInWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "signin:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Error:   "too_many_requests",
				Message: "Too many sign-in attempts, try again later",
			})
		},
		Storage: config.LimiterStorage,
	})

	h.registerRoutes(app)
	return app
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	} else {
		log.Printf("[api] Unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

// loggerMiddleware returns a Fiber middleware for request logging.
func loggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for websocket upgrade requests
		if c.Get("Upgrade") == "websocket" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		log.Printf("[api] %s %s %d %s", c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start).Round(time.Microsecond))
		return err
	}
}
