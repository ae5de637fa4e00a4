package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/example/chatroom-coordinator/modules/api"
	"github.com/example/chatroom-coordinator/modules/auth"
	"github.com/example/chatroom-coordinator/modules/broadcast"
	"github.com/example/chatroom-coordinator/modules/cache"
	"github.com/example/chatroom-coordinator/modules/coordinator"
	"github.com/example/chatroom-coordinator/modules/media"
	"github.com/example/chatroom-coordinator/modules/storage"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Chat Room Coordinator - Fiber + EventBus ===")

	port := getEnv("PORT", "3000")
	dbPath := getEnv("CHAT_DB_PATH", "chatroom.db")
	mediaRoot := getEnv("MEDIA_ROOT", "./media")
	recordsDir := getEnv("CHAT_RECORDS_DIR", "./records")
	redisAddr := getEnv("REDIS_ADDR", "")
	cacheTTL := getEnvDuration("CACHE_TTL", 5*time.Minute)
	maxUploadSize := getEnvInt64("MAX_UPLOAD_SIZE", 100*1024*1024) // 100MB default
	videoWorkers := getEnvInt("VIDEO_WORKERS", 2)

	jwtConfig := auth.DefaultJWTConfig()
	jwtConfig.SecretKey = getEnv("JWT_SECRET_KEY", jwtConfig.SecretKey)
	jwtConfig.Issuer = getEnv("JWT_ISSUER", jwtConfig.Issuer)
	jwtConfig.SessionDuration = getEnvDuration("SESSION_TTL", jwtConfig.SessionDuration)
	if os.Getenv("JWT_SECRET_KEY") == "" {
		log.Println("Warning: JWT_SECRET_KEY not set, using the development default")
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	storageModule := storage.NewModule(dbPath, recordsDir)
	storageModule.SetBootstrapAdmin(getEnv("CHAT_ADMIN_USERNAME", ""), getEnv("CHAT_ADMIN_PASSWORD", ""))
	coordinatorModule := coordinator.NewModule(app.Logger())
	authModule := auth.NewModule(jwtConfig)
	mediaModule := media.NewModule(mediaRoot, videoWorkers)
	broadcastModule := broadcast.NewModule()
	apiModule := api.NewModule(api.Config{
		Port:           port,
		MaxUploadSize:  maxUploadSize,
		AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		SignInLimit:    getEnvInt("SIGNIN_RATE_LIMIT", 10),
		SignInWindow:   getEnvDuration("SIGNIN_RATE_WINDOW", time.Minute),
	})

	// The API drives websocket connections through the coordinator directly
	// and serves media and the lobby feed; none of these cross the
	// ServiceContainer, so they are injected here.
	apiModule.SetCoordinatorModule(coordinatorModule)
	apiModule.SetMediaModule(mediaModule)
	apiModule.SetBroadcastModule(broadcastModule)

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - cache: optional Redis history cache and sign-in limiter storage
	// - storage: accounts, rooms and history (ServiceProviderModule)
	// - coordinator: live rooms (ServiceProvider + EventEmitter + EventConsumer)
	// - auth: app-session tokens (depends on storage, coordinator)
	// - media: uploads (EventEmitterModule)
	// - broadcast: lobby feed (EventConsumerModule)
	// - api: Fiber HTTP/websocket server
	if redisAddr != "" {
		cacheModule := cache.NewModule(redisAddr, cache.DefaultPrefix, cacheTTL)
		storageModule.SetCache(cacheModule.Cache())
		apiModule.SetLimiterSource(cacheModule)
		app.Register(cacheModule)
	}
	app.Register(storageModule)
	app.Register(coordinatorModule)
	app.Register(authModule)
	app.Register(mediaModule)
	app.Register(broadcastModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(port, redisAddr)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(port, redisAddr string) {
	cacheInfo := "disabled"
	if redisAddr != "" {
		cacheInfo = redisAddr
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Printf("  - History cache: %s", cacheInfo)
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                              - Health check")
	log.Println("  POST   /api/v1/accounts                     - Register an account")
	log.Println("  PUT    /api/v1/accounts/:username/activation - Activate an account (admin)")
	log.Println("  POST   /api/v1/sessions                     - Sign in")
	log.Println("  DELETE /api/v1/sessions                     - Sign out")
	log.Println("  GET    /api/v1/rooms                        - List active rooms")
	log.Println("  POST   /api/v1/rooms/host                   - Prepare a room to host")
	log.Println("  POST   /api/v1/rooms/guest                  - Check a room before joining")
	log.Println("  GET    /api/v1/conversations                - List your conversations")
	log.Println("  GET    /api/v1/conversations/:day/:room     - Read one conversation")
	log.Println("  POST   /api/v1/media                        - Upload an image or video")
	log.Println("  GET    /api/v1/media/{images|videos}/:user/:n - Download media")
	log.Println("")
	log.Printf("WebSocket Endpoints (ws://localhost:%s):", port)
	log.Println("  /ws/chatroom/:room/:username/{host|guest}?token=... - Chat room")
	log.Println("  /ws/lobby?token=...                                 - Room activity feed")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}

// getEnv returns environment variable or default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvInt64 returns environment variable as int64 or default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int64 value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration returns environment variable as duration or default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("Warning: invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}
