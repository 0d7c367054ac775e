package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codecollab/hub/internal/api"
	"github.com/codecollab/hub/internal/apierr"
	"github.com/codecollab/hub/internal/auth"
	"github.com/codecollab/hub/internal/config"
	"github.com/codecollab/hub/internal/directory"
	"github.com/codecollab/hub/internal/filestore"
	"github.com/codecollab/hub/internal/gateway"
	"github.com/codecollab/hub/internal/httputil"
	"github.com/codecollab/hub/internal/postgres"
	"github.com/codecollab/hub/internal/room"
	"github.com/codecollab/hub/internal/session"
	"github.com/codecollab/hub/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// sweepInterval is how often the Room Registry looks for idle rooms to
// destroy, spec.md §4.4.
const sweepInterval = 30 * time.Minute

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting CodeCollab Hub")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.StoreURI, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.StoreURI, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	verifier, err := auth.NewVerifier(ctx, cfg.JWTJWKSURL)
	if err != nil {
		return fmt.Errorf("create jwt verifier: %w", err)
	}

	dir := directory.New(db, log.Logger)
	sessionRepo := session.NewPGRepository(db, log.Logger)
	sessionService := session.New(sessionRepo, dir, rdb, log.Logger)

	fileRepo := filestore.NewPGRepository(db, log.Logger)
	fileStore, err := filestore.New(fileRepo, log.Logger, cfg.MaxFileBytes, filestore.DefaultCompressThreshold, cfg.AllowedExt)
	if err != nil {
		return fmt.Errorf("create file store: %w", err)
	}

	registry := room.NewRegistry(fileStore, log.Logger, cfg.RoomIdleTTL)

	hub := gateway.NewHub(registry, sessionService, cfg.GatewayMaxConnections, log.Logger)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	go runWithBackoff(subCtx, "gateway-hub-invalidations", func(ctx context.Context) error {
		return hub.Run(ctx, rdb)
	})
	go sweepLoop(subCtx, registry, log.Logger)

	app := fiber.New(fiber.Config{
		AppName:   "CodeCollab Hub",
		BodyLimit: int(cfg.MaxFileBytes) + 1<<20, // multipart overhead above the file's own cap
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "an internal error occurred"
			code := apierr.Internal
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				message = fe.Message
				code = fiberStatusToAPICode(fe.Code)
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{Code: code, Message: message},
			})
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	api.RegisterRoutes(app, api.Handlers{
		Health:   &api.HealthHandler{DB: db, Cache: rdb},
		Sessions: api.NewSessionHandler(sessionService, log.Logger),
		Files:    api.NewFileHandler(fileStore, log.Logger),
		Gateway:  api.NewGatewayHandler(hub, cfg.RTSubprotocol, log.Logger),
	}, verifier, dir, log.Logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		hub.Shutdown()
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// sweepLoop periodically destroys idle rooms, spec.md §4.4.
func sweepLoop(ctx context.Context, registry *room.Registry, logger zerolog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.SweepIdle(ctx)
			logger.Debug().Int("liveRooms", registry.Count()).Msg("room idle sweep complete")
		}
	}
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when
// it returns a non-nil, non-cancelled error.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).Msg("background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in errors
// (404, 405, etc.) to the closest apierr.Code.
func fiberStatusToAPICode(status int) apierr.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierr.NotFound
	case fiber.StatusTooManyRequests:
		return apierr.RateLimited
	case fiber.StatusRequestEntityTooLarge:
		return apierr.TooLarge
	case fiber.StatusUnsupportedMediaType:
		return apierr.UnsupportedMediaType
	default:
		if status >= 400 && status < 500 {
			return apierr.ValidationError
		}
		return apierr.Internal
	}
}
