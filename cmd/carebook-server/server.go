package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/config"
	"github.com/carebook/carebook/internal/domain/availability"
	"github.com/carebook/carebook/internal/domain/booking"
	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/cache"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/internal/platform/export"
	"github.com/carebook/carebook/internal/platform/middleware"
	"github.com/carebook/carebook/internal/platform/notification"
)

const version = "0.1.0"

// slotCache is what both the availability and booking services need from
// the listing cache.
type slotCache interface {
	availability.Cache
	booking.Invalidator
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var slots slotCache = cache.Noop{}
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		slots = cache.NewSlotCache(rdb, cfg.SlotCacheTTL, logger)
		logger.Info().Dur("ttl", cfg.SlotCacheTTL).Msg("slot cache enabled")
	}

	e := newServer(cfg, pool, slots, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with every route registered. It does
// not touch the network; the pool connects lazily.
func newServer(cfg *config.Config, pool *pgxpool.Pool, slots slotCache, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, "If-Match", middleware.RequestIDHeader, "X-Tenant-ID"},
		ExposeHeaders: []string{"ETag", middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, auth.AuthSkipper))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
		// In development a bearer token is still honoured when a key is set.
		if cfg.AuthSigningKey != "" {
			jwtCfg.Skipper = func(c echo.Context) bool {
				return auth.AuthSkipper(c) || c.Request().Header.Get(echo.HeaderAuthorization) == ""
			}
			e.Use(auth.JWTMiddleware(jwtCfg))
		}
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	api := e.Group("/api/v1")
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond, rl.BurstSize = cfg.RateLimitRPS, cfg.RateLimitBurst
	}
	api.Use(middleware.RateLimit(rl))
	api.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	api.Use(middleware.Audit(logger, nil))

	tx := db.NewTxManager(pool)

	availSvc := availability.NewService(
		availability.NewWindowRepoPG(pool),
		availability.NewConfigRepoPG(pool),
		availability.NewSlotRepoPG(pool, cfg.CancelledBookingFreesSlot),
		tx, slots,
		availability.Settings{
			DefaultTimezone: cfg.DefaultTimezone,
			Horizon:         cfg.Horizon(),
			MaxOccurrences:  cfg.MaxOccurrences,
		},
		logger,
	)
	availability.NewHandler(availSvc).RegisterRoutes(api)

	bookingRepo := booking.NewRepoPG(pool)
	guard := booking.NewGuard(bookingRepo, tx, slots, booking.GuardSettings{
		CancelledFreesSlot: cfg.CancelledBookingFreesSlot,
	}, logger)
	bookingSvc := booking.NewService(bookingRepo, tx, slots, nil, logger)

	sender := notification.NewLogSender(logger)
	notifications := notification.NewManager(sender, sender, notification.NewTemplateEngine(), logger)
	booking.NewHandler(guard, bookingSvc, booking.NewDispatcher(notifications, logger)).RegisterRoutes(api)

	export.NewHandler(export.NewExporter(availSvc, bookingSvc, logger)).RegisterRoutes(api)

	notification.NewHandler(notifications).RegisterRoutes(api.Group("", auth.RequireRole(auth.RoleAdmin)))

	return e
}
