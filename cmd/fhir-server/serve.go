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

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/config"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/domain/resource"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/fhirpath"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/auth"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/db"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/fhir"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/metrics"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/middleware"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/searchparam"
)

// backend is the opened document store plus what it holds open.
type backend struct {
	store  docstore.Store
	pinger db.Pinger
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger zerolog.Logger) (*backend, error) {
	b := &backend{close: func() {}}

	switch cfg.StoreDriver {
	case "memory":
		b.store = docstore.NewMemory()
		logger.Warn().Msg("using the in-memory store, data is lost on restart")
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		b.store = docstore.NewPostgres(pool, cfg.DBSchema)
		b.pinger = pool
		b.close = pool.Close
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, cache will fall through until it recovers")
		}
		b.store = docstore.NewCached(b.store, rdb, cfg.CacheTTL, logger)
		closeStore := b.close
		b.close = func() {
			_ = rdb.Close()
			closeStore()
		}
		logger.Info().Dur("ttl", cfg.CacheTTL).Msg("resource cache enabled")
	}

	b.store = docstore.Instrument(b.store, reg)
	return b, nil
}

// newServer wires the HTTP surface. It does not start listening.
func newServer(cfg *config.Config, b *backend, registry *searchparam.Registry,
	promReg *prometheus.Registry, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	httpMetrics := metrics.NewHTTP(promReg)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, "If-Match", middleware.RequestIDHeader},
		ExposeHeaders: []string{echo.HeaderLocation, "ETag", echo.HeaderLastModified, middleware.RequestIDHeader},
	}))

	e.GET("/health", db.HealthHandler(cfg.StoreDriver, b.pinger))
	e.GET("/metrics", metrics.Handler(promReg))

	fhirGroup := e.Group("/fhir",
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.BodyLimit(cfg.BodyLimit),
	)
	if cfg.AuthEnabled() {
		fhirGroup.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthSigningKey),
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
		}))
	} else {
		logger.Warn().Msg("AUTH_SIGNING_KEY is not set, /fhir is unauthenticated")
	}

	handler := resource.NewHandler(b.store, registry, fhirpath.New(), fhir.NewAssembler(cfg.BaseURL), logger)
	handler.RegisterRoutes(fhirGroup)
	return e
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	registry, err := searchparam.Load(cfg.SearchParametersFile, logger)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b, err := openBackend(ctx, cfg, promReg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	e := newServer(cfg, b, registry, promReg, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("base_url", cfg.BaseURL).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
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
