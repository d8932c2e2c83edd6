package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"planit/api"
	"planit/auth"
	"planit/board"
	"planit/config"
	"planit/notify"
	"planit/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	// spans are not exported; they give request logs a trace id
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("tracer shutdown")
		}
	}()

	tables, err := storage.NewTables(cfg.StorageConnectionString, cfg.TodosTable, cfg.ProjectsTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	rc := redis.NewClient(cfg.Redis)
	defer rc.Close()
	cache := storage.NewCache(tables, rc, cfg.SnapshotCacheTTL)
	store := storage.NewRealtime(cache, cache, rc, logger)

	var queue api.QueueSink
	if cfg.NotificationsQueue != "" {
		q, err := notify.NewQueue(cfg.StorageConnectionString, cfg.NotificationsQueue, logger)
		if err != nil {
			log.Fatalf("notification queue: %v", err)
		}
		queue = q
	}

	var authn *auth.Auth
	if cfg.TestMode {
		authn = auth.NewTest([]byte(cfg.TestSecret))
	} else {
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		authn = auth.New(jwks, cfg.Auth0Audience, cfg.Issuer())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := api.NewHub(ctx, store, api.HubOptions{
		Board: board.Options{
			Retry: board.RetryPolicy{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay},
		},
		ToastTTL:    cfg.ToastTTL,
		Archive:     notify.NewRedisArchive(rc, cfg.ArchiveTTL),
		Queue:       queue,
		Logger:      logger,
		IdleTimeout: cfg.WorkspaceIdleTimeout,
	})
	defer hub.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.Recover())

	api.Register(e, hub, authn, logger)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
			stop()
		}
	}()
	log.WithField("addr", cfg.ListenAddr).Info("planit listening")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
}
