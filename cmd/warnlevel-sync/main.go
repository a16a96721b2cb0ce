package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	httpapi "github.com/i474232898/warnlevel-sync/internal/api/http"
	"github.com/i474232898/warnlevel-sync/internal/config"
	applog "github.com/i474232898/warnlevel-sync/internal/logger"
	"github.com/i474232898/warnlevel-sync/internal/notify"
	"github.com/i474232898/warnlevel-sync/internal/scheduler"
	"github.com/i474232898/warnlevel-sync/internal/store"
	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
	"github.com/i474232898/warnlevel-sync/internal/warnlevel/providers"
)

func main() {
	dotenvErr := config.LoadDotEnv()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	applog.Configure(cfg)
	if dotenvErr != nil {
		log.Info().Err(dotenvErr).Msg("no .env file found or error loading it")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The service cannot work without its store, so failing to open it is fatal.
	backend, err := openBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open snapshot storage")
	}
	snapshots, err := store.Open(ctx, backend)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load snapshot")
	}
	defer snapshots.Close()

	// Shared HTTP client for the dataset download.
	httpClient := &http.Client{
		Timeout: cfg.RequestTimeout(),
	}
	fetcher := providers.NewCoronaAmpelProvider(httpClient, cfg.DataSourceURL)

	// Snapshot events: in-process subscribers, plus NATS when configured.
	broker := notify.NewBroker()
	defer broker.Close()
	notifiers := notify.Multi{broker}
	if cfg.NatsURL != "" {
		pub, err := notify.NewNATSPublisher(cfg.NatsURL, cfg.NotifySubject)
		if err != nil {
			log.Error().Err(err).Msg("nats disabled; snapshot events stay in-process")
		} else {
			defer pub.Close()
			notifiers = append(notifiers, pub)
		}
	}

	// Core service orchestrating fetcher and store.
	service := warnlevel.NewService(snapshots, fetcher,
		warnlevel.WithStaleThreshold(cfg.StaleThreshold()),
		warnlevel.WithNotifier(notifiers),
	)

	// Scheduler that periodically asks for a refresh; the first tick runs at once.
	sched := scheduler.New(cfg.SyncInterval, cfg.RequestTimeout()+10*time.Second, service)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "warnlevel-sync",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "warnlevel-sync",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	httpapi.RegisterRoutes(app, service, broker)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("http: listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close event streams first so open SSE connections do not hold up shutdown.
	broker.Close()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}

func openBackend(cfg *config.AppConfig) (store.Backend, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn().Msg("using the in-memory store; snapshots do not survive a restart")
		return store.NewMemoryBackend(), nil
	}
	return store.OpenSQLite(cfg.DBPath)
}
