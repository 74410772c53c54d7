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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stima/stima/internal/config"
	"github.com/stima/stima/internal/domain/location"
	"github.com/stima/stima/internal/domain/match"
	"github.com/stima/stima/internal/domain/notification"
	"github.com/stima/stima/internal/domain/outage"
	"github.com/stima/stima/internal/domain/source"
	"github.com/stima/stima/internal/domain/subscriber"
	"github.com/stima/stima/internal/domain/subscription"
	"github.com/stima/stima/internal/ingest"
	"github.com/stima/stima/internal/platform/auth"
	"github.com/stima/stima/internal/platform/db"
	"github.com/stima/stima/internal/platform/kplc"
	"github.com/stima/stima/internal/platform/mail"
	"github.com/stima/stima/internal/platform/middleware"
	"github.com/stima/stima/internal/platform/places"
	"github.com/stima/stima/internal/platform/progress"
	"github.com/stima/stima/internal/platform/queue"
	"github.com/stima/stima/internal/platform/ratelimit"
	"github.com/stima/stima/internal/platform/redisclient"
	"github.com/stima/stima/internal/tasks"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stima",
		Short: "Scheduled power interruption notification service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(tokenizerCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reindexCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the subscriber API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the task consumer and the scheduled bulletin crawl",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func tokenizerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokenizer",
		Short: "Refill the shared rate-limit buckets (run one per deployment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenizer()
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run one bulletin crawl cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest()
		},
	}
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the in-memory search indexes from the database and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Migrations.Dir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default from config)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Migrations.Dir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default from config)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger().Level(level)
	}
	return logger
}

// bucketRates maps the configured per-second refill rates onto the shared
// token buckets.
func bucketRates(cfg *config.Config) map[ratelimit.Bucket]float64 {
	return map[ratelimit.Bucket]float64{
		ratelimit.Location: float64(cfg.RateLimits.Location),
		ratelimit.Email:    float64(cfg.RateLimits.Email),
	}
}

// backend bundles the clients and services the worker-side commands share.
type backend struct {
	tracker     *progress.Tracker
	queue       *queue.Queue
	limiter     *ratelimit.Limiter
	mailer      *mail.Client
	subscribers *subscriber.Service
	locations   *location.Service
	subs        *subscription.Service
	sources     *source.Service
	outages     *outage.Service
	engine      *match.Engine
	dispatcher  *notification.Dispatcher
	crawler     *ingest.Service
}

func buildBackend(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger) *backend {
	tracker := progress.NewTracker(rdb)
	q := queue.New(rdb, logger)
	limiter := ratelimit.NewLimiter(rdb, bucketRates(cfg))
	placesClient := places.NewClient(cfg.Location.Host, cfg.Location.APIKey, logger)
	mailer := mail.NewClient(cfg.Email.Host, cfg.Email.AuthToken, cfg.Email.TemplateID, cfg.Email.AddressToAlert, logger)

	subscriberSvc := subscriber.NewService(subscriber.NewRepoPG(pool))
	locationSvc := location.NewService(location.NewRepoPG(pool), placesClient, limiter, logger)
	subscriptionSvc := subscription.NewService(subscription.NewRepoPG(pool), tracker, q, locationSvc, logger)
	sourceSvc := source.NewService(source.NewRepoPG(pool), logger)
	outageSvc := outage.NewService(pool, outage.NewRepoPG(pool), logger)
	engine := match.NewEngine(outageSvc, locationSvc, subscriptionSvc,
		locationSvc.PrimaryIndex(), locationSvc.NearbyIndex(), logger)
	dispatcher := notification.NewDispatcher(notification.NewRepoPG(pool), sourceSvc, mailer, limiter, logger)
	crawler := ingest.NewService(kplc.NewClient(cfg.Crawl.ListingURL, logger),
		sourceSvc, outageSvc, engine, q, mailer, logger)

	return &backend{
		tracker:     tracker,
		queue:       q,
		limiter:     limiter,
		mailer:      mailer,
		subscribers: subscriberSvc,
		locations:   locationSvc,
		subs:        subscriptionSvc,
		sources:     sourceSvc,
		outages:     outageSvc,
		engine:      engine,
		dispatcher:  dispatcher,
		crawler:     crawler,
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	rdb, err := redisclient.New(ctx, cfg.Redis.Host)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()
	logger.Info().Msg("connected to redis")

	tracker := progress.NewTracker(rdb)
	q := queue.New(rdb, logger)
	limiter := ratelimit.NewLimiter(rdb, bucketRates(cfg))
	placesClient := places.NewClient(cfg.Location.Host, cfg.Location.APIKey, logger)

	subscriberSvc := subscriber.NewService(subscriber.NewRepoPG(pool))
	locationSvc := location.NewService(location.NewRepoPG(pool), placesClient, limiter, logger)
	subscriptionSvc := subscription.NewService(subscription.NewRepoPG(pool), tracker, q, locationSvc, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))

	// Probes and metrics stay outside authentication.
	e.GET("/health/live", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/health/ready", db.HealthHandler(pool, redisclient.Health(rdb)))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	if cfg.IsDev() && cfg.Auth.JWKS == "" {
		api.Use(auth.DevMiddleware())
	} else {
		api.Use(auth.Middleware(auth.Config{
			JWKSURL:     cfg.Auth.JWKS,
			Authorities: cfg.Auth.Authorities,
			Audiences:   cfg.Auth.Audiences,
		}))
	}

	subscriber.NewHandler(subscriberSvc).RegisterRoutes(api)
	subscription.NewHandler(subscriptionSvc, subscriberSvc).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg).With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	rdb, err := redisclient.New(ctx, cfg.Redis.Host)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	b := buildBackend(cfg, pool, rdb, logger)
	if err := b.locations.RebuildIndexes(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to build search indexes")
	}

	handlers := tasks.NewHandlers(b.locations, b.subs, b.subscribers, b.engine,
		b.dispatcher, b.tracker, b.queue, b.mailer, logger)
	worker := queue.NewWorker(b.queue, handlers.Registry(), logger, handlers.OnFailure)
	if cfg.Worker.Concurrency > 0 {
		worker.Concurrency = cfg.Worker.Concurrency
	}
	scheduler := ingest.NewScheduler(b.crawler, cfg.Crawl.Schedule, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("worker shut down")
	return nil
}

func runTokenizer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg).With().Str("service", "tokenizer").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.New(ctx, cfg.Redis.Host)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	if err := ratelimit.NewTokenizer(rdb, bucketRates(cfg), logger).Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("tokenizer stopped")
	return nil
}

func runIngest() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg).With().Str("service", "ingest").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	rdb, err := redisclient.New(ctx, cfg.Redis.Host)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	b := buildBackend(cfg, pool, rdb, logger)
	if err := b.locations.RebuildIndexes(ctx); err != nil {
		return err
	}
	if err := b.crawler.Crawl(ctx); err != nil {
		return err
	}
	logger.Info().Msg("crawl cycle finished")
	return nil
}

func runReindex() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	rdb, err := redisclient.New(ctx, cfg.Redis.Host)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	limiter := ratelimit.NewLimiter(rdb, bucketRates(cfg))
	placesClient := places.NewClient(cfg.Location.Host, cfg.Location.APIKey, logger)
	locationSvc := location.NewService(location.NewRepoPG(pool), placesClient, limiter, logger)
	return locationSvc.RebuildIndexes(ctx)
}
