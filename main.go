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
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"ms-turnos/internal/auth"
	"ms-turnos/internal/clock"
	"ms-turnos/internal/config"
	"ms-turnos/internal/database"
	"ms-turnos/internal/database/migrations"
	"ms-turnos/internal/directory"
	"ms-turnos/internal/kafka"
	"ms-turnos/internal/lock"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/metrics"
	"ms-turnos/internal/models"
	"ms-turnos/internal/notify"
	"ms-turnos/internal/penalties"
	"ms-turnos/internal/push"
	"ms-turnos/internal/qr"
	"ms-turnos/internal/qr/qr_api"
	turndb "ms-turnos/internal/turns/db"
	"ms-turnos/internal/turns/service"
	"ms-turnos/internal/turns/turn_api"
	"ms-turnos/internal/utils"
)

const eventBusBuffer = 256

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client, error) {
	bunDB, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	redisClient, err := database.ConnectRedis(ctx, cfg.Redis, logger)
	if err != nil {
		bunDB.Close()
		return nil, nil, err
	}
	return bunDB, redisClient, nil
}

// displayGroupID gives each instance its own consumer group so every
// instance forwards every turn event to its own SSE clients.
func displayGroupID(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("pid-%d", os.Getpid())
	}
	return base + "-" + host
}

func main() {
	logger := logger.NewLogger("turnos")

	if err := run(logger); err != nil {
		logger.Error("APP", fmt.Sprintf("Service stopped with error: %v", err))
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

// run owns every resource it opens so the deferred closes happen before main exits.
func run(logger *logger.Logger) error {
	logger.Info("APP", "Starting turn service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient, err := verifyConnections(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("verify connections: %w", err)
	}
	defer bunDB.Close()
	if redisClient != nil {
		defer redisClient.Close()
	}

	if cfg.Database.AutoMigrate {
		// The runner is not closed: closing it would also close bunDB's pool.
		runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
			MigrationsDir: cfg.Database.MigrationsDir,
			SeedData:      cfg.Database.SeedData,
		}, logger)
		if err := runner.RunMigrations(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	var (
		locker lock.Locker = lock.Noop{}
		cache  qr.Cache
	)
	if redisClient != nil {
		locker = lock.NewRedis(redisClient, logger)
		cache = qr.NewRedisCache(redisClient)
	}

	hub := notify.NewHub()
	var (
		sinks      []notify.Sink
		dispatcher push.Dispatcher = &push.LogDispatcher{Log: logger}
		producer   *kafka.Producer
		consumer   *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		logger.Info("KAFKA", fmt.Sprintf("Using Kafka brokers %v", cfg.Kafka.Brokers))
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.Topics.TurnChanged, cfg.Kafka.Topics.PushRequested}, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		defer producer.Close()

		// Events reach the local hub through Kafka like every other instance's.
		sinks = append(sinks, &kafka.TurnEventSink{Producer: producer, Topic: cfg.Kafka.Topics.TurnChanged})
		dispatcher = &push.KafkaDispatcher{Producer: producer, Topic: cfg.Kafka.Topics.PushRequested}

		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.TurnChanged, displayGroupID(cfg.Kafka.GroupID), logger)
		defer consumer.Close()
	} else {
		logger.Warn("KAFKA", "Kafka disabled, turn events stay on this instance")
		sinks = append(sinks, hub)
	}
	bus := notify.NewBus(eventBusBuffer, logger, sinks...)

	clk := clock.Real()
	users := directory.NewUsers(bunDB)
	venues := directory.NewVenues(bunDB)
	turns := turndb.New(bunDB)
	ledger := penalties.NewLedger(bunDB, clk, cfg.Turns.PenaltyLookback)
	codes := qr.NewGenerator(bunDB, cache, clk, cfg.Turns.QRTTL, logger)

	sweeper := &service.Sweeper{
		DB:        bunDB,
		Turns:     turns,
		Penalties: ledger,
		Publisher: bus,
		Clock:     clk,
		Deadline:  cfg.Turns.ClaimDeadline,
		Locker:    locker,
		Log:       logger,
	}
	engine := &service.Engine{
		DB:             bunDB,
		Turns:          turns,
		Penalties:      ledger,
		Codes:          codes,
		Users:          users,
		Venues:         venues,
		Publisher:      bus,
		Push:           dispatcher,
		Sweeper:        sweeper,
		Clock:          clk,
		Location:       cfg.Turns.Location(),
		AllowSimulated: cfg.Turns.AllowSimulated,
		Log:            logger,
	}
	refresher := &qr.Refresher{Generator: codes, Venues: venues, Locker: locker, Log: logger}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("configure token verification: %w", err)
	}
	authn := auth.Middleware(verifier, logger)
	staff := auth.RequireStaff(users)

	turnHandler := &turn_api.Handler{Engine: engine, Sweeper: sweeper, Hub: hub, Logger: logger}
	qrHandler := &qr_api.Handler{Generator: codes, Venues: venues, Engine: engine, Logger: logger}

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware)
	r.Use(logger.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			utils.WriteError(w, http.StatusServiceUnavailable, "Database unavailable", err.Error())
			return
		}
		utils.WriteSuccess(w, http.StatusOK, "ok", map[string]int{"sse_clients": hub.ClientCount()})
	})
	r.Handle("/metrics", promhttp.Handler())

	turnHandler.RegisterRoutes(r, authn, staff)
	qrHandler.RegisterRoutes(r, authn, staff)
	logger.Info("ROUTER", "Turn, penalty and QR routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		// SSE responses are long-lived, so no WriteTimeout.
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx, cfg.Turns.SweepInterval) })
	g.Go(func() error { return refresher.Run(gctx, cfg.Turns.QRRefreshInterval) })
	if consumer != nil {
		g.Go(func() error {
			return consumer.ConsumeTurnEvents(gctx, func(ev models.TurnEvent) { hub.Broadcast(ev) })
		})
	}

	g.Go(func() error {
		logger.Info("HTTP", fmt.Sprintf("Turn service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("HTTP", "Turn service shutdown complete")
		return nil
	})

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	return g.Wait()
}
