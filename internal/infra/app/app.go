package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/inventory-auth/internal/core/port"
	"github.com/arklim/inventory-auth/internal/infra/config"
	"github.com/arklim/inventory-auth/internal/infra/database"
	kafkainfra "github.com/arklim/inventory-auth/internal/infra/kafka"
	"github.com/arklim/inventory-auth/internal/infra/logger"
	redisinfra "github.com/arklim/inventory-auth/internal/infra/redis"
	"github.com/arklim/inventory-auth/internal/infra/security"
	"github.com/arklim/inventory-auth/internal/infra/telemetry"
	postgresrepo "github.com/arklim/inventory-auth/internal/repository/postgres"
	redisrepo "github.com/arklim/inventory-auth/internal/repository/redis"
	"github.com/arklim/inventory-auth/internal/transport/http/handlers"
	"github.com/arklim/inventory-auth/internal/transport/http/middleware"
	"github.com/arklim/inventory-auth/internal/transport/http/routes"
	"github.com/arklim/inventory-auth/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	if err := a.wire(ctx); err != nil {
		a.release(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.tracer = tracer

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool

	redisClient, err := redisinfra.NewClient(ctx, redisinfra.Options(cfg.Redis), log)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.redis = redisClient

	keys, err := security.NewFileKeyProvider(cfg.JWT.KeyDirectory)
	if err != nil {
		return fmt.Errorf("init key provider: %w", err)
	}
	tokens := security.NewTokenManager(keys, cfg.JWT.Issuer, cfg.JWT.Audience)

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return fmt.Errorf("configure argon2: %w", err)
	}

	issuerMetrics, err := telemetry.NewIssuerMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init issuer metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	issuer := usecase.NewCredentialIssuer(
		postgresrepo.NewPrincipalRepository(pool),
		postgresrepo.NewCredentialRepository(pool),
		hasher,
		tokens,
		usecase.IssuerConfigFrom(cfg),
		usecase.WithLogger(log),
		usecase.WithEvents(a.eventPublisher()),
		usecase.WithMetrics(issuerMetrics),
		usecase.WithTracer(tracer.Tracer(telemetry.TracerName)),
	)

	window := cfg.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       window * 2,
	})

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Issuer:      issuer,
		KeySet:      tokens,
		RateLimiter: middleware.NewRateLimiter(rateLimitStore, log),
		HTTPMetrics: httpMetrics,
		Readiness:   []handlers.ReadinessCheck{database.NewPoolProbe(pool), redisClient},
	})
	return nil
}

// eventPublisher selects Kafka when brokers are configured and falls back to the logging stub otherwise.
func (a *Application) eventPublisher() port.EventPublisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.producer = producer
	a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

func (a *Application) Run(ctx context.Context) error {
	defer a.release(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting inventory auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		timeout := a.cfg.App.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("http server stopped")
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// release closes every dependency that was opened, in reverse order of construction.
func (a *Application) release(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to shutdown tracer", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
