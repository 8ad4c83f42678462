package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	refundApp "github.com/cassiomorais/chainpay/internal/application/refund"
	"github.com/cassiomorais/chainpay/internal/blockchain"
	"github.com/cassiomorais/chainpay/internal/infrastructure/config"
	"github.com/cassiomorais/chainpay/internal/infrastructure/executor"
	"github.com/cassiomorais/chainpay/internal/infrastructure/kafka"
	"github.com/cassiomorais/chainpay/internal/infrastructure/notify"
	"github.com/cassiomorais/chainpay/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/chainpay/internal/infrastructure/redis"
	"github.com/cassiomorais/chainpay/internal/lock"
	"github.com/cassiomorais/chainpay/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client // nil when redis.enabled is false
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	tracer  *sdktrace.TracerProvider
	closers []func() error
}

// Services is the object graph shared by the API and worker binaries.
type Services struct {
	Sessions   *postgres.PaymentSessionRepository
	RefundRepo *postgres.RefundRepository
	TxManager  *postgres.TxManager
	Tokens     *blockchain.TokenRegistry
	Providers  *blockchain.ProviderManager
	Monitor    *blockchain.Monitor
	Executor   refundApp.Executor
	Notifier   refundApp.Notifier
	Refunds    *refundApp.Service
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout).
		With().Str("service", serviceName).Str("instance", cfg.InstanceID).Logger()
	logger.Info().Msg("Starting")

	app := &App{Config: cfg, Logger: logger}

	if cfg.Observability.EnableTracing {
		app.initTracing(serviceName)
	}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = observability.NewMetrics(metricsNamespace, app.Registry)

	pool, err := postgres.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	app.Pool = pool
	logger.Info().Msg("Connected to PostgreSQL")

	if cfg.Redis.Enabled {
		client, err := infraRedis.NewClient(ctx, &cfg.Redis, logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		app.Redis = client
		logger.Info().Msg("Connected to Redis")
	} else {
		logger.Warn().Msg("Redis disabled: refund worker runs without a distributed lock")
	}

	return app, nil
}

func (a *App) initTracing(serviceName string) {
	obs := a.Config.Observability
	var exporter sdktrace.SpanExporter
	if obs.JaegerEndpoint != "" {
		exp, err := observability.NewJaegerExporter(obs.JaegerEndpoint)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to create span exporter, spans stay in-process")
		} else {
			exporter = exp
		}
	}

	tp, err := observability.InitTracer(serviceName, obs.TraceSampleRatio, exporter)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		return
	}
	a.tracer = tp
	a.Logger.Info().
		Float64("sample_ratio", obs.TraceSampleRatio).
		Bool("exporting", exporter != nil).
		Str("jaeger_endpoint", obs.JaegerEndpoint).
		Msg("Tracing enabled")
}

// Services builds repositories, chain access and the refund service.
func (a *App) Services(ctx context.Context) (*Services, error) {
	cfg := a.Config
	s := &Services{
		Sessions:   postgres.NewPaymentSessionRepository(a.Pool),
		RefundRepo: postgres.NewRefundRepository(a.Pool),
		TxManager:  postgres.NewTxManager(a.Pool),
		Tokens:     blockchain.DefaultTokens(),
	}

	s.Providers = blockchain.NewProviderManager(blockchain.ProviderManagerConfig{
		Cooldown:       cfg.Chain.ProviderCooldown,
		HealthCacheTTL: cfg.Chain.HealthCacheTTL,
		ProbeTimeout:   cfg.Chain.RPCTimeout,
	}, a.Logger, a.Metrics)
	a.closers = append(a.closers, func() error { s.Providers.Close(); return nil })
	for _, network := range cfg.Chain.NetworkNames() {
		urls := cfg.Chain.Networks[network].RPCURLs
		if len(urls) == 0 {
			a.Logger.Warn().Str("network", network).Msg("No RPC endpoints configured")
			continue
		}
		// A bad endpoint is logged; the rest of the list still serves.
		if err := s.Providers.AddProviders(ctx, network, urls); err != nil {
			a.Logger.Warn().Err(err).Str("network", network).Msg("Some RPC endpoints could not be dialed")
		}
	}
	s.Monitor = blockchain.NewMonitor(s.Providers, s.Tokens, blockchain.MonitorConfig{
		RPCTimeout:           cfg.Chain.RPCTimeout,
		DefaultConfirmations: cfg.Chain.DefaultConfirmations,
		Confirmations:        cfg.Chain.Confirmations(),
	}, a.Logger, a.Metrics)

	if cfg.Executor.SignerURL == "" {
		a.Logger.Warn().Msg("executor.signer_url not set: refund transfers will fail")
	}
	s.Executor = executor.NewBreakerExecutor(
		executor.NewSignerClient(cfg.Executor.SignerURL, cfg.Executor.RequestTimeout),
		executor.BreakerSettings{
			Name:        "signer",
			MaxFailures: cfg.Executor.BreakerMaxFailures,
			Timeout:     cfg.Executor.BreakerTimeout,
		},
		a.Metrics, a.Logger,
	)

	notifier, err := a.notifier()
	if err != nil {
		return nil, err
	}
	s.Notifier = notifier

	s.Refunds = refundApp.NewService(
		s.RefundRepo, s.Sessions, s.TxManager,
		s.Executor, s.Notifier, s.Monitor, s.Tokens,
		a.Logger, a.Metrics,
	)
	a.closers = append(a.closers, func() error { s.Refunds.Wait(); return nil })
	return s, nil
}

func (a *App) notifier() (refundApp.Notifier, error) {
	cfg := a.Config.Notifications
	switch cfg.Driver {
	case "redis":
		if a.Redis == nil {
			return nil, errors.New("notifications.driver=redis requires redis.enabled")
		}
		return infraRedis.NewWebhookProducer(a.Redis, cfg.Stream), nil
	case "kafka":
		writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, a.Logger)
		writer.WriteTimeout = cfg.PublishTimeout
		publisher := kafka.NewWebhookPublisher(writer)
		a.closers = append(a.closers, publisher.Close)
		return publisher, nil
	default:
		return notify.NewLogNotifier(a.Logger), nil
	}
}

// RedisClient returns the Redis client as an interface, nil when Redis is
// disabled.
func (a *App) RedisClient() redis.UniversalClient {
	if a.Redis == nil {
		return nil
	}
	return a.Redis
}

// Mutex returns the refund worker's lock: Redis-backed when Redis is
// enabled, process-local otherwise.
func (a *App) Mutex() lock.Mutex {
	if a.Redis == nil {
		return lock.NewLocalMutex()
	}
	return lock.NewStoreMutex(infraRedis.NewLockStore(a.Redis))
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Error().Err(err).Msg("Shutdown step failed")
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.Pool.Close()
	if err := observability.Shutdown(context.Background(), a.tracer); err != nil {
		a.Logger.Error().Err(err).Msg("Tracer shutdown failed")
	}
}
