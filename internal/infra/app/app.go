package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
	"github.com/arklim/platform-authz/internal/infra/config"
	"github.com/arklim/platform-authz/internal/infra/database"
	kafkainfra "github.com/arklim/platform-authz/internal/infra/kafka"
	"github.com/arklim/platform-authz/internal/infra/logger"
	redisinfra "github.com/arklim/platform-authz/internal/infra/redis"
	"github.com/arklim/platform-authz/internal/infra/resilience"
	"github.com/arklim/platform-authz/internal/infra/telemetry"
	postgresrepo "github.com/arklim/platform-authz/internal/repository/postgres"
	redisrepo "github.com/arklim/platform-authz/internal/repository/redis"
	transportgrpc "github.com/arklim/platform-authz/internal/transport/grpc"
	grpcinterceptors "github.com/arklim/platform-authz/internal/transport/grpc/interceptors"
	"github.com/arklim/platform-authz/internal/transport/http/handlers"
	"github.com/arklim/platform-authz/internal/transport/http/middleware"
	"github.com/arklim/platform-authz/internal/transport/http/routes"
	"github.com/arklim/platform-authz/internal/usecase"
)

const subscribeTimeout = 30 * time.Second

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	tracer     *telemetry.TracerProvider
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	cache      *usecase.PermissionCache
	notifier   *usecase.ChangeNotifier
	grpcServer *grpc.Server
	grpcHealth *health.Server
	grpcAddr   string

	// subscribe starts the change transport and reports on ready once messages flow.
	subscribe func(ctx context.Context, ready chan<- struct{}) error
	closers   []func() error
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	policyMetrics, err := telemetry.NewPolicyMetrics(telemetry.PolicyMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init policy metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}
	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init grpc metrics: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("init redis: %w", err)
	}

	var (
		ruleStore port.RuleStore = postgresrepo.NewRuleStore(pool)
		breaker   *resilience.BreakerRuleStore
	)
	if cfg.Breaker.Enabled {
		breaker = resilience.NewBreakerRuleStore(ruleStore, cfg.Breaker, policyMetrics, log)
		ruleStore = breaker
	}
	maintenanceStore := redisrepo.NewMaintenanceRepository(redisClient.Client(), cfg.Redis.MaintenanceKey)

	cache := usecase.NewPermissionCache(ruleStore, maintenanceStore, usecase.PermissionCacheOptions{
		TableTTL:       cfg.Cache.TableTTL,
		MaintenanceTTL: cfg.Cache.MaintenanceTTL,
		LoadTimeout:    cfg.Cache.LoadTimeout,
	}).WithLogger(log).WithMetrics(policyMetrics)

	identity := usecase.NewIdentityCache(ruleStore, usecase.IdentityCacheOptions{
		UserCacheSize:       cfg.Cache.UserSize,
		UserTTL:             cfg.Cache.UserTTL,
		RoleFilterCacheSize: cfg.Cache.RoleFilterSize,
		RoleFilterTTL:       cfg.Cache.RoleFilterTTL,
		RevokedTokenSize:    cfg.Cache.RevokedTokenSize,
		RevokedTokenTTL:     cfg.Cache.RevokedTokenTTL,
		LoadTimeout:         cfg.Cache.LoadTimeout,
	}).WithLogger(log)

	evaluator := usecase.NewPolicyEvaluator(cache, identity, cfg.App.Owners).
		WithLogger(log).
		WithMetrics(policyMetrics).
		WithTracer(tracer.Tracer("github.com/arklim/platform-authz/internal/usecase"))
	if cfg.App.StrictDeleteBit {
		evaluator.WithDeleteMapping(domain.DeleteFromDelete)
	}

	gate := usecase.NewAdmissionGate(cache, cfg.App.Owners, cfg.App.InternalHosts).
		WithLogger(log).
		WithMetrics(policyMetrics)
	resolver := usecase.NewRouteResolver(cache)

	names := cfg.Channels.Names()
	listener := usecase.NewInvalidationListener(cache, identity, names).
		WithLogger(log).
		WithMetrics(policyMetrics)

	application := &Application{
		cfg:      cfg,
		logger:   log,
		tracer:   tracer,
		pool:     pool,
		redis:    redisClient,
		cache:    cache,
		grpcAddr: fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port),
	}

	publisher, err := application.wireChangeTransport(listener, names)
	if err != nil {
		_ = application.close()
		return nil, err
	}
	application.notifier = usecase.NewChangeNotifier(publisher).WithLogger(log)

	readiness := map[string]handlers.ReadinessCheck{
		"database": pool.Ping,
		"redis":    redisClient.HealthCheck,
	}
	if cfg.Channels.Transport != config.TransportNone && cfg.Channels.HealthCheckInterval > 0 {
		timeout := cfg.Channels.HealthCheckTimeout
		readiness["change_bus"] = func(context.Context) error {
			return listener.CheckHeartbeat(timeout)
		}
	}
	if breaker != nil {
		readiness["rule_store"] = func(context.Context) error {
			if breaker.State() == gobreaker.StateOpen {
				return errors.New("rule store circuit open")
			}
			return nil
		}
	}

	application.grpcHealth = health.NewServer()
	application.grpcServer, err = transportgrpc.NewServer(transportgrpc.ServerDependencies{
		Validator:      evaluator,
		Revocations:    identity,
		Logger:         log,
		Metrics:        grpcMetrics,
		TracerProvider: tracer.Provider(),
		Health:         application.grpcHealth,
	})
	if err != nil {
		_ = application.close()
		return nil, fmt.Errorf("init grpc server: %w", err)
	}

	application.engine = routes.Register(routes.Dependencies{
		Config:          cfg,
		Logger:          log,
		Gate:            gate,
		Revocations:     identity,
		Resolver:        resolver,
		Validator:       evaluator,
		HTTPMetrics:     httpMetrics,
		Gatherer:        registry,
		ReadinessChecks: readiness,
	})

	return application, nil
}

// wireChangeTransport selects the publisher the notifier uses and the loop feeding the listener.
func (a *Application) wireChangeTransport(listener *usecase.InvalidationListener, names domain.ChannelNames) (port.ChangePublisher, error) {
	cfg := a.cfg
	switch cfg.Channels.Transport {
	case config.TransportRedis:
		bus := redisinfra.NewChangeBus(a.redis.Client(), names, a.logger)
		a.subscribe = func(ctx context.Context, ready chan<- struct{}) error {
			return bus.Subscribe(ctx, listener, ready)
		}
		a.logger.Info("redis change bus selected", zap.Strings("channels", listener.Channels()))
		return bus, nil

	case config.TransportKafka:
		producer, err := kafkainfra.NewProducer(cfg.Kafka, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		a.closers = append(a.closers, producer.Close)

		// Every instance must see every change, so each joins its own group.
		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = fmt.Sprintf("%s-%s", cfg.App.Name, uuid.NewString())
		}
		consumer, err := kafkainfra.NewChangeConsumer(cfg.Kafka.Brokers, groupID, cfg.Kafka.TopicPrefix, names, listener, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init kafka consumer: %w", err)
		}
		a.closers = append(a.closers, consumer.Close)
		a.subscribe = func(ctx context.Context, ready chan<- struct{}) error {
			return consumer.Run(ctx, ready)
		}
		a.logger.Info("kafka change transport selected",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("group_id", groupID),
			zap.Strings("topics", consumer.Topics()),
		)
		return kafkainfra.NewChangePublisher(producer, names, a.logger), nil

	default:
		a.logger.Info("change transport disabled, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger), nil
	}
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Warn("release resources", zap.Error(err))
		}
	}()

	changeCtx, stopChanges := context.WithCancel(ctx)
	defer stopChanges()

	changeErrCh := make(chan error, 1)
	if a.subscribe != nil {
		if err := a.startSubscription(changeCtx, changeErrCh); err != nil {
			return err
		}
	}

	// Warm after subscribing so no invalidation published during the load is missed.
	if err := a.cache.Warm(ctx); err != nil {
		a.logger.Warn("cache warm-up failed, tables will load on demand", zap.Error(err))
	}

	go a.runHeartbeat(changeCtx)

	grpcErrCh := make(chan error, 1)
	var grpcListener net.Listener
	if a.grpcServer != nil && a.grpcAddr != "" {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcListener = lis
		a.logger.Info("starting gRPC server",
			zap.String("address", a.grpcAddr),
		)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("gRPC server panicked", zap.Any("panic", r))
					grpcErrCh <- fmt.Errorf("grpc server panicked: %v", r)
				}
			}()
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
			}
		}()
	}
	defer func() {
		if a.grpcServer != nil {
			a.grpcServer.GracefulStop()
		}
		if grpcListener != nil {
			_ = grpcListener.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting authorization engine",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("change_transport", a.cfg.Channels.Transport),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		if a.grpcHealth != nil {
			a.grpcHealth.Shutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-grpcErrCh:
		return err
	case err := <-changeErrCh:
		return err
	}
}

// startSubscription runs the change loop in the background and waits until it is listening.
func (a *Application) startSubscription(ctx context.Context, errCh chan error) error {
	ready := make(chan struct{})
	go func() {
		if err := a.subscribe(ctx, ready); err != nil {
			errCh <- fmt.Errorf("change subscription: %w", err)
		}
	}()

	timer := time.NewTimer(subscribeTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case err := <-errCh:
		return err
	case <-timer.C:
		return fmt.Errorf("change subscription not ready after %s", subscribeTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runHeartbeat publishes health-check notices so every instance can detect a silent bus.
func (a *Application) runHeartbeat(ctx context.Context) {
	interval := a.cfg.Channels.HealthCheckInterval
	if interval <= 0 || a.cfg.Channels.Transport == config.TransportNone {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.notifier.NotifyHealthCheck(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("publish heartbeat", zap.Error(err))
			}
		}
	}
}

func (a *Application) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
		a.tracer = nil
	}
	return errors.Join(errs...)
}
