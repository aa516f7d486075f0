package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cis/internal/apitoken"
	"cis/internal/events"
	"cis/internal/platform/config"
	"cis/internal/platform/httpserver"
	"cis/internal/platform/logger"
	"cis/internal/platform/metrics"
	"cis/internal/platform/redis"
	"cis/internal/profile/handler"
	"cis/internal/profile/service"
	"cis/internal/profile/store"
	"cis/internal/trust/gate"
	"cis/internal/trust/keys"
	trustmetrics "cis/internal/trust/metrics"
	"cis/internal/trust/signer"
	"cis/internal/wellknown"
	"cis/pkg/platform/audit/publisher"
	auditmemory "cis/pkg/platform/audit/store/memory"
	auditpostgres "cis/pkg/platform/audit/store/postgres"
	"cis/pkg/platform/circuit"
)

// main wires the profile API. Business logic lives in internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	apiMetrics := metrics.New(reg)

	var checks []handler.Option

	profiles, auditStore, closeDB, err := buildStores(ctx, cfg.Postgres, log)
	if err != nil {
		return err
	}
	defer closeDB()
	if db, ok := profiles.(*store.PostgresStore); ok {
		checks = append(checks, handler.WithHealthCheck("postgres", db.Ping))
	}
	audits := publisher.NewPublisher(auditStore, publisher.WithLogger(log))
	defer audits.Close()

	provider, redisClient, err := buildKeyProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		checks = append(checks, handler.WithHealthCheck("redis", redisClient.Health))
	}

	changes, kafka, err := buildChangePublisher(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	if kafka != nil {
		defer kafka.Close()
		checks = append(checks, handler.WithHealthCheck("kafka", kafka.Ping))
	}

	documents := wellknown.NewCache(buildFetcher(cfg.WellKnown),
		wellknown.WithTTL(cfg.WellKnown.TTL),
		wellknown.WithLogger(log),
	)
	if _, err := documents.Get(ctx); err != nil {
		log.Warn("well-known documents not yet available", "error", err)
	}

	trustGate := gate.New(
		gate.WithLogger(log),
		gate.WithMetrics(trustmetrics.New(reg)),
		gate.WithWorkers(cfg.Trust.VerifyWorkers),
	)
	svc, err := service.New(profiles, documents, trustGate,
		signer.New(provider, cfg.Trust.Publisher,
			signer.WithKeyName(cfg.Trust.SigningKeyName),
			signer.WithLogger(log),
		),
		service.WithLogger(log),
		service.WithAuditPublisher(audits),
		service.WithChangePublisher(changes),
		service.WithMetrics(apiMetrics),
	)
	if err != nil {
		return err
	}

	tokens := apitoken.NewService(cfg.APIToken.SigningKey, cfg.APIToken.Issuer, cfg.APIToken.Audience)
	opts := append([]handler.Option{
		handler.WithLogger(log),
		handler.WithMetrics(apiMetrics, reg),
	}, checks...)
	router := handler.New(svc, apitoken.NewAdapter(tokens), opts...).Router()

	srv := httpserver.New(cfg.Server, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting profile API", "addr", cfg.Server.Addr, "publisher", cfg.Trust.Publisher)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// buildStores selects postgres when a DSN is configured. Audit events share
// the profile database so both are written in one transaction.
func buildStores(ctx context.Context, cfg config.Postgres, log *slog.Logger) (service.ProfileStore, publisher.Store, func(), error) {
	if cfg.DSN == "" {
		log.Warn("DATABASE_URL not set; profiles are kept in memory")
		return store.NewInMemoryStore(), auditmemory.NewInMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLife)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := store.Migrate(pingCtx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return store.NewPostgres(db), auditpostgres.New(db), func() { db.Close() }, nil
}

func buildKeyProvider(ctx context.Context, cfg config.Config, log *slog.Logger) (keys.Provider, *redis.Client, error) {
	retry := []keys.RetryOption{
		keys.WithAttempts(cfg.Keys.RetryAttempts),
		keys.WithBaseDelay(cfg.Keys.RetryBaseDelay),
		keys.WithRetryLogger(log),
	}
	if cfg.Keys.Provider == "redis" {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		secrets := keys.NewSecretStoreProvider(client, cfg.Keys.Namespace, keys.WithCacheTTL(cfg.Keys.CacheTTL))
		return keys.NewRetrying(secrets, retry...), client, nil
	}
	return keys.NewRetrying(keys.NewFileProvider(cfg.Keys.Dir), retry...), nil, nil
}

// buildChangePublisher returns the kafka client separately so the caller can
// health-check and close it.
func buildChangePublisher(ctx context.Context, cfg config.Kafka, log *slog.Logger) (service.ChangePublisher, *events.KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		log.Warn("KAFKA_BROKERS not set; profile changes are kept in memory")
		return events.NewInMemoryPublisher(), nil, nil
	}
	kp, err := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic, events.WithKafkaLogger(log))
	if err != nil {
		return nil, nil, err
	}
	if err := kp.EnsureTopic(ctx, cfg.Partitions, cfg.Replication); err != nil {
		kp.Close()
		return nil, nil, err
	}
	return events.NewGuardedPublisher(kp, circuit.New("kafka"), log), kp, nil
}

func buildFetcher(cfg config.WellKnown) wellknown.Fetcher {
	if cfg.URL != "" {
		return wellknown.NewHTTPFetcher(cfg.URL, &http.Client{Timeout: 10 * time.Second})
	}
	return wellknown.FileFetcher{
		WellKnownPath: cfg.File,
		SchemaPath:    cfg.SchemaFile,
		RulesPath:     cfg.RulesFile,
	}
}
