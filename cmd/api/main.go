package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/territory/internal/api"
	"example.com/territory/internal/archive"
	"example.com/territory/internal/auth"
	"example.com/territory/internal/buffer"
	"example.com/territory/internal/config"
	"example.com/territory/internal/domain"
	"example.com/territory/internal/observability"
	"example.com/territory/internal/outbox"
	persistence "example.com/territory/internal/persistence/postgres"
	"example.com/territory/internal/realtime"
	httptransport "example.com/territory/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger("territory-api", cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	redisClient, err := buffer.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure redis")
	}
	defer redisClient.Close()

	loc := cfg.Location()
	repo := persistence.NewRepository(pool, persistence.WithLocation(loc))
	locations := buffer.NewRedisBuffer(redisClient,
		buffer.WithTTL(cfg.BufferTTL),
		buffer.WithLogger(logger.With().Str("component", "buffer").Logger()),
	)

	finalizerOpts := []domain.FinalizerOption{domain.WithLogger(logger.With().Str("component", "finalizer").Logger())}
	if cfg.ArchiveBucket != "" {
		finalizerOpts = append(finalizerOpts, domain.WithArchiver(archive.NewS3Archiver(archive.Config{
			Bucket:          cfg.ArchiveBucket,
			Endpoint:        cfg.ArchiveEndpoint,
			Region:          cfg.ArchiveRegion,
			AccessKeyID:     cfg.ArchiveAccessKey,
			SecretAccessKey: cfg.ArchiveSecretKey,
		})))
		logger.Info().Str("bucket", cfg.ArchiveBucket).Msg("track archiving enabled")
	}
	finalizer := domain.NewFinalizer(locations, repo, domain.NewRewardCalculator(repo, loc), finalizerOpts...)

	hub := realtime.NewHub(logger.With().Str("component", "hub").Logger())
	engine := realtime.NewEngine(repo, locations, finalizer, hub,
		realtime.WithLogger(logger.With().Str("component", "realtime").Logger()),
	)
	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	socket := realtime.NewHandler(engine, authCfg, logger.With().Str("component", "socket").Logger(),
		realtime.WithRateLimit(cfg.WSEventsPerSecond, cfg.WSEventBurst),
	)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, 0)
	defer producer.Close()
	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
		outbox.WithDispatcherLogger(logger.With().Str("component", "outbox").Logger()),
	)

	service := domain.NewService(repo, repo, repo)
	handler := api.NewHandler(service, logger.With().Str("component", "api").Logger())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/v1/ws", socket)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(authCfg, func(r *http.Request) bool {
		switch {
		case r.URL.Path == "/healthz", r.URL.Path == "/metrics", r.URL.Path == "/v1/ws":
			return true
		case r.Method == http.MethodOptions:
			return true
		default:
			return !strings.HasPrefix(r.URL.Path, "/v1/")
		}
	})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Chain(mux,
		httptransport.RequestLogger(logger),
		httptransport.CORS(cfg.CORSOrigin),
		authMiddleware.Wrap,
	))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("address", cfg.HTTPAddress).Msg("territory-api listening")
		return httptransport.Serve(gctx, server, 15*time.Second)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("territory-api stopped with error")
		dispatcher.Wait()
		os.Exit(1)
	}
	dispatcher.Wait()
	logger.Info().Msg("territory-api stopped")
}
