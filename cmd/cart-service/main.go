package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/fjod/gig_cart/internal/cache"
	"github.com/fjod/gig_cart/internal/config"
	"github.com/fjod/gig_cart/internal/directory"
	carthttp "github.com/fjod/gig_cart/internal/http"
	"github.com/fjod/gig_cart/internal/logger"
	"github.com/fjod/gig_cart/internal/poller"
	"github.com/fjod/gig_cart/internal/publisher"
	"github.com/fjod/gig_cart/internal/repository"
	"github.com/fjod/gig_cart/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = l.Sync() }()

	if err := run(cfg, l); err != nil {
		l.Fatal("cart service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, l *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, l)
	if err != nil {
		return err
	}
	closers = append(closers, closeRepo)

	dir, err := openDirectory(cfg, l)
	if err != nil {
		return err
	}
	closers = append(closers, func() { _ = dir.Close() })

	breaker := directory.NewBreakerDirectory(dir, directory.BreakerSettings{
		Name:        "professional-directory",
		MaxFailures: cfg.BreakerMaxFailures,
	}, l)

	var cartCache cache.CartCache = cache.NopCache{}
	if cfg.RedisEnabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		l.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))
		cartCache = cache.NewRedisCache(redisClient, cfg.CartCacheTTL)
	}

	svc := service.NewCartService(repo, breaker, cartCache, l)

	var workers sync.WaitGroup
	if cfg.KafkaEnabled() {
		writer := publisher.NewKafkaWriter(cfg.CheckoutTopic, cfg.KafkaBrokers...)
		closers = append(closers, func() { _ = writer.Close() })
		outbox := publisher.NewOutboxPoller(repo, writer, cfg.OutboxPollInterval, l)

		reader := poller.NewKafkaReader(cfg.PaymentResultsTopic, cfg.PaymentGroupID, cfg.KafkaBrokers...)
		payments := poller.NewPaymentResultPoller(reader, svc, l)
		closers = append(closers, payments.Close)

		workers.Add(2)
		go func() {
			defer workers.Done()
			outbox.Run(ctx)
		}()
		go func() {
			defer workers.Done()
			payments.Run(ctx)
		}()
		l.Info("kafka workers started",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("checkout_topic", cfg.CheckoutTopic),
			zap.String("payment_results_topic", cfg.PaymentResultsTopic))
	} else {
		l.Warn("KAFKA_BROKERS not set, checkout events stay in the outbox")
	}

	handler := carthttp.NewCartHandler(svc, cfg.RequestTimeout, l)
	router := carthttp.NewRouter(handler, cfg.RequestTimeout, l)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "cart-service"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	serveErr := make(chan error, 2)
	go func() {
		l.Info("http server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		l.Info("grpc health server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var runErr error
	select {
	case <-ctx.Done():
		l.Info("shutting down cart service")
	case runErr = <-serveErr:
		stop()
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("http server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	workers.Wait()

	l.Info("cart service stopped")
	return runErr
}

func openRepository(ctx context.Context, cfg *config.Config, l *zap.Logger) (repository.CartRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = db.Client().Disconnect(context.Background()) }
		repo := repository.NewMongoRepository(db)
		if ix, ok := repo.(repository.IndexCreator); ok {
			if err := ix.CreateIndexes(ctx); err != nil {
				closeFn()
				return nil, nil, fmt.Errorf("create mongo indexes: %w", err)
			}
		}
		l.Info("connected to MongoDB", zap.String("db", cfg.MongoDBName))
		return repo, closeFn, nil

	case config.StorePostgres:
		port, err := strconv.Atoi(cfg.DBPort)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid DB_PORT %q: %w", cfg.DBPort, err)
		}
		cred := &repository.Credentials{
			Host:              cfg.DBHost,
			Port:              port,
			User:              cfg.DBUser,
			Password:          cfg.DBPassword,
			DBName:            cfg.DBName,
			MigrationsDirPath: cfg.MigrationsPath,
		}
		repo, err := repository.NewPostgresRepository(ctx, cred)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.RunMigrations(cred); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		l.Info("connected to PostgreSQL", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
		return repo, func() { _ = repo.Close() }, nil

	default:
		l.Warn("using in-memory cart store, carts are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}
}

func openDirectory(cfg *config.Config, l *zap.Logger) (*directory.SQLiteDirectory, error) {
	if dirPath := filepath.Dir(cfg.DirectoryDBPath); dirPath != "." {
		if err := os.MkdirAll(dirPath, 0o755); err != nil {
			return nil, fmt.Errorf("create directory db folder: %w", err)
		}
	}
	dir, err := directory.NewSQLiteDirectory(cfg.DirectoryDBPath)
	if err != nil {
		return nil, err
	}
	if err := dir.RunMigrations(cfg.DirectoryMigrationsPath); err != nil {
		_ = dir.Close()
		return nil, err
	}
	l.Info("professional directory ready", zap.String("path", cfg.DirectoryDBPath))
	return dir, nil
}
