package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/lock"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/server"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	logging.Configure(cfg.LogLevel, os.Stdout)

	logger := logging.NewLoggerV2("storefront-service")
	logging.Infof("Starting storefront-service on port %d", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, checks, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open stores", logging.Fields{
			"driver": cfg.Store.Driver,
			"error":  err.Error(),
		})
	}
	defer func() {
		if err := stores.Close(context.Background()); err != nil {
			logger.Error("Failed to close stores", logging.Fields{"error": err.Error()})
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		redisClient *redis.Client
		orderCache  repository.OrderCache
		locker      lock.Locker = lock.NewKeyedMutex()
	)
	if cfg.Features.EnableOrderCaching || cfg.Features.EnableDistributedLocks {
		redisClient = repository.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if cfg.Features.EnableOrderCaching {
		orderCache = repository.NewRedisOrderCache(redisClient, cfg.Redis.TTL, m)
	}
	if cfg.Features.EnableDistributedLocks {
		locker = lock.NewRedisLocker(redisClient, cfg.Checkout.LockLease(), cfg.Checkout.LockWait)
	}

	var publisher service.OrderEventPublisher
	if cfg.Features.EnableOrderEvents {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka, logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	provider, err := newPaymentProvider(cfg.PaymentService, logger)
	if err != nil {
		logger.Fatal("Failed to configure payment provider", logging.Fields{"error": err.Error()})
	}
	userClient := clients.NewHTTPUserClient(cfg.IdentityService, logger)

	orderService := service.NewOrderService(stores, orderCache, publisher, cfg)
	checkoutService := service.NewCheckoutService(stores, locker, provider, orderCache, publisher, m, cfg)
	paymentService := service.NewPaymentService(provider, checkoutService, orderService, stores, m, cfg)

	h := handlers.NewHandlers(handlers.Services{
		Products: service.NewProductService(stores),
		Carts:    service.NewCartService(stores, locker),
		Orders:   orderService,
		Checkout: checkoutService,
		Payments: paymentService,
	}, reg, checks, cfg)

	srv := server.NewServer(cfg, h, userClient, m)

	go func() {
		logger.Info("Server starting", logging.Fields{
			"port":              cfg.Server.Port,
			"store":             cfg.Store.Driver,
			"payment_provider":  cfg.PaymentService.Provider,
			"order_caching":     cfg.Features.EnableOrderCaching,
			"order_events":      cfg.Features.EnableOrderEvents,
			"distributed_locks": cfg.Features.EnableDistributedLocks,
			"payment_consumer":  cfg.Features.EnablePaymentConsumer,
		})
		if err := srv.Run(); err != nil {
			logger.Fatal("Server failed to start", logging.Fields{"error": err.Error()})
		}
	}()

	var consumer *events.KafkaConsumer
	if cfg.Features.EnablePaymentConsumer {
		consumer = events.NewKafkaConsumer(cfg.Kafka, paymentService, logger)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Error("Payment event consumer failed", logging.Fields{"error": err.Error()})
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if consumer != nil {
		consumer.Stop()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}

	logger.Info("Server exited")
}

// openStores connects the configured backend and returns its readiness checks.
func openStores(ctx context.Context, cfg *config.Config, logger *logging.LoggerV2) (*repository.Stores, map[string]handlers.ReadinessCheck, error) {
	checks := map[string]handlers.ReadinessCheck{}

	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("Using in-memory stores; data is lost on restart")
		return repository.NewMemoryStores(), checks, nil

	case "postgres":
		db, err := repository.OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logging.Info("Database connected", logging.Fields{
			"host": cfg.Database.Host,
			"name": cfg.Database.Name,
		})
		checks["postgres"] = db.PingContext
		return repository.NewPostgresStores(db, logger), checks, nil

	case "mongo":
		db, err := repository.ConnectMongoDB(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.EnsureMongoIndexes(ctx, db); err != nil {
			db.Client().Disconnect(context.Background())
			return nil, nil, err
		}
		logging.Info("MongoDB connected", logging.Fields{"database": cfg.Mongo.Database})
		checks["mongo"] = func(ctx context.Context) error { return db.Client().Ping(ctx, nil) }
		return repository.NewMongoStores(db, logger), checks, nil
	}

	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func newPaymentProvider(cfg config.PaymentConfig, logger *logging.LoggerV2) (clients.PaymentProvider, error) {
	switch cfg.Provider {
	case "stripe":
		if cfg.APIKey == "" || cfg.WebhookSecret == "" {
			return nil, fmt.Errorf("stripe provider needs PAYMENT_API_KEY and PAYMENT_WEBHOOK_SECRET")
		}
		return clients.NewStripeProvider(cfg, nil, logger), nil
	case "gateway":
		if cfg.WebhookSecret == "" {
			return nil, fmt.Errorf("gateway provider needs PAYMENT_WEBHOOK_SECRET")
		}
		return clients.NewHTTPPaymentClient(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
}
