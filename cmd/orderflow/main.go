package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rookgm/orderflow/config"
	"github.com/rookgm/orderflow/internal/cache"
	"github.com/rookgm/orderflow/internal/events"
	handler "github.com/rookgm/orderflow/internal/handler/http"
	"github.com/rookgm/orderflow/internal/inventory"
	"github.com/rookgm/orderflow/internal/logger"
	"github.com/rookgm/orderflow/internal/middleware"
	"github.com/rookgm/orderflow/internal/payment"
	"github.com/rookgm/orderflow/internal/repository"
	"github.com/rookgm/orderflow/internal/repository/postgres"
	"github.com/rookgm/orderflow/internal/service"
	"github.com/rookgm/orderflow/internal/worker"
	"go.uber.org/zap"
)

func main() {

	// create new config
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
	defer logger.Log.Sync()

	// create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// initialize database
	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Log.Fatal("Error initializing database", zap.Error(err))
	}
	defer db.Close()

	// migrate database
	if err := db.Migrate(); err != nil {
		logger.Log.Fatal("Error migrating database", zap.Error(err))
	}

	// idempotency cache: redis when configured, in-memory otherwise
	var idemCache service.IdempotencyCache
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Log.Fatal("Error initializing redis cache", zap.Error(err))
		}
		defer redisCache.Close()
		idemCache = redisCache
	} else {
		logger.Log.Warn("redis address is not set, using in-memory idempotency cache")
		idemCache = cache.NewMemoryCache()
	}

	// order event publisher
	var publisher service.EventPublisher = events.NoopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewPublisher(cfg.AMQPURL)
		if err != nil {
			logger.Log.Fatal("Error initializing event publisher", zap.Error(err))
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	// dependency injection
	orderRepo := repository.NewOrderRepository(db)
	inventoryClient := inventory.NewClient(cfg.InventoryAddr, cfg.InventoryTimeout)
	paymentClient := payment.NewClient(cfg.PaymentAddr, cfg.PaymentTimeout)

	processor := service.NewOrderProcessor(orderRepo, inventoryClient, paymentClient, idemCache, publisher,
		service.ProcessorOptions{
			InventoryTimeout: cfg.InventoryTimeout,
			PaymentTimeout:   cfg.PaymentTimeout,
			PendingMaxAge:    cfg.PendingMaxAge,
		})
	orderHandler := handler.NewOrderHandler(processor)

	// recover orders stuck in PENDING after a crash
	sweeper := worker.NewStaleOrderSweeper(processor, cfg.SweepInterval)
	go sweeper.Run(ctx)

	router := chi.NewRouter()

	router.Use(middleware.Logging(logger.Log))

	router.Post("/api/orders", orderHandler.ProcessOrder())
	router.Get("/api/orders/{id}", orderHandler.GetOrderStatus())
	router.Post("/api/orders/{id}/cancel", orderHandler.CancelOrder())
	router.Handle("/metrics", promhttp.Handler())

	logger.Log.Info("Running server", zap.String("addr", cfg.ServerAddr))

	if err := http.ListenAndServe(cfg.ServerAddr, router); err != nil {
		logger.Log.Fatal("Error starting server", zap.Error(err))
	}
}
