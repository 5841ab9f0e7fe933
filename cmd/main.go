package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nandu3112/product-importer/internal/config"
	"github.com/nandu3112/product-importer/internal/handlers"
	"github.com/nandu3112/product-importer/internal/ingest"
	"github.com/nandu3112/product-importer/internal/mapper"
	"github.com/nandu3112/product-importer/internal/middleware"
	"github.com/nandu3112/product-importer/internal/progress"
	"github.com/nandu3112/product-importer/internal/repository"
	"github.com/nandu3112/product-importer/internal/webhook"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "production" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Initialize Redis client (optional, for cross-process progress fan-out)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: Failed to parse Redis URL: %v (continuing without Redis)", err)
		} else {
			redisClient = redis.NewClient(redisOpts)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Printf("WARNING: Failed to connect to Redis: %v (progress mirroring disabled)", err)
				redisClient = nil
			} else {
				log.Println("✓ Redis connected successfully")
			}
			cancel()
		}
	} else {
		log.Println("REDIS_URL not set, progress mirroring disabled")
	}

	// Initialize repositories
	productsRepo := repository.NewProductsRepository(db)
	batchesRepo := repository.NewBatchesRepository(db)
	webhooksRepo := repository.NewWebhooksRepository(db)

	// Initialize webhook dispatcher and progress broadcaster
	dispatcher := webhook.NewDispatcher(webhooksRepo, logger)
	defer dispatcher.Close()
	broadcaster := progress.NewBroadcaster(redisClient, logger)

	// Initialize ingestors, one per mapping strategy
	baseOpts := ingest.Options{
		ChunkSize:     cfg.ChunkSize,
		MemoryCeiling: uint64(cfg.MemoryCeilingMB) << 20,
		Throttle:      time.Duration(cfg.ThrottleMs) * time.Millisecond,
	}
	runners := make(map[mapper.Strategy]handlers.ImportRunner)
	for _, strategy := range []mapper.Strategy{mapper.StrategyStrict, mapper.StrategyKeyword} {
		opts := baseOpts
		opts.Strategy = strategy
		runners[strategy] = ingest.NewIngestor(productsRepo, dispatcher, broadcaster, opts, logger)
	}
	defaultStrategy := mapper.New(mapper.Strategy(cfg.MappingStrategy)).Strategy()

	// Initialize handlers
	importHandler := handlers.NewImportHandler(batchesRepo, runners, defaultStrategy, broadcaster, logger)
	webhookHandler := handlers.NewWebhookHandler(dispatcher, logger)
	productsHandler := handlers.NewProductsHandler(productsRepo, dispatcher, logger)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	// Health check endpoints
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.HealthCheck)

	// API routes
	api := router.Group("/api/v1")
	{
		imports := api.Group("/imports")
		{
			imports.POST("", importHandler.ImportProducts)
			imports.GET("/template", importHandler.GetImportTemplate)
			imports.GET("/:id/progress", importHandler.GetProgress)
			imports.GET("/:id/ws", importHandler.StreamProgress)
		}

		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/:id/test", webhookHandler.TestWebhook)
		}

		products := api.Group("/products")
		{
			products.GET("/stats", productsHandler.GetStats)
			products.DELETE("", productsHandler.DeleteAllProducts)
		}
	}

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Product importer starting on port %s", cfg.Port)
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-quit
	log.Println("Shutting down product-importer...")

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}

	log.Println("Product importer stopped")
}
