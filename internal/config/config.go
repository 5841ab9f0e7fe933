package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nandu3112/product-importer/internal/models"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL string

	// Server
	Port        string
	Environment string

	// Import settings
	MappingStrategy string
	ChunkSize       int // 0 derives chunk size from file size
	MemoryCeilingMB int
	ThrottleMs      int
}

func Load() *Config {
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	chunkSize, _ := strconv.Atoi(getEnv("IMPORT_CHUNK_SIZE", "0"))
	memoryCeiling, _ := strconv.Atoi(getEnv("IMPORT_MEMORY_CEILING_MB", "512"))
	throttleMs, _ := strconv.Atoi(getEnv("IMPORT_THROTTLE_MS", "100"))

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "product_importer_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis; empty disables the cross-process progress mirror
		RedisURL: getEnv("REDIS_URL", ""),

		// Server
		Port:        getEnv("PORT", "8088"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Import settings
		MappingStrategy: getEnv("IMPORT_MAPPING_STRATEGY", "strict"),
		ChunkSize:       chunkSize,
		MemoryCeilingMB: memoryCeiling,
		ThrottleMs:      throttleMs,
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Running auto-migrations...")
	if err := db.AutoMigrate(
		&models.Product{},
		&models.ImportBatch{},
		&models.Webhook{},
		&models.WebhookLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to run auto-migrations: %w", err)
	}
	log.Println("Auto-migrations completed successfully")

	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
