package storage

import (
	"context"
	"fmt"
	"log"
	"supportchat/backend/internal/models"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens PostgreSQL with retry and exponential backoff.
func Connect(dsn string, verbose bool, retries int) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Silent)
	if verbose {
		gormLogger = logger.Default.LogMode(logger.Info)
	}
	if retries <= 0 {
		retries = 1
	}

	var (
		db  *gorm.DB
		err error
	)
	backoff := time.Second
	for attempt := 1; attempt <= retries; attempt++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
		if err == nil {
			break
		}
		log.Printf("WARN: PostgreSQL connect attempt %d/%d failed: %v", attempt, retries, err)
		if attempt < retries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the support tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Message{},
		&models.CommunicationSession{},
		&models.Agent{},
	)
}

// ConnectRedis opens a Redis client and checks it with PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}
