package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/teaching-eval-scoring/internal/models"
)

const sqlitePrefix = "sqlite://"

// Connect opens the relational store. URLs starting with sqlite:// select the embedded sqlite
// driver; anything else is handed to postgres as a DSN.
func Connect(url string) (*gorm.DB, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("database url must not be empty")
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var (
		db  *gorm.DB
		err error
	)
	if strings.HasPrefix(url, sqlitePrefix) {
		db, err = gorm.Open(sqlite.Open(strings.TrimPrefix(url, sqlitePrefix)), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// sqlite serialises writers; one connection avoids SQLITE_BUSY under the batch pool.
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	} else {
		db, err = gorm.Open(postgres.Open(url), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	if err := Ping(context.Background(), db); err != nil {
		return nil, err
	}
	return db, nil
}

// Ping checks the underlying connection within a short deadline.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("unable to reach database: %w", err)
	}
	return nil
}

// Migrate creates or updates the scoring tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.ScoringTemplate{},
		&models.EvaluationTask{},
		&models.ScoringRecord{},
		&models.ArchivedScore{},
		&models.LLMAPICall{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
