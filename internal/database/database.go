// Package database opens the stores the portal runs on.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pyrus-portal/portal-backend/internal/activity"
	"pyrus-portal/portal-backend/internal/config"
	"pyrus-portal/portal-backend/internal/content"
)

// Open connects gorm to the relational store named by cfg.Driver.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.GetDatabaseURL())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("driver %q is not relational", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxConnections > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxConnections)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.MaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
		}
	}

	logger.Info("Connected to database", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate creates or updates the portal tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&content.ContentItem{},
		&content.StatusHistoryEntry{},
		&activity.Activity{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// OpenReports returns the sqlx handle the reporting read model queries.
// With a replica URL it opens a separate postgres pool; otherwise it shares
// gorm's connection pool.
func OpenReports(cfg config.DatabaseConfig, db *gorm.DB) (*sqlx.DB, error) {
	if cfg.ReportsReplicaURL != "" {
		rdb, err := sqlx.Connect("postgres", cfg.ReportsReplicaURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to reports replica: %w", err)
		}
		return rdb, nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	driverName := "postgres"
	if cfg.Driver == "sqlite" {
		driverName = "sqlite3"
	}
	return sqlx.NewDb(sqlDB, driverName), nil
}

// OpenMongo connects to the document store and ensures its indexes.
func OpenMongo(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	if err := content.EnsureMongoIndexes(ctx, client, cfg.MongoDatabase, ""); err != nil {
		return nil, err
	}

	logger.Info("Connected to mongo", zap.String("database", cfg.MongoDatabase))
	return client, nil
}
