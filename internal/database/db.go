package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"syntra-checkout/internal/database/models"
)

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}
}

func NewConnection(dsn string, pool PoolOptions, log *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	log.Info("postgres connected", zap.String("driver", "gorm"))
	return db, nil
}

// NewLegacyConnection opens the older single-table discount schema.
func NewLegacyConnection(ctx context.Context, dsn string, pool PoolOptions, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to legacy PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping legacy PostgreSQL: %w", err)
	}

	log.Info("postgres connected", zap.String("driver", "sqlx"))
	return db, nil
}

func MigratePOSDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Product{},
		&models.ProductVariant{},
		&models.DiscountCampaign{},
		&models.DiscountRule{},
		&models.DiscountUsage{},
		&models.OrderDocument{},
		&models.OrderItem{},
		&models.Payment{},
		&models.StockMovement{},
	)
}
