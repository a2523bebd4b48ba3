package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-checkout/internal/config"
	"storefront-checkout/internal/logger"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const driverName = "postgres"

// NewDatabase opens the shared connection pool. The caller owns the returned
// pool and must Close it at shutdown.
func NewDatabase(cfg *config.Config) (*sql.DB, error) {
	return newDatabaseWithDriver(cfg, driverName)
}

func newDatabaseWithDriver(cfg *config.Config, driver string) (*sql.DB, error) {
	db, err := sql.Open(driver, buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	maxOpen := cfg.DBMaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.DBConnTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	logger.L().Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.String("database", cfg.DBName),
		zap.Int("max_open_conns", maxOpen),
	)
	return db, nil
}

func buildDSN(cfg *config.Config) string {
	timeout := int(cfg.DBConnTimeout.Seconds())
	if timeout <= 0 {
		timeout = 5
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable connect_timeout=%d",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, timeout,
	)
}
