package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"erasmusjourney/internal/config"
)

// Pool sizes used when the config leaves them at zero (the admin CLI does).
const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// InitDatabase opens the PostgreSQL pool described by cfg and pings it.
// verbose logs every SQL statement.
func InitDatabase(cfg config.DatabaseConfig, verbose bool) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if verbose {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}

	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql pool: %w", err)
	}
	pool.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, defaultMaxOpenConns))
	pool.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, defaultMaxIdleConns))
	pool.SetConnMaxLifetime(orDefault(cfg.ConnMaxLifetime, defaultConnMaxLifetime))

	if err := pool.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("unwrap db: %w", err)
	}
	return sqlDB.Close()
}
