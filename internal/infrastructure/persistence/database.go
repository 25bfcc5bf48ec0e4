package persistence

import (
	"fmt"
	"time"

	"github.com/bgl/storefront/internal/infrastructure/config"
	applogger "github.com/bgl/storefront/internal/infrastructure/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database wraps the GORM connection backing the SQL keyed store
type Database struct {
	DB *gorm.DB
}

// Options tunes how a Database is opened
type Options struct {
	Logger        *zap.Logger
	LogLevel      gormlogger.LogLevel
	SlowThreshold time.Duration
}

func (o Options) gormConfig() *gorm.Config {
	level := o.LogLevel
	if level == 0 {
		level = gormlogger.Warn
	}
	slow := o.SlowThreshold
	if slow == 0 {
		slow = 200 * time.Millisecond
	}
	return &gorm.Config{
		Logger:                 applogger.NewGormLogger(o.Logger, level, slow),
		SkipDefaultTransaction: true,
	}
}

// OpenPostgres connects to Postgres and configures the connection pool
func OpenPostgres(cfg *config.DatabaseConfig, opts Options) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), opts.gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Database{DB: db}, nil
}

// OpenSQLite opens (or creates) a SQLite database file. Use ":memory:" for
// a throwaway database. SQLite allows one writer, so the pool is pinned to a
// single connection.
func OpenSQLite(path string, opts Options) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), opts.gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return &Database{DB: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}
