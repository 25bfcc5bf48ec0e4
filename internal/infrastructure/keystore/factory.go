package keystore

import (
	"fmt"

	"github.com/bgl/storefront/internal/infrastructure/config"
	"github.com/bgl/storefront/internal/infrastructure/logger"
	"github.com/bgl/storefront/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

// Factory opens the keyed store selected by configuration
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a store factory
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// Opened is a store plus the resource that must be closed on shutdown
type Opened struct {
	Store Store
	// Driver is the driver actually in use (memory after a fallback)
	Driver string
	// Redis is set when the store is Redis-backed, so dependents can share it
	Redis  *RedisStore
	closer func() error
}

// Close releases the store and its connection
func (o *Opened) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer()
}

// Open connects to the configured driver. When the driver cannot connect and
// store.fallback_to_memory is set, it logs a warning and returns an
// in-memory store instead.
func (f *Factory) Open() (*Opened, error) {
	opened, err := f.open(f.cfg.Store.Driver)
	if err == nil {
		f.logger.Info("keyed store ready", zap.String("driver", opened.Driver))
		return opened, nil
	}

	if !f.cfg.Store.FallbackToMemory || f.cfg.Store.Driver == config.StoreDriverMemory {
		return nil, err
	}

	f.logger.Warn("keyed store unavailable, falling back to in-memory store. "+
		"Carts and order history will not survive a restart.",
		zap.String("driver", f.cfg.Store.Driver),
		zap.Error(err),
	)
	return f.open(config.StoreDriverMemory)
}

func (f *Factory) open(driver string) (*Opened, error) {
	switch driver {
	case config.StoreDriverMemory:
		s := NewMemoryStore()
		return &Opened{Store: s, Driver: driver, closer: s.Close}, nil

	case config.StoreDriverRedis:
		s, err := NewRedisStore(RedisConfig{
			Addr:     f.cfg.Redis.Addr(),
			Password: f.cfg.Redis.Password,
			DB:       f.cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis keyed store: %w", err)
		}
		return &Opened{Store: s, Driver: driver, Redis: s, closer: s.Close}, nil

	case config.StoreDriverSQLite, config.StoreDriverPostgres:
		opts := persistence.Options{
			Logger:   f.logger,
			LogLevel: logger.MapGormLogLevel(f.cfg.Log.Level),
		}
		var (
			db  *persistence.Database
			err error
		)
		if driver == config.StoreDriverSQLite {
			db, err = persistence.OpenSQLite(f.cfg.Store.SQLitePath, opts)
		} else {
			db, err = persistence.OpenPostgres(&f.cfg.Database, opts)
		}
		if err != nil {
			return nil, err
		}
		s, err := NewGormStore(db.DB)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Opened{Store: s, Driver: driver, closer: db.Close}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
