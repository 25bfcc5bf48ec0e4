package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the storefront service
type Config struct {
	App       AppConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Remote    RemoteConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Cart      CartConfig
	Order     OrderConfig
	Chat      ChatConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// HTTPConfig holds inbound HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxBodySize      int64
	CORSAllowOrigins []string
}

// RemoteConfig points at the hosted commerce backend
type RemoteConfig struct {
	BaseURL string
	// Timeout bounds every synchronous remote call (loads, order submission)
	Timeout time.Duration
	// PushTimeout bounds each asynchronous mirror push
	PushTimeout      time.Duration
	MaxResponseBytes int64
}

// Store drivers
const (
	StoreDriverMemory   = "memory"
	StoreDriverRedis    = "redis"
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

// StoreConfig selects the durable keyed store
type StoreConfig struct {
	Driver string
	// Prefix is prepended to every key, e.g. "bgl_" gives "bgl_cart_guest"
	Prefix     string
	SQLitePath string
	// FallbackToMemory lets the service start on the in-memory store when the
	// configured driver cannot connect
	FallbackToMemory bool
}

// DatabaseConfig holds Postgres connection settings for the postgres store driver
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds bearer token verification settings
type JWTConfig struct {
	Secret string
	Issuer string
	// AllowHeaderIdentity accepts X-User-* headers when no token is sent.
	// Only for development behind a trusted gateway.
	AllowHeaderIdentity bool
}

// CartConfig holds cart session behaviour
type CartConfig struct {
	// AdoptGuestCart merges the guest cart into the customer cart on login
	AdoptGuestCart bool
	SessionIdleTTL time.Duration
}

// Order failure policies
const (
	FailurePolicyRetain = "retain"
	FailurePolicyClear  = "clear"
)

// OrderConfig holds order submission behaviour
type OrderConfig struct {
	FailurePolicy  string
	IdempotencyTTL time.Duration
}

// ChatConfig holds messaging limits
type ChatConfig struct {
	MaxAttachmentBytes int64
}

// TelemetryConfig holds OpenTelemetry metrics settings
type TelemetryConfig struct {
	MetricsEnabled    bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
}

// Load reads configuration from config.toml (if present) and BGL_* environment
// variables, applies defaults and validates the result.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BGL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Remote: RemoteConfig{
			BaseURL:          v.GetString("remote.base_url"),
			Timeout:          v.GetDuration("remote.timeout"),
			PushTimeout:      v.GetDuration("remote.push_timeout"),
			MaxResponseBytes: v.GetInt64("remote.max_response_bytes"),
		},
		Store: StoreConfig{
			Driver:           v.GetString("store.driver"),
			Prefix:           v.GetString("store.prefix"),
			SQLitePath:       v.GetString("store.sqlite_path"),
			FallbackToMemory: v.GetBool("store.fallback_to_memory"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:              v.GetString("jwt.secret"),
			Issuer:              v.GetString("jwt.issuer"),
			AllowHeaderIdentity: v.GetBool("jwt.allow_header_identity"),
		},
		Cart: CartConfig{
			AdoptGuestCart: v.GetBool("cart.adopt_guest_cart"),
			SessionIdleTTL: v.GetDuration("cart.session_idle_ttl"),
		},
		Order: OrderConfig{
			FailurePolicy:  v.GetString("order.failure_policy"),
			IdempotencyTTL: v.GetDuration("order.idempotency_ttl"),
		},
		Chat: ChatConfig{
			MaxAttachmentBytes: v.GetInt64("chat.max_attachment_bytes"),
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "bgl-storefront"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // JSON routes; message uploads get their own limit
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 8 * time.Second
	}
	if cfg.Remote.PushTimeout == 0 {
		cfg.Remote.PushTimeout = cfg.Remote.Timeout
	}
	if cfg.Remote.MaxResponseBytes == 0 {
		cfg.Remote.MaxResponseBytes = 4 << 20
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreDriverSQLite
	}
	if cfg.Store.Prefix == "" {
		cfg.Store.Prefix = "bgl_"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "storefront.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "storefront"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "bgl-storefront"
	}
	if cfg.Cart.SessionIdleTTL == 0 {
		cfg.Cart.SessionIdleTTL = 30 * time.Minute
	}
	if cfg.Order.FailurePolicy == "" {
		cfg.Order.FailurePolicy = FailurePolicyRetain
	}
	if cfg.Order.IdempotencyTTL == 0 {
		cfg.Order.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Chat.MaxAttachmentBytes == 0 {
		cfg.Chat.MaxAttachmentBytes = 10 << 20
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("remote.base_url must be an absolute URL, got %q", c.Remote.BaseURL)
		}
	}
	if c.Remote.Timeout < 0 || c.Remote.PushTimeout < 0 {
		return fmt.Errorf("remote timeouts cannot be negative")
	}

	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverRedis, StoreDriverSQLite, StoreDriverPostgres:
	default:
		return fmt.Errorf("store.driver must be one of memory, redis, sqlite, postgres, got %q", c.Store.Driver)
	}

	switch c.Order.FailurePolicy {
	case FailurePolicyRetain, FailurePolicyClear:
	default:
		return fmt.Errorf("order.failure_policy must be retain or clear, got %q", c.Order.FailurePolicy)
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Chat.MaxAttachmentBytes < 0 || c.Chat.MaxAttachmentBytes > 10<<20 {
		return fmt.Errorf("chat.max_attachment_bytes must be between 0 and 10 MiB")
	}

	if c.App.Env == "production" {
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote.base_url is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.JWT.AllowHeaderIdentity {
			return fmt.Errorf("jwt.allow_header_identity must be false in production")
		}
		if c.Store.Driver == StoreDriverMemory {
			return fmt.Errorf("store.driver memory is not durable and cannot be used in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("http.cors_allow_origins cannot be '*' in production")
			}
		}
	}
	return nil
}

// DSN returns the Postgres connection string with escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
