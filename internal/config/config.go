package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Events   EventsConfig   `mapstructure:"events"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Reports  ReportsConfig  `mapstructure:"reports"`
	Workers  WorkersConfig  `mapstructure:"workers"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database configuration. Driver selects the
// content store: postgres, sqlite or mongo.
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"db_name"`
	SSLMode        string        `mapstructure:"ssl_mode"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	MongoURI       string        `mapstructure:"mongo_uri"`
	MongoDatabase  string        `mapstructure:"mongo_database"`
	// ReportsReplicaURL points pipeline reports at a read replica; empty
	// means the primary.
	ReportsReplicaURL string `mapstructure:"reports_replica_url"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// EventsConfig selects the event bus; an empty NATSURL keeps events in process.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	ClientID      string `mapstructure:"client_id"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// RedisConfig enables the shared report cache when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkflowConfig struct {
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	ReadRetries  int           `mapstructure:"read_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	AuditBatch   int           `mapstructure:"audit_batch"`
	PublishBatch int           `mapstructure:"publish_batch"`
}

type ReportsConfig struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	DigestSchedule string        `mapstructure:"digest_schedule"`
	S3Bucket       string        `mapstructure:"s3_bucket"`
	S3Region       string        `mapstructure:"s3_region"`
	S3Endpoint     string        `mapstructure:"s3_endpoint"`
	S3Prefix       string        `mapstructure:"s3_prefix"`
	PresignTTL     time.Duration `mapstructure:"presign_ttl"`
}

type WorkersConfig struct {
	ConsistencySchedule string `mapstructure:"consistency_schedule"`
	AutoRepair          bool   `mapstructure:"auto_repair"`
	PublishSchedule     string `mapstructure:"publish_schedule"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", os.Getenv("USER"))
	v.SetDefault("database.db_name", "pyrus_portal")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_lifetime", "30m")
	v.SetDefault("database.sqlite_path", "portal.db")
	v.SetDefault("database.mongo_uri", "")
	v.SetDefault("database.mongo_database", "pyrus_portal")
	v.SetDefault("database.reports_replica_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "pyrus-portal")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.client_id", "portal-api")
	v.SetDefault("events.max_reconnects", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("workflow.store_timeout", "5s")
	v.SetDefault("workflow.read_retries", 2)
	v.SetDefault("workflow.retry_backoff", "100ms")
	v.SetDefault("workflow.audit_batch", 200)
	v.SetDefault("workflow.publish_batch", 100)

	v.SetDefault("reports.cache_ttl", "5m")
	v.SetDefault("reports.digest_schedule", "0 0 7 * * MON")
	v.SetDefault("reports.s3_bucket", "")
	v.SetDefault("reports.s3_region", "us-east-1")
	v.SetDefault("reports.s3_endpoint", "")
	v.SetDefault("reports.s3_prefix", "digests")
	v.SetDefault("reports.presign_ttl", "24h")

	v.SetDefault("workers.consistency_schedule", "0 */30 * * * *")
	v.SetDefault("workers.auto_repair", false)
	v.SetDefault("workers.publish_schedule", "0 * * * * *")
}

// LoadDotEnv loads .env.local and .env when present. Variables already set
// in the environment are never overwritten.
func LoadDotEnv() []string {
	var loaded []string
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}

// LoadConfig reads configuration from defaults, an optional config file and
// PORTAL_* environment variables, in increasing priority. A configPath may
// name a file or a directory holding config.yaml.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// SetConfigName clears an explicit config file, so the two are exclusive.
	if info, err := os.Stat(configPath); configPath != "" && err == nil && !info.IsDir() {
		v.SetConfigFile(configPath)
	} else {
		if configPath != "" {
			v.AddConfigPath(configPath)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite", "mongo":
	default:
		errs = append(errs, "database.driver must be one of: postgres, sqlite, mongo")
	}
	if cfg.Database.Driver == "mongo" && cfg.Database.MongoURI == "" {
		errs = append(errs, "database.mongo_uri is required for the mongo driver")
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "dev-secret-change-in-production"
	}
	if cfg.Auth.TokenTTL <= 0 {
		errs = append(errs, "auth.token_ttl must be positive")
	}
	if cfg.Workflow.StoreTimeout <= 0 {
		errs = append(errs, "workflow.store_timeout must be positive")
	}
	if cfg.Workflow.ReadRetries < 0 {
		errs = append(errs, "workflow.read_retries must not be negative")
	}
	levels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !levels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
