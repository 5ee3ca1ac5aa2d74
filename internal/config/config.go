package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // "development" or "production"
}

// DatabaseConfig holds metadata database configuration
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`            // "sqlite" or "postgres"
	DSN             string `mapstructure:"dsn"`               // Connection string
	Name            string `mapstructure:"name"`              // Database name, appended to keyword DSNs
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`    // Maximum idle connections (Postgres)
	MaxOpenConns    int    `mapstructure:"max_open_conns"`    // Maximum open connections (Postgres)
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // Connection max lifetime in minutes (Postgres)
	LogLevel        string `mapstructure:"log_level"`         // gorm log level; empty inherits log.level
}

// StorageConfig holds file store configuration
type StorageConfig struct {
	Backend    string   `mapstructure:"backend"`     // "local" or "s3"; empty derives from server.mode
	UploadsDir string   `mapstructure:"uploads_dir"` // Local backend directory
	S3         S3Config `mapstructure:"s3"`
}

// S3Config holds object storage configuration
type S3Config struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"` // Custom endpoint (MinIO etc.), path-style addressing
}

// LogConfig holds logging configuration
type LogConfig struct {
	Format     string `mapstructure:"format"` // "json" or "text"
	Level      string `mapstructure:"level"`  // "debug", "info", "warn", "error"
	File       string `mapstructure:"file"`   // Optional rotating log file
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// legacyEnv maps config keys to the environment variable names used by
// existing deployments.
var legacyEnv = map[string][]string{
	"server.port":                  {"PORT"},
	"server.mode":                  {"NODE_ENV"},
	"database.dsn":                 {"DATABASE_URL"},
	"database.name":                {"DATABASE_NAME"},
	"storage.s3.region":            {"AWS_REGION"},
	"storage.s3.access_key_id":     {"AWS_ACCESS_KEY_ID"},
	"storage.s3.secret_access_key": {"AWS_SECRET_ACCESS_KEY"},
	"storage.s3.bucket":            {"AWS_S3_BUCKET"},
}

const envPrefix = "TEMPLATES"

// Load reads configuration from .env, config file and environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/canvas-templates/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.mode", "development")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./templates.db")
	v.SetDefault("database.name", "")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60) // 60 minutes
	v.SetDefault("database.log_level", "")
	v.SetDefault("storage.backend", "")
	v.SetDefault("storage.uploads_dir", "./uploads")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("cors.allowed_origins", []string{"*"})
}

// StorageBackend returns the effective file store backend. Production
// deployments use object storage unless a backend is set explicitly.
func (c *Config) StorageBackend() string {
	if c.Storage.Backend != "" {
		return strings.ToLower(c.Storage.Backend)
	}
	if c.Server.Mode == "production" {
		return BackendS3
	}
	return BackendLocal
}

// ConnString returns the database connection string with the configured database
// name applied to keyword/value postgres DSNs.
func (d DatabaseConfig) ConnString() string {
	if d.Name == "" || (d.Driver != "postgres" && d.Driver != "postgresql") {
		return d.DSN
	}
	if strings.Contains(d.DSN, "://") || strings.Contains(d.DSN, "dbname=") {
		return d.DSN
	}
	return strings.TrimSpace(d.DSN + " dbname=" + d.Name)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", c.Database.Driver)
	}

	switch c.StorageBackend() {
	case BackendLocal:
		if c.Storage.UploadsDir == "" {
			return fmt.Errorf("storage.uploads_dir is required for the local backend")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (supported: local, s3)", c.Storage.Backend)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return nil
}
