package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearLegacyEnv blanks legacy variables that may leak in from the host.
// Empty values are ignored by viper.
func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for _, names := range legacyEnv {
		for _, name := range names {
			t.Setenv(name, "")
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	clearLegacyEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Mode)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./uploads", cfg.Storage.UploadsDir)
	assert.Equal(t, BackendLocal, cfg.StorageBackend())
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_PrefixedEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TEMPLATES_SERVER_PORT", "8081")
	t.Setenv("TEMPLATES_STORAGE_S3_BUCKET", "prefixed-bucket")
	t.Setenv("TEMPLATES_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "prefixed-bucket", cfg.Storage.S3.Bucket)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "4000")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_S3_BUCKET", "canvas")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, BackendS3, cfg.StorageBackend())
	assert.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	assert.Equal(t, "canvas", cfg.Storage.S3.Bucket)
	assert.Equal(t, "AKIA", cfg.Storage.S3.AccessKeyID)
	assert.Equal(t, "secret", cfg.Storage.S3.SecretAccessKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TEMPLATES_STORAGE_UPLOADS_DIR=/srv/uploads\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("TEMPLATES_STORAGE_UPLOADS_DIR") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/uploads", cfg.Storage.UploadsDir)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "server:\n  port: 9000\nstorage:\n  backend: s3\n  s3:\n    bucket: from-file\n    region: us-east-1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, BackendS3, cfg.StorageBackend())
	assert.Equal(t, "from-file", cfg.Storage.S3.Bucket)
}

func TestStorageBackend(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		mode    string
		want    string
	}{
		{"development defaults to local", "", "development", BackendLocal},
		{"production defaults to s3", "", "production", BackendS3},
		{"explicit local wins in production", "local", "production", BackendLocal},
		{"explicit backend is case insensitive", "S3", "development", BackendS3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:  ServerConfig{Mode: tt.mode},
				Storage: StorageConfig{Backend: tt.backend},
			}
			assert.Equal(t, tt.want, cfg.StorageBackend())
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 3000, Mode: "development"},
			Database: DatabaseConfig{Driver: "sqlite", DSN: "x.db"},
			Storage:  StorageConfig{UploadsDir: "./uploads"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.Database.Driver = "mongodb" }, "unsupported database driver"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "gcs" }, "unsupported storage backend"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3"; c.Storage.S3.Region = "us-east-1" }, "bucket is required"},
		{"s3 without region", func(c *Config) { c.Storage.Backend = "s3"; c.Storage.S3.Bucket = "b" }, "region is required"},
		{"local without dir", func(c *Config) { c.Storage.UploadsDir = "" }, "uploads_dir is required"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{"sqlite ignores name", DatabaseConfig{Driver: "sqlite", DSN: "./t.db", Name: "canvas"}, "./t.db"},
		{"postgres keyword dsn gets dbname", DatabaseConfig{Driver: "postgres", DSN: "host=db user=u", Name: "canvas"}, "host=db user=u dbname=canvas"},
		{"postgres url untouched", DatabaseConfig{Driver: "postgres", DSN: "postgres://u@db/x", Name: "canvas"}, "postgres://u@db/x"},
		{"existing dbname wins", DatabaseConfig{Driver: "postgres", DSN: "host=db dbname=x", Name: "canvas"}, "host=db dbname=x"},
		{"no name", DatabaseConfig{Driver: "postgres", DSN: "host=db"}, "host=db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ConnString())
		})
	}
}
