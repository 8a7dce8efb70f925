package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models flowboard.yml.
type Config struct {
	Server struct {
		Addr        string   `yaml:"addr"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     struct {
		JWTSecret        string        `yaml:"jwt_secret"`
		AccessTTL        time.Duration `yaml:"access_ttl"`
		RefreshTTL       time.Duration `yaml:"refresh_ttl"`
		ResetTTL         time.Duration `yaml:"reset_ttl"`
		BcryptCost       int           `yaml:"bcrypt_cost"`
		ExposeResetToken bool          `yaml:"expose_reset_token"`
	} `yaml:"auth"`
	Uploads       UploadsConfig `yaml:"uploads"`
	Notifications struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		Retention    time.Duration `yaml:"retention"`
	} `yaml:"notifications"`
	Jobs struct {
		WebhookSchedule   string `yaml:"webhook_schedule"`
		RetentionSchedule string `yaml:"retention_schedule"`
	} `yaml:"jobs"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Log      LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Workspace string `yaml:"workspace"`
}

type UploadsConfig struct {
	Backend          string   `yaml:"backend"`
	Dir              string   `yaml:"dir"`
	MaxBytes         int64    `yaml:"max_bytes"`
	AllowedMimeTypes []string `yaml:"allowed_mime_types"`
	Minio            struct {
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration. The JWT secret is left empty on purpose
// and must come from the file or FLOWBOARD_AUTH_JWT_SECRET.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses raw YAML on top of the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Database.Driver {
	case "sqlite":
	case "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for driver pgx")
		}
	default:
		return fmt.Errorf("config.database.driver must be 'sqlite' or 'pgx'")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.ResetTTL <= 0 {
		return fmt.Errorf("config.auth token ttls must be positive")
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		return fmt.Errorf("config.auth.refresh_ttl must not be shorter than access_ttl")
	}
	switch c.Uploads.Backend {
	case "local":
		if c.Uploads.Dir == "" {
			return fmt.Errorf("config.uploads.dir is required for backend local")
		}
	case "minio":
		if c.Uploads.Minio.Endpoint == "" || c.Uploads.Minio.Bucket == "" {
			return fmt.Errorf("config.uploads.minio endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("config.uploads.backend must be 'local' or 'minio'")
	}
	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("config.uploads.max_bytes must be positive")
	}
	if c.Notifications.PingInterval <= 0 || c.Notifications.WriteTimeout <= 0 {
		return fmt.Errorf("config.notifications intervals must be positive")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config.log.format must be 'console' or 'json'")
	}
	return nil
}

// AllowsMime reports whether uploads of the given content type are accepted.
func (u UploadsConfig) AllowsMime(mime string) bool {
	for _, m := range u.AllowedMimeTypes {
		if strings.EqualFold(m, mime) {
			return true
		}
	}
	return false
}

// Marshal renders the config back to YAML, secrets included.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api/v1
  cors_origins: []

database:
  driver: sqlite
  workspace: .

auth:
  access_ttl: 15m
  refresh_ttl: 168h
  reset_ttl: 1h
  bcrypt_cost: 10
  expose_reset_token: false

uploads:
  backend: local
  dir: uploads
  max_bytes: 10485760
  allowed_mime_types:
    - image/jpeg
    - image/png
    - image/gif
    - image/webp
    - application/pdf
    - text/plain
    - application/zip
    - application/vnd.openxmlformats-officedocument.wordprocessingml.document
    - application/vnd.openxmlformats-officedocument.spreadsheetml.sheet

notifications:
  ping_interval: 20s
  write_timeout: 10s
  retention: 720h

jobs:
  webhook_schedule: "@every 5s"
  retention_schedule: "@daily"

log:
  level: info
  format: console
`
