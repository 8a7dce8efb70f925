package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "/api/v1", cfg.Server.BasePath)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, int64(10<<20), cfg.Uploads.MaxBytes)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.True(t, cfg.Uploads.AllowsMime("image/PNG"))
	assert.False(t, cfg.Uploads.AllowsMime("application/x-msdownload"))
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: 0.0.0.0:9000
auth:
  jwt_secret: s3cret
  access_ttl: 5m
uploads:
  max_bytes: 2048
  allowed_mime_types: [text/plain]
webhooks:
  - url: http://hooks.local/flowboard
    events: ["issue.*"]
`))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "/api/v1", cfg.Server.BasePath, "untouched keys keep their default")
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, int64(2048), cfg.Uploads.MaxBytes)
	assert.False(t, cfg.Uploads.AllowsMime("image/png"))
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"issue.*"}, cfg.Webhooks[0].Events)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad driver":        "database:\n  driver: mysql\n",
		"pgx without dsn":   "database:\n  driver: pgx\n",
		"relative base":     "server:\n  base_path: api\n",
		"short refresh":     "auth:\n  access_ttl: 2h\n  refresh_ttl: 1h\n",
		"minio no bucket":   "uploads:\n  backend: minio\n",
		"zero upload limit": "uploads:\n  max_bytes: 0\n",
		"webhook no url":    "webhooks:\n  - events: [\"*\"]\n",
		"log format":        "log:\n  format: xml\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
	_, err := FromYAML([]byte("server: ["))
	assert.ErrorContains(t, err, "invalid config yaml")
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowboard.yml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n  format: json\n"), 0o644))
	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	out, err := cfg.Marshal()
	require.NoError(t, err)
	again, err := FromYAML(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.Log, again.Log)
}
