package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "openai", cfg.Providers.TextProvider)
	assert.Equal(t, "omni-moderation-latest", cfg.Providers.OpenAI.Model)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Providers.Vision.Timeout)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9000
  environment: production
providers:
  text_provider: deepseek
  deepseek:
    api_key: sk-test
database:
  host: db.internal
  max_open_conns: 50
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.True(t, cfg.Server.IsProduction())
	assert.Equal(t, "deepseek", cfg.Providers.TextProvider)
	assert.Equal(t, "sk-test", cfg.Providers.DeepSeek.APIKey)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
	// 文件未覆盖的字段保持默认
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, "deepseek-chat", cfg.Providers.DeepSeek.Model)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map")
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9000
`)
	t.Setenv("CONTENTGUARD_SERVER_HTTP_PORT", "7070")
	t.Setenv("CONTENTGUARD_PROVIDERS_OPENAI_API_KEY", "sk-env")
	t.Setenv("CONTENTGUARD_SERVER_READ_TIMEOUT", "45s")
	t.Setenv("CONTENTGUARD_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort, "env wins over file")
	assert.Equal(t, "sk-env", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"},
		cfg.Server.CORSAllowedOrigins)
}

func TestLoadWithValidator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		return assert.AnError
	}).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.Server.HTTPPort = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Providers.TextProvider = "watson"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Server.Environment = "staging"
	assert.Error(t, bad.Validate())

	// 生产环境缺 JWT 密钥
	prod := DefaultConfig()
	prod.Server.Environment = "production"
	assert.Error(t, prod.Validate())
	prod.Auth.JWTSecret = "secret"
	assert.NoError(t, prod.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "cg", Password: "pw", Name: "contentguard", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db port=5432 user=cg password=pw dbname=contentguard sslmode=require",
		pg.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "local.db"}
	assert.Equal(t, "local.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Empty(t, unknown.DSN())
}
