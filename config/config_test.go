package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axisimaging/dicomweb/config"
)

func TestLoad_Defaults(t *testing.T) {
	// Load with no config files should use defaults
	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 8042, cfg.Server.Port)
	assert.Equal(t, "", cfg.Server.PathPrefix)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "dicomweb.db", cfg.Database.DSN)
	assert.Equal(t, "./data", cfg.Storage.Path)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "reject", cfg.Store.DuplicatePolicy)
	assert.True(t, cfg.Store.ValidateUIDs)
	assert.True(t, cfg.Compression.Enabled)
	assert.Equal(t, 1024, cfg.Compression.MinSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	// Create a temp config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
  path_prefix: /dicom-web
database:
  type: postgres
  dsn: postgres://localhost/test
storage:
  path: /tmp/storage
auth:
  enabled: true
  issuer: https://idp.example.com
  audience: dicomweb
store:
  duplicate_policy: replace
  validate_uids: false
log:
  level: debug
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.Load([]string{configPath}, nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/dicom-web", cfg.Server.PathPrefix)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "postgres://localhost/test", cfg.Database.DSN)
	assert.Equal(t, "/tmp/storage", cfg.Storage.Path)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "https://idp.example.com", cfg.Auth.Issuer)
	assert.Equal(t, "dicomweb", cfg.Auth.Audience)
	assert.Equal(t, "replace", cfg.Store.DuplicatePolicy)
	assert.False(t, cfg.Store.ValidateUIDs)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFileMerge(t *testing.T) {
	tmpDir := t.TempDir()

	// Base config
	basePath := filepath.Join(tmpDir, "base.yaml")
	baseContent := `
server:
  port: 8042
database:
  type: sqlite
  dsn: dicomweb.db
storage:
  path: ./data
store:
  duplicate_policy: reject
log:
  level: info
`
	err := os.WriteFile(basePath, []byte(baseContent), 0o644)
	require.NoError(t, err)

	// Override config
	overridePath := filepath.Join(tmpDir, "override.yaml")
	overrideContent := `
server:
  port: 9000
store:
  duplicate_policy: accept
`
	err = os.WriteFile(overridePath, []byte(overrideContent), 0o644)
	require.NoError(t, err)

	// Load with merge (later files override earlier)
	cfg, err := config.Load([]string{basePath, overridePath}, nil)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "accept", cfg.Store.DuplicatePolicy)

	// Preserved values from base
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "./data", cfg.Storage.Path)
}

func TestLoad_ValidationError_InvalidPort(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 99999
database:
  type: sqlite
  dsn: dicomweb.db
storage:
  path: ./data
log:
  level: info
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	_, err = config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_ValidationError_InvalidDuplicatePolicy(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8042
database:
  type: sqlite
  dsn: dicomweb.db
storage:
  path: ./data
store:
  duplicate_policy: keep-both
log:
  level: info
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	_, err = config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_ValidationError_InvalidLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8042
database:
  type: sqlite
  dsn: dicomweb.db
storage:
  path: ./data
log:
  level: verbose
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	_, err = config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_WithAuthKeys(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8042
database:
  type: sqlite
  dsn: dicomweb.db
storage:
  path: ./data
auth:
  enabled: true
  required_claims:
    - sub
    - scope
  keys:
    default: topsecret
    kid-2024: rotated-secret
log:
  level: info
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.Load([]string{configPath}, nil)
	require.NoError(t, err)

	require.Len(t, cfg.Auth.Keys, 2)
	assert.Equal(t, "topsecret", cfg.Auth.Keys["default"])
	assert.Equal(t, "rotated-secret", cfg.Auth.Keys["kid-2024"])
	assert.Equal(t, []string{"sub", "scope"}, cfg.Auth.RequiredClaims)
}

func TestLoad_WithCORS(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8042
database:
  type: sqlite
  dsn: dicomweb.db
storage:
  path: ./data
log:
  level: info
cors:
  enabled: true
  allowed_origins:
    - https://viewer.example.com
    - https://app.example.com
  allowed_methods:
    - GET
    - POST
  allowed_headers:
    - Content-Type
    - Authorization
  max_age: 600
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.Load([]string{configPath}, nil)
	require.NoError(t, err)

	assert.True(t, cfg.CORS.Enabled)
	assert.Equal(t, []string{"https://viewer.example.com", "https://app.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"GET", "POST"}, cfg.CORS.AllowedMethods)
	assert.Equal(t, []string{"Content-Type", "Authorization"}, cfg.CORS.AllowedHeaders)
	assert.Equal(t, 600, cfg.CORS.MaxAge)
}

func TestLoad_WithCompression(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8042
database:
  type: sqlite
  dsn: dicomweb.db
storage:
  path: ./data
log:
  level: info
compression:
  enabled: true
  min_size: 4096
  excluded_types:
    - image/jpeg
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.Load([]string{configPath}, nil)
	require.NoError(t, err)

	assert.True(t, cfg.Compression.Enabled)
	assert.Equal(t, 4096, cfg.Compression.MinSize)
	assert.Equal(t, []string{"image/jpeg"}, cfg.Compression.ExcludedTypes)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// Set environment variables
	t.Setenv("DICOMWEB_SERVER_PORT", "9090")
	t.Setenv("DICOMWEB_DATABASE_TYPE", "postgres")
	t.Setenv("DICOMWEB_STORE_DUPLICATE_POLICY", "accept")

	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "accept", cfg.Store.DuplicatePolicy)
}
