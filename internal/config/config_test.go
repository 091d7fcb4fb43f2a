package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
environment: DEV
dev_mode_bypass: true
http:
  addr: ":9090"
  read_timeout: 5s
db:
  host: db.internal
  name: releases
auth:
  okta_domain: "https://example.okta.com/oauth2/default/"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "https://example.okta.com/oauth2/default", cfg.Auth.OktaDomain)
	assert.Equal(t, "workflow-activity", cfg.Archive.Bucket)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "db:\n  host: from-file\n")
	t.Setenv("WORKFLOWUP_DB_HOST", "from-env")
	t.Setenv("WORKFLOWUP_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.DB.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "environment: PROD\ndev_mode_bypass: true\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "dev_mode_bypass requires environment DEV")

	cfg.DevModeBypass = false
	cfg.Auth.OktaDomain = "https://example.okta.com"
	cfg.Auth.ClientID = "client"
	cfg.TLS.Enable = true
	assert.ErrorContains(t, cfg.Validate(), "tls.cert_file")

	cfg.TLS.Enable = false
	cfg.Archive.Endpoint = "http://minio:9000"
	assert.ErrorContains(t, cfg.Validate(), "archive.endpoint")
}
