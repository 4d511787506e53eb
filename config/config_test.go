package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbridge/vault"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Mail.ConnectTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.Mail.SubmitTimeout.Duration)
	assert.Equal(t, 50, cfg.Mail.DefaultPageSize)
	assert.True(t, cfg.Mail.SanitizeHTML)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 8080

[vault]
key = "`+testKey+`"

[jwt]
secret = "s3cret"
ttl = "2h"

[mail]
command_timeout = "90s"
sanitize_html = false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, testKey, cfg.Vault.Key)
	assert.Equal(t, 2*time.Hour, cfg.JWT.TTL.Duration)
	assert.Equal(t, 90*time.Second, cfg.Mail.CommandTimeout.Duration)
	assert.False(t, cfg.Mail.SanitizeHTML)
	// untouched keys keep their defaults
	assert.Equal(t, 15*time.Second, cfg.Mail.GreetingTimeout.Duration)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := writeConfig(t, "[mail]\nconnect_timeout = \"soon\"\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, testKey, cfg.Vault.Key)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)

	t.Setenv("PORT", "nope")
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.JWT.Secret = "x"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrNoKey))

	cfg.Vault.Key = strings.Repeat("zz", 32)
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrMalformedKey))

	cfg.Vault.Key = testKey
	require.NoError(t, cfg.Validate())

	cfg.JWT.Secret = ""
	assert.Error(t, cfg.Validate())
}
