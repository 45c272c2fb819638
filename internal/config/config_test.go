// File: internal/config/config_test.go
package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://login.live.com/login.srf", cfg.Login.SignInURL)
	assert.Equal(t, 3, cfg.Login.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Login.BackoffMin)
	assert.Equal(t, 15*time.Minute, cfg.Login.BackoffMax)
	assert.Equal(t, 40*time.Second, cfg.Login.SurfaceSettleMin)
	assert.Equal(t, 60*time.Second, cfg.Login.SurfaceSettleMax)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "file", cfg.Registry.Backend)
	assert.Equal(t, 993, cfg.Mailbox.IMAP.Port)
	assert.True(t, cfg.Mailbox.IMAP.TLS)
}

func TestValidate_Rejections(t *testing.T) {
	t.Run("non-positive attempts", func(t *testing.T) {
		cfg := defaultConfig(t)
		cfg.Login.MaxAttempts = 0
		assert.ErrorContains(t, cfg.Validate(), "max_attempts")
	})

	t.Run("inverted backoff window", func(t *testing.T) {
		cfg := defaultConfig(t)
		cfg.Login.BackoffMin = 15 * time.Minute
		cfg.Login.BackoffMax = 10 * time.Minute
		assert.ErrorContains(t, cfg.Validate(), "backoff_max")
	})

	t.Run("inverted settle window", func(t *testing.T) {
		cfg := defaultConfig(t)
		cfg.Login.SurfaceSettleMin = time.Minute
		cfg.Login.SurfaceSettleMax = time.Second
		assert.ErrorContains(t, cfg.Validate(), "surface_settle_max")
	})

	t.Run("unknown registry backend", func(t *testing.T) {
		cfg := defaultConfig(t)
		cfg.Registry.Backend = "redis"
		assert.ErrorContains(t, cfg.Validate(), "registry.backend")
	})
}

func TestValidate_ExpandsHomePaths(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Registry.FilePath = "~/.loginpilot/accounts.json"
	require.NoError(t, cfg.Validate())

	assert.False(t, strings.HasPrefix(cfg.Registry.FilePath, "~"))
	assert.True(t, filepath.IsAbs(cfg.Registry.FilePath))
}

func TestValidate_AcceptsDisabledRegistry(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Registry.Backend = "none"
	assert.NoError(t, cfg.Validate())
}
