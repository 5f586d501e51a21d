package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismdkg/prism"
)

func TestLoadConfigDefaults(t *testing.T) {
	home := t.TempDir()
	cv := viper.New()
	cv.Set("home", home)

	cfg, err := loadConfig(cv)
	require.NoError(t, err)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, prism.DefaultNodeConfig(), cfg.Node)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	home := t.TempDir()
	yaml := []byte("node:\n  threshold: 3\n  freshness_window: 10m\nhttp:\n  addr: \":9000\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), yaml, 0o600))
	t.Setenv("PRISM_HTTP_BURST", "7")

	cv := viper.New()
	cv.Set("home", home)
	cfg, err := loadConfig(cv)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Node.Threshold)
	assert.Equal(t, 10*time.Minute, cfg.Node.FreshnessWindow)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 7, cfg.HTTP.Burst)
}

func TestLoadConfigRejectsInvalidNode(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("node:\n  threshold: 0\n"), 0o600))

	cv := viper.New()
	cv.Set("home", home)
	_, err := loadConfig(cv)
	assert.ErrorIs(t, err, prism.ErrInvalidRequest)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(logConfig{Level: "debug", Format: "json"})
	assert.NoError(t, err)
	_, err = newLogger(logConfig{Level: "loud"})
	assert.Error(t, err)
}
