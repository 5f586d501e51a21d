package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/prismdkg/prism"
	"github.com/prismdkg/prism/adapters/httpnode"
)

const (
	envPrefix      = "PRISM"
	configFileName = "config"
	keyFileName    = "node.key"
)

type logConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// nodeFileConfig is the full node configuration as read by viper.
type nodeFileConfig struct {
	Home string           `mapstructure:"home"`
	Node prism.NodeConfig `mapstructure:"node"`
	HTTP httpnode.Config  `mapstructure:"http"`
	Log  logConfig        `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	node := prism.DefaultNodeConfig()
	v.SetDefault("node.threshold", node.Threshold)
	v.SetDefault("node.freshness_window", node.FreshnessWindow)
	v.SetDefault("node.token_window", node.TokenWindow)
	v.SetDefault("node.sweep_interval", node.SweepInterval)

	httpCfg := httpnode.DefaultConfig()
	v.SetDefault("http.addr", httpCfg.Addr)
	v.SetDefault("http.read_timeout", httpCfg.ReadTimeout)
	v.SetDefault("http.write_timeout", httpCfg.WriteTimeout)
	v.SetDefault("http.idle_timeout", httpCfg.IdleTimeout)
	v.SetDefault("http.requests_per_minute", httpCfg.RequestsPerMinute)
	v.SetDefault("http.burst", httpCfg.Burst)
	v.SetDefault("http.throttle_idle", httpCfg.ThrottleIdle)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// loadConfig reads <home>/config.{yaml,toml,json} when present, then
// PRISM_* environment variables, then bound flags.
func loadConfig(v *viper.Viper) (*nodeFileConfig, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home := v.GetString("home")
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		home = filepath.Join(dir, ".prism")
		v.Set("home", home)
	}

	v.SetConfigName(configFileName)
	v.AddConfigPath(home)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg nodeFileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Node.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(cfg logConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var w io.Writer = os.Stdout
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
