package prism

import (
	"time"
)

const (
	// DefaultFreshnessWindow bounds how far share timestamps may drift from
	// the round median and how long a session may live.
	DefaultFreshnessWindow = 30 * time.Minute
	// DefaultTokenWindow is the TranToken on-time tolerance.
	DefaultTokenWindow   = time.Hour
	DefaultThreshold     = 2
	DefaultSweepInterval = time.Minute
	DefaultRoundTimeout  = 30 * time.Second
)

// NodeConfig holds the protocol parameters of a node
type NodeConfig struct {
	Threshold       int           `mapstructure:"threshold"`
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	TokenWindow     time.Duration `mapstructure:"token_window"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// DefaultNodeConfig returns the protocol defaults
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Threshold:       DefaultThreshold,
		FreshnessWindow: DefaultFreshnessWindow,
		TokenWindow:     DefaultTokenWindow,
		SweepInterval:   DefaultSweepInterval,
	}
}

// Validate checks the configuration values
func (c NodeConfig) Validate() error {
	if c.Threshold < 1 {
		return ErrInvalidRequest.WithDetails("threshold must be at least 1, got %d", c.Threshold)
	}
	if c.FreshnessWindow <= 0 {
		return ErrInvalidRequest.WithDetails("freshness window must be positive")
	}
	if c.TokenWindow <= 0 {
		return ErrInvalidRequest.WithDetails("token window must be positive")
	}
	return nil
}

// ClientConfig holds orchestrator parameters
type ClientConfig struct {
	// RoundTimeout bounds each fan-out round; zero disables the bound.
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
	// Threshold is the sharing threshold the nodes were configured with. It
	// is used to validate the node list.
	Threshold int `mapstructure:"threshold"`
}

// DefaultClientConfig returns orchestrator defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RoundTimeout: DefaultRoundTimeout,
		Threshold:    DefaultThreshold,
	}
}
