package config

import (
	"time"

	"github.com/jmcleod/coursegate/security"
)

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields. It runs after parsing and before
// validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8443
	}
	if cfg.Server.ReadHeaderTimeout.Duration == 0 {
		cfg.Server.ReadHeaderTimeout.Duration = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout.Duration == 0 {
		cfg.Server.ShutdownTimeout.Duration = 15 * time.Second
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "bbolt"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = security.DefaultIssuer
	}
	if cfg.Auth.TokenTTL.Duration == 0 {
		cfg.Auth.TokenTTL.Duration = security.DefaultTokenTTL
	}
	if cfg.Auth.LookupTimeout.Duration == 0 {
		cfg.Auth.LookupTimeout.Duration = security.DefaultLookupTimeout
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 12
	}
	if cfg.Auth.AttemptRetention.Duration == 0 {
		cfg.Auth.AttemptRetention.Duration = 30 * 24 * time.Hour
	}

	if cfg.Security.SweepInterval.Duration == 0 {
		cfg.Security.SweepInterval.Duration = security.DefaultSweepInterval
	}
	if cfg.Security.CSRFTTL.Duration == 0 {
		cfg.Security.CSRFTTL.Duration = security.DefaultCSRFTTL
	}
	if cfg.Security.AlertThreshold == 0 {
		cfg.Security.AlertThreshold = 50
	}
	if cfg.Security.AlertWindow.Duration == 0 {
		cfg.Security.AlertWindow.Duration = 5 * time.Minute
	}

	if cfg.Activity.Sink == "" {
		cfg.Activity.Sink = "store"
	}
	if cfg.Activity.QueueSize == 0 {
		cfg.Activity.QueueSize = 1024
	}

	if cfg.Reload.Debounce.Duration == 0 {
		cfg.Reload.Debounce.Duration = 500 * time.Millisecond
	}
}
