package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/coursegate/security"
)

// Validate checks cfg and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535 (got %d)", cfg.Server.Port))
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs = append(errs, "server.tls_cert and server.tls_key must be set together")
	}
	if _, err := security.ParseTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		errs = append(errs, "server.trusted_proxies: "+err.Error())
	}

	switch cfg.Storage.Backend {
	case "bbolt", "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be bbolt or memory (got %q)", cfg.Storage.Backend))
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format must be json or text (got %q)", cfg.Logging.Format))
	}

	if cfg.Auth.TokenTTL.Duration < 0 {
		errs = append(errs, "auth.token_ttl must be positive")
	}
	if cfg.Auth.LookupTimeout.Duration < 0 {
		errs = append(errs, "auth.lookup_timeout must be positive")
	}
	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Sprintf("auth.bcrypt_cost must be %d-%d", bcrypt.MinCost, bcrypt.MaxCost))
	}

	if cfg.Security.SweepInterval.Duration < 0 {
		errs = append(errs, "security.sweep_interval must be positive")
	}
	if cfg.Security.CSRFTTL.Duration < 0 {
		errs = append(errs, "security.csrf_ttl must be positive")
	}

	names := make([]string, 0, len(cfg.Security.Routes))
	for name := range cfg.Security.Routes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		o := cfg.Security.Routes[name]
		if o.RateLimit != nil && *o.RateLimit <= 0 {
			errs = append(errs, fmt.Sprintf("security.routes.%s.rate_limit must be positive", name))
		}
		if o.RateWindow != nil && o.RateWindow.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("security.routes.%s.rate_window must be positive", name))
		}
		if o.BruteForceMax != nil && *o.BruteForceMax <= 0 {
			errs = append(errs, fmt.Sprintf("security.routes.%s.brute_force_max must be positive", name))
		}
		if o.BruteForceWindow != nil && o.BruteForceWindow.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("security.routes.%s.brute_force_window must be positive", name))
		}
	}

	switch cfg.Activity.Sink {
	case "store", "log":
	default:
		errs = append(errs, fmt.Sprintf("activity.sink must be store or log (got %q)", cfg.Activity.Sink))
	}
	if cfg.Activity.QueueSize < 0 {
		errs = append(errs, "activity.queue_size must be positive")
	}

	if len(errs) > 0 {
		return errors.New("invalid config:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
