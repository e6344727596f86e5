// Package config loads the coursegate YAML configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/coursegate/security"
)

// Config is the root of the configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
	Security SecurityConfig `yaml:"security"`
	Activity ActivityConfig `yaml:"activity"`
	Reload   ReloadConfig   `yaml:"reload"`
}

type ServerConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	TLSCert           string   `yaml:"tls_cert"`
	TLSKey            string   `yaml:"tls_key"`
}

// StorageConfig selects the record backend. "bbolt" keeps data in
// DataDir; "memory" loses everything on exit.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	Issuer         string   `yaml:"issuer"`
	TokenTTL       Duration `yaml:"token_ttl"`
	LookupTimeout  Duration `yaml:"lookup_timeout"`
	SigningKeyFile string   `yaml:"signing_key_file"`
	BcryptCost     int      `yaml:"bcrypt_cost"`
	// AttemptRetention is how long login attempts are kept before pruning.
	AttemptRetention Duration `yaml:"attempt_retention"`
}

type SecurityConfig struct {
	SweepInterval Duration `yaml:"sweep_interval"`
	CSRFTTL       Duration `yaml:"csrf_ttl"`
	// AlertThreshold login failures inside AlertWindow raise an alert.
	AlertThreshold int                      `yaml:"alert_threshold"`
	AlertWindow    Duration                 `yaml:"alert_window"`
	Routes         map[string]RouteOverride `yaml:"routes"`
}

// RouteOverride adjusts one route's policy. Omitted fields keep the
// route's defaults.
type RouteOverride struct {
	RateLimitCheck   *bool     `yaml:"rate_limit_check"`
	CSRFCheck        *bool     `yaml:"csrf_check"`
	TokenCheck       *bool     `yaml:"token_check"`
	BruteForceCheck  *bool     `yaml:"brute_force_check"`
	PermissionCheck  *bool     `yaml:"permission_check"`
	RateLimit        *int      `yaml:"rate_limit"`
	RateWindow       *Duration `yaml:"rate_window"`
	BruteForceMax    *int      `yaml:"brute_force_max"`
	BruteForceWindow *Duration `yaml:"brute_force_window"`
}

type ActivityConfig struct {
	// Sink is "store" (persist to the repository) or "log".
	Sink      string `yaml:"sink"`
	QueueSize int    `yaml:"queue_size"`
}

type ReloadConfig struct {
	WatchFile bool     `yaml:"watch_file"`
	Debounce  Duration `yaml:"debounce"`
}

// Duration is a time.Duration written as "90s" or "15m" in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

func durationPtr(d *Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := d.Duration
	return &v
}

// Override converts o to the pipeline's override type.
func (o RouteOverride) Override() security.Override {
	return security.Override{
		RateLimitCheck:   o.RateLimitCheck,
		CSRFCheck:        o.CSRFCheck,
		TokenCheck:       o.TokenCheck,
		BruteForceCheck:  o.BruteForceCheck,
		PermissionCheck:  o.PermissionCheck,
		RateLimit:        o.RateLimit,
		RateWindow:       durationPtr(o.RateWindow),
		BruteForceMax:    o.BruteForceMax,
		BruteForceWindow: durationPtr(o.BruteForceWindow),
	}
}

// Overrides returns the per-route overrides keyed by route name.
func (c *Config) Overrides() map[string]security.Override {
	out := make(map[string]security.Override, len(c.Security.Routes))
	for name, o := range c.Security.Routes {
		out[name] = o.Override()
	}
	return out
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load reads, parses, applies defaults to and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewLogger builds the process logger described by l.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
