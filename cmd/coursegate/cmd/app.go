package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/coursegate/activity"
	"github.com/jmcleod/coursegate/api"
	"github.com/jmcleod/coursegate/attemptlog"
	"github.com/jmcleod/coursegate/config"
	"github.com/jmcleod/coursegate/identity"
	"github.com/jmcleod/coursegate/internal/util"
	"github.com/jmcleod/coursegate/security"
	"github.com/jmcleod/coursegate/storage"
	bboltstorage "github.com/jmcleod/coursegate/storage/bbolt"
	"github.com/jmcleod/coursegate/storage/memory"
)

const (
	signingKeyEnv  = "COURSEGATE_SIGNING_KEY"
	dbFileName     = "coursegate.db"
	pruneInterval  = time.Hour
	closeTimeout   = 5 * time.Second
	bboltOpenLimit = 2 * time.Second
)

var errSigningKeyTooShort = errors.New("signing key must be at least 32 bytes")

// openRepository opens the configured storage backend. The returned close
// func is never nil.
func openRepository(cfg *config.Config) (storage.Repository, func() error, error) {
	if cfg.Storage.Backend == "memory" {
		return memory.NewRepository(), func() error { return nil }, nil
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(
		filepath.Join(cfg.Storage.DataDir, dbFileName),
		&bbolt.Options{Timeout: bboltOpenLimit})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage (is a server already running?): %w", err)
	}
	return repo, repo.Close, nil
}

// signingKey resolves the token signing secret: the environment first,
// then the key file, then a random key that only lives for this process.
func signingKey(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if v := os.Getenv(signingKeyEnv); v != "" {
		if len(v) < 32 {
			return nil, fmt.Errorf("%s: %w", signingKeyEnv, errSigningKeyTooShort)
		}
		return []byte(v), nil
	}
	if path := cfg.Auth.SigningKeyFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading signing key: %w", err)
		}
		key := []byte(strings.TrimSpace(string(data)))
		util.WipeBytes(data)
		if len(key) < 32 {
			return nil, fmt.Errorf("%s: %w", path, errSigningKeyTooShort)
		}
		return key, nil
	}
	logger.Warn("no signing key configured; using an ephemeral key, tokens will not survive a restart",
		"env", signingKeyEnv)
	return util.RandomBytes(32)
}

// app is the wired server: every collaborator of the pipeline and API plus
// the background workers that must be stopped on shutdown.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	handler  http.Handler
	pipeline *security.Pipeline
	sweeper  *security.Sweeper
	activity *activity.Dispatcher
	attempts *attemptlog.RepositoryLog
	closers  []func() error
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []func() error{closeRepo}}

	secret, err := signingKey(cfg, logger)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	defer util.WipeBytes(secret)

	users := identity.NewRepositoryStore(repo, identity.WithBcryptCost(cfg.Auth.BcryptCost))
	perms := security.NewPermissionResolver(users)
	a.attempts = attemptlog.NewRepositoryLog(repo)

	var sessions security.SessionStore
	if cfg.Storage.Backend == "memory" {
		ms := security.NewMemorySessionStore(nil)
		ms.StartCleanup(0)
		a.closers = append(a.closers, func() error { ms.Close(); return nil })
		sessions = ms
	} else {
		rs := security.NewRepositorySessionStore(repo, logger)
		a.closers = append(a.closers, func() error { rs.Close(); return nil })
		sessions = rs
	}

	tokens, err := security.NewTokenService(secret, sessions, users, perms,
		security.WithIssuer(cfg.Auth.Issuer),
		security.WithTokenTTL(cfg.Auth.TokenTTL.Duration),
		security.WithLookupTimeout(cfg.Auth.LookupTimeout.Duration))
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	metrics := security.NewMetrics()
	store := security.NewStore(cfg.Security.CSRFTTL.Duration, nil)

	var sink activity.Sink
	var repoSink *activity.RepositorySink
	if cfg.Activity.Sink == "store" {
		repoSink = activity.NewRepositorySink(repo)
		sink = repoSink
	} else {
		sink = activity.NewLogSink(logger)
	}
	a.activity = activity.NewDispatcher(sink,
		activity.WithQueueSize(cfg.Activity.QueueSize),
		activity.WithLogger(logger),
		activity.WithHooks(metrics.ActivityDropped, metrics.ActivityFailed))

	proxies, err := security.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	a.pipeline = security.NewPipeline(security.PipelineConfig{
		Store:          store,
		Tokens:         tokens,
		BruteForce:     security.NewBruteForceGuard(a.attempts, store.BruteForce, logger, nil),
		Activity:       a.activity,
		Metrics:        metrics,
		Logger:         logger,
		TrustedProxies: proxies,
	})
	a.applyOverrides(cfg)
	a.sweeper = security.NewSweeper(store, cfg.Security.SweepInterval.Duration, logger, metrics.ObserveSweep)

	handlers := api.New(api.Deps{
		Users:    users,
		Perms:    perms,
		Tokens:   tokens,
		Pipeline: a.pipeline,
		Store:    store,
		Attempts: a.attempts,
		Activity: repoSink,
		Metrics:  metrics,
	},
		api.WithLogger(logger),
		api.WithAlerts(func(e api.AlertEvent) {
			logger.Warn("security alert", "type", e.Type, "message", e.Message,
				"count", e.Count, "threshold", e.Threshold)
		}, cfg.Security.AlertThreshold, cfg.Security.AlertWindow.Duration))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Group(func(r chi.Router) {
		r.Use(security.SecurityHeaders(proxies))
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", metrics.Handler())
	})
	r.Mount("/api/v1", handlers.Router())
	a.handler = r
	return a, nil
}

// applyOverrides installs cfg's route overrides, warning about names no
// route uses.
func (a *app) applyOverrides(cfg *config.Config) {
	known := api.Policies()
	var unknown []string
	for name := range cfg.Security.Routes {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		a.logger.Warn("config overrides name unknown routes", "routes", unknown)
	}
	a.pipeline.SetOverrides(cfg.Overrides())
}

// start launches the background workers.
func (a *app) start(ctx context.Context) {
	a.sweeper.Start(ctx)
	go a.pruneLoop(ctx)
}

// pruneLoop drops attempts older than the retention period.
func (a *app) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pruneAttempts(ctx)
		}
	}
}

func (a *app) pruneAttempts(ctx context.Context) int {
	cutoff := time.Now().Add(-a.cfg.Auth.AttemptRetention.Duration)
	n, err := a.attempts.Prune(ctx, cutoff)
	if err != nil {
		a.logger.Error("pruning attempt log failed", "error", err)
		return 0
	}
	if n > 0 {
		a.logger.Info("pruned attempt log", "removed", n, "before", cutoff)
	}
	return n
}

// close stops workers, flushes queued activity and releases storage, in
// that order.
func (a *app) close(ctx context.Context) {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.activity != nil {
		if err := a.activity.Close(ctx); err != nil {
			a.logger.Warn("activity queue not fully flushed", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("close failed", "error", err)
		}
	}
}
