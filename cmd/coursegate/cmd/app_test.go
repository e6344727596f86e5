package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/coursegate/config"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage.Backend = "memory"
	cfg.Auth.BcryptCost = 4
	return cfg
}

func TestSigningKeyFromEnv(t *testing.T) {
	t.Setenv(signingKeyEnv, testSigningKey)
	key, err := signingKey(config.Defaults(), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []byte(testSigningKey), key)

	t.Setenv(signingKeyEnv, "short")
	_, err = signingKey(config.Defaults(), discardLogger())
	assert.ErrorIs(t, err, errSigningKeyTooShort)
}

func TestSigningKeyFromFile(t *testing.T) {
	t.Setenv(signingKeyEnv, "")
	path := filepath.Join(t.TempDir(), "signing.key")
	require.NoError(t, os.WriteFile(path, []byte(testSigningKey+"\n"), 0o600))

	cfg := config.Defaults()
	cfg.Auth.SigningKeyFile = path
	key, err := signingKey(cfg, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []byte(testSigningKey), key)

	cfg.Auth.SigningKeyFile = filepath.Join(t.TempDir(), "missing.key")
	_, err = signingKey(cfg, discardLogger())
	assert.Error(t, err)
}

func TestSigningKeyEphemeral(t *testing.T) {
	t.Setenv(signingKeyEnv, "")
	key, err := signingKey(config.Defaults(), discardLogger())
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func newTestApp(t *testing.T, cfg *config.Config) (*app, *httptest.Server) {
	t.Helper()
	t.Setenv(signingKeyEnv, testSigningKey)
	a, err := newApp(cfg, discardLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		srv.Close()
		a.close(context.Background())
	})
	return a, srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestAppServesHealthMetricsAndAPI(t *testing.T) {
	a, srv := newTestApp(t, memoryConfig())
	a.start(t.Context())

	resp, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, _ = get(t, srv.URL+"/api/v1/csrf-token")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "coursegate_pipeline_decisions_total")
}

func TestAppAppliesRouteOverrides(t *testing.T) {
	a, srv := newTestApp(t, memoryConfig())

	one := 1
	cfg := memoryConfig()
	cfg.Security.Routes = map[string]config.RouteOverride{
		"csrf.token": {RateLimit: &one},
		"not.a.route": {},
	}
	a.applyOverrides(cfg)

	resp, _ := get(t, srv.URL+"/api/v1/csrf-token")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := get(t, srv.URL+"/api/v1/csrf-token")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, body, "RATE_LIMIT_EXCEEDED")
}

func TestPruneAttemptsWithNothingToPrune(t *testing.T) {
	a, _ := newTestApp(t, memoryConfig())
	assert.Zero(t, a.pruneAttempts(t.Context()))
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "coursegate "+Version+"\n", out)
}

func TestUserCreateAndAttemptsCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "coursegate.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"storage:\n  data_dir: "+filepath.Join(dir, "data")+"\nauth:\n  bcrypt_cost: 4\n"), 0o600))
	t.Setenv(passwordEnv, "a long enough password")

	out, err := runCLI(t, "user", "create", "--config", cfgPath, "--email", "admin@example.edu", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "created admin admin@example.edu")

	_, err = runCLI(t, "user", "create", "--config", cfgPath, "--email", "admin@example.edu", "--role", "admin")
	assert.Error(t, err)

	_, err = runCLI(t, "user", "create", "--config", cfgPath, "--email", "x@example.edu", "--role", "dean")
	assert.Error(t, err)

	out, err = runCLI(t, "attempts", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "IDENTITY")

	out, err = runCLI(t, "attempts", "prune", "--config", cfgPath, "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 0 attempts")
}
