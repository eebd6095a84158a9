package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const minimalConfig = `
app:
  name: switchyard-test
backends:
  - name: web
    server: 127.0.0.1:9001
frontends:
  - name: tcp-in
    bind: 127.0.0.1:9000
    mode: tcp
    default_backend: web
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg := Config{}
	err := LoadConfig(writeConfig(t, minimalConfig), "SWY_", nil, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "switchyard-test", cfg.App.Name)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 8079, cfg.Server.ApiPort)
	assert.Equal(t, 8078, cfg.Export.Port)
	assert.Equal(t, 15, cfg.Otel.ScrapeIntervalSeconds)
	assert.Equal(t, 10, cfg.Housekeeping.IntervalSeconds)
	assert.Equal(t, "file", cfg.Rules.Source)
	assert.Equal(t, "rules.json", cfg.Rules.Path)
	assert.Equal(t, 500, cfg.History.BatchRows)
	assert.Equal(t, 32*1024, cfg.Defaults.ReadBufferSizeBytes)

	assert.Equal(t, 10*time.Second, cfg.DialTimeout())
	assert.Equal(t, 300*time.Second, cfg.IdleTimeout())
	assert.Equal(t, 5*time.Second, cfg.SniffTimeout())
	assert.Equal(t, 5*time.Second, cfg.Grace())
	assert.Equal(t, 60*time.Second, cfg.UDPFlowTTL())

	require.Len(t, cfg.Frontends, 1)
	assert.Empty(t, cfg.InvalidFrontends)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SWY_LOGGING_LEVEL", "debug")

	cfg := Config{}
	err := LoadConfig(writeConfig(t, minimalConfig), "SWY_", nil, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := Config{}
	err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), "SWY_", nil, &cfg)
	assert.Error(t, err)
}

func TestValidatePrunesBrokenFrontends(t *testing.T) {
	cfg := Config{}
	err := LoadConfig(writeConfig(t, `
backends:
  - name: web
    server: 127.0.0.1:9001
frontends:
  - name: good
    bind: 127.0.0.1:9000
    mode: tcp
    default_backend: web
  - name: bad-mode
    bind: 127.0.0.1:9002
    mode: sctp
    default_backend: web
  - name: bad-backend
    bind: 127.0.0.1:9003
    mode: tcp
    default_backend: nosuch
`), "SWY_", nil, &cfg)
	require.NoError(t, err)

	require.Len(t, cfg.Frontends, 1)
	assert.Equal(t, "good", cfg.Frontends[0].Name)
	assert.Len(t, cfg.InvalidFrontends, 2)
	assert.Contains(t, cfg.InvalidFrontends["bad-mode"], "unknown mode")
	assert.Contains(t, cfg.InvalidFrontends["bad-backend"], "does not exist")
}

func TestValidateRejectsDuplicateBackend(t *testing.T) {
	cfg := Config{}
	err := LoadConfig(writeConfig(t, `
backends:
  - name: web
    server: 127.0.0.1:9001
  - name: web
    server: 127.0.0.1:9002
`), "SWY_", nil, &cfg)
	require.Error(t, err)

	var cerr domain.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestValidateRejectsDuplicateFrontend(t *testing.T) {
	cfg := Config{}
	err := LoadConfig(writeConfig(t, `
backends:
  - name: web
    server: 127.0.0.1:9001
frontends:
  - name: twin
    bind: 127.0.0.1:9000
    mode: tcp
    default_backend: web
  - name: twin
    bind: 127.0.0.1:9002
    mode: tcp
    default_backend: web
`), "SWY_", nil, &cfg)
	assert.Error(t, err)
}

func TestFrontendValidate(t *testing.T) {
	backends := map[string]Backend{"web": {Name: "web", Server: "127.0.0.1:9001"}}

	tests := []struct {
		name     string
		frontend Frontend
		wantErr  string
	}{
		{
			name:     "udp with tls",
			frontend: Frontend{Name: "u", Bind: "127.0.0.1:9000", Mode: "udp", Flexible: true, DefaultBackend: "web"},
			wantErr:  "udp mode does not support",
		},
		{
			name:     "auto requires tcp",
			frontend: Frontend{Name: "a", Bind: "127.0.0.1:9000", Mode: "http", Auto: true, DefaultBackend: "web"},
			wantErr:  "auto detection requires mode tcp",
		},
		{
			name:     "cert without key",
			frontend: Frontend{Name: "c", Bind: "127.0.0.1:9000", Mode: "tcp", CertFile: "cert.pem", DefaultBackend: "web"},
			wantErr:  "certfile and keyfile",
		},
		{
			name:     "tcp without backend",
			frontend: Frontend{Name: "t", Bind: "127.0.0.1:9000", Mode: "tcp"},
			wantErr:  "default_backend is required",
		},
		{
			name:     "negative rate limit",
			frontend: Frontend{Name: "r", Bind: "127.0.0.1:9000", Mode: "tcp", DefaultBackend: "web", RateLimit: -1},
			wantErr:  "must be >= 0",
		},
		{
			name:     "bad bind",
			frontend: Frontend{Name: "b", Bind: "localhost", Mode: "tcp", DefaultBackend: "web"},
			wantErr:  "bind",
		},
		{
			name: "http with routes only",
			frontend: Frontend{Name: "h", Bind: "127.0.0.1:9000", Mode: "http",
				DomainRoutes: []DomainRoute{{Domain: "a.example.com", Backend: "web"}}},
		},
		{
			name:     "route with unknown backend",
			frontend: Frontend{Name: "h2", Bind: "127.0.0.1:9000", Mode: "http", DomainRoutes: []DomainRoute{{Domain: "a.example.com", Backend: "nosuch"}}},
			wantErr:  "unknown backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frontend.validate(backends)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBackendMap(t *testing.T) {
	cfg := Config{Backends: []Backend{
		{Name: "a", Server: "127.0.0.1:1000"},
		{Name: "b", Server: "127.0.0.1:2000", TLS: true},
	}}

	m := cfg.BackendMap()
	require.Len(t, m, 2)
	assert.Equal(t, "127.0.0.1:1000", m["a"].Server)
	assert.True(t, m["b"].TLS)
}
