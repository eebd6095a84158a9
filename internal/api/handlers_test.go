package api

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
	"github.com/n0needt0/goodies/switchyard/internal/relay"
	"github.com/n0needt0/goodies/switchyard/internal/services"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()

	conf := &config.Config{}
	conf.App.Name = "switchyard-test"
	conf.App.Version = "test"
	conf.Rules.Path = filepath.Join(t.TempDir(), "rules.json")
	conf.S3.AccessKey = "AKIAEXAMPLEKEY99"
	conf.S3.SecretKey = "short"
	conf.Defaults.GraceSeconds = 1
	conf.Defaults.ReadBufferSizeBytes = 32 * 1024
	conf.Frontends = []config.Frontend{
		{Name: "echo", Bind: "127.0.0.1:0", Mode: domain.ModeTCP, DefaultBackend: "echo"},
	}
	conf.Backends = []config.Backend{{Name: "echo", Server: "127.0.0.1:9100"}}
	conf.InvalidFrontends = map[string]string{}

	svc, err := services.NewServices(conf)
	require.NoError(t, err)

	return NewAPI(svc, conf, relay.NewManager(svc))
}

func TestMaskSensitiveValue(t *testing.T) {
	assert.Equal(t, "", maskSensitiveValue(""))
	assert.Equal(t, "***", maskSensitiveValue("short"))
	assert.Equal(t, "***", maskSensitiveValue("12345678"))
	assert.Equal(t, "AKIA***EY99", maskSensitiveValue("AKIAEXAMPLEKEY99"))
}

func TestFrontendLifecycleHandlers(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	var started ActionResponse
	require.NoError(t, api.StartFrontend().Interact(ctx, frontendRequest{Name: "echo"}, &started))
	assert.Equal(t, "start", started.Action)
	assert.Equal(t, domain.StatusRunning, started.Status)

	// starting twice is a conflict
	var again ActionResponse
	assert.Error(t, api.StartFrontend().Interact(ctx, frontendRequest{Name: "echo"}, &again))

	var snap domain.FrontendSnapshot
	require.NoError(t, api.GetFrontend().Interact(ctx, frontendRequest{Name: "echo"}, &snap))
	assert.Equal(t, domain.StatusRunning, snap.Status)

	var restarted ActionResponse
	require.NoError(t, api.RestartFrontend().Interact(ctx, frontendRequest{Name: "echo"}, &restarted))
	assert.Equal(t, "restart", restarted.Action)

	var stopped ActionResponse
	require.NoError(t, api.StopFrontend().Interact(ctx, frontendRequest{Name: "echo"}, &stopped))
	assert.Equal(t, domain.StatusStopped, stopped.Status)

	var missing ActionResponse
	assert.Error(t, api.StartFrontend().Interact(ctx, frontendRequest{Name: "ghost"}, &missing))
}

func TestFilterHandlers(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	var added FilterActionResponse
	require.NoError(t, api.AddFilterRule().Interact(ctx,
		filterAddRequest{List: "blacklist", IP: "10.0.0.9"}, &added))
	assert.Equal(t, "add", added.Action)

	var bad FilterActionResponse
	assert.Error(t, api.AddFilterRule().Interact(ctx,
		filterAddRequest{List: "blacklist", IP: "not-an-ip"}, &bad))

	var rules FilterRulesResponse
	require.NoError(t, api.GetFilterRules().Interact(ctx, struct{}{}, &rules))
	assert.Equal(t, []string{"10.0.0.9"}, rules.Rules.Blacklist)

	var removed FilterActionResponse
	require.NoError(t, api.RemoveFilterRule().Interact(ctx,
		filterRemoveRequest{List: "blacklist", IP: "10.0.0.9"}, &removed))

	// removing an absent entry is not found
	assert.Error(t, api.RemoveFilterRule().Interact(ctx,
		filterRemoveRequest{List: "blacklist", IP: "10.0.0.9"}, &removed))

	require.NoError(t, api.AddFilterRule().Interact(ctx,
		filterAddRequest{List: "whitelist", IP: "10.0.0.1"}, &added))

	var cleared FilterActionResponse
	require.NoError(t, api.ClearFilterList().Interact(ctx,
		filterListRequest{List: "whitelist"}, &cleared))
	assert.Equal(t, "clear", cleared.Action)

	require.NoError(t, api.GetFilterRules().Interact(ctx, struct{}{}, &rules))
	assert.Empty(t, rules.Rules.Whitelist)
}

func TestStatsAndHealthHandlers(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	var health HealthResponse
	require.NoError(t, api.HealthCheck().Interact(ctx, struct{}{}, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Frontends)
	assert.Equal(t, 0, health.Running)

	var stats StatsResponse
	require.NoError(t, api.GetStats().Interact(ctx, struct{}{}, &stats))
	assert.Equal(t, 1, stats.Global.Frontends)
	require.Len(t, stats.Frontends, 1)
	assert.Equal(t, "echo", stats.Frontends[0].Name)
}

func TestGetConfigMasksSecrets(t *testing.T) {
	api := newTestAPI(t)

	var out ConfigResponse
	require.NoError(t, api.GetConfig().Interact(context.Background(), struct{}{}, &out))

	assert.Equal(t, "AKIA***EY99", out.S3.AccessKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, 1, out.Frontends)
	assert.Equal(t, 1, out.Backends)
}
