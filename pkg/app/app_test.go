package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/ddil/internal/cache"
	"github.com/edgefleet/ddil/internal/model"
	"github.com/edgefleet/ddil/pkg/factory"
)

func newTestConfig() *factory.Config {
	cfg := factory.DefaultConfig()
	cfg.Controller.PollIntervalMs = 20
	cfg.Controller.StopTimeoutSec = 2
	cfg.Probe.Seed = 1
	cfg.Logging.Level = "error"
	// No status server in lifecycle tests; sbi has its own coverage.
	cfg.Sbi.ListenAddr = ""
	return cfg
}

func TestNewAppRejectsNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}

func TestNewAppRejectsUnknownProbeDriver(t *testing.T) {
	cfg := newTestConfig()
	cfg.Probe.Driver = "hardware"

	_, err := NewApp(cfg)
	assert.Error(t, err)
}

func TestAppLifecycle(t *testing.T) {
	ddilApp, err := NewApp(newTestConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ddilApp.Start(ctx))
	assert.True(t, ddilApp.GetHealth().Healthy)

	// Idempotent while running.
	require.NoError(t, ddilApp.Start(ctx))

	// The simulated probe keeps every path up, so the controller settles on
	// the wired path (priority 1) after the Connecting cycle.
	require.Eventually(t, func() bool {
		return ddilApp.Controller().GetStatus().ActivePath == model.PathModeWired
	}, 2*time.Second, 10*time.Millisecond)

	status := ddilApp.Controller().GetStatus()
	assert.Equal(t, model.SystemModeConnected, status.Mode)

	require.NoError(t, ddilApp.Stop(ctx))
	assert.False(t, ddilApp.GetHealth().Healthy)

	// Stopping twice is harmless.
	require.NoError(t, ddilApp.Stop(ctx))
}

func TestAppExposesManagers(t *testing.T) {
	ddilApp, err := NewApp(newTestConfig())
	require.NoError(t, err)

	require.True(t, ddilApp.Cache().Put(
		"mission/maps", 1024, "sync", model.PriorityCritical, cache.PutOptions{}))
	statistics := ddilApp.Cache().Statistics()
	assert.Equal(t, int64(1024), statistics.UsedBytes)

	assert.Equal(t, model.StrategyMakeBeforeBreak, ddilApp.Handover().DefaultStrategy())
}
