package factory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/ddil/internal/model"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ddilcfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1000, cfg.Controller.PollIntervalMs)
	assert.Equal(t, 5, cfg.Controller.StopTimeoutSec)
	assert.Equal(t, float64(-95), cfg.Controller.DegradedSignalFloorDbm)
	assert.Equal(t, float64(5), cfg.Controller.DegradedLossPctCeiling)
	assert.Equal(t, 64, cfg.Controller.EventQueueSize)

	require.Len(t, cfg.Paths, 5)
	assert.Equal(t, model.PathModeWired, cfg.Paths[0].Mode)
	assert.Equal(t, 1, cfg.Paths[0].Priority)
	assert.Equal(t, model.PathModeHFRadio, cfg.Paths[4].Mode)
	assert.Equal(t, 5, cfg.Paths[4].Priority)

	assert.Equal(t, model.StrategyMakeBeforeBreak, cfg.Handover.DefaultStrategy)
	assert.Equal(t, 50, cfg.Handover.EstablishMs)
	assert.Equal(t, 30, cfg.Handover.MigrateMs)
	assert.Equal(t, 10, cfg.Handover.CleanupMs)
	assert.Equal(t, 20, cfg.Handover.GapMs)
	assert.Equal(t, 0.1, cfg.Handover.GapLossRatePktPerMs)
	assert.Equal(t, 256, cfg.Handover.HistoryMax)

	assert.Equal(t, int64(1<<30), cfg.Cache.CapacityBytes)
	assert.Equal(t, float64(24), cfg.Cache.PrefetchTTLHours)
	assert.Equal(t, int64(64<<20), cfg.Cache.ConsumptionRateBytesPerHour)

	assert.Equal(t, "simulated", cfg.Probe.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Sbi.ListenAddr)
}

func TestLoadValidFile(t *testing.T) {
	path := writeConfigFile(t, `
info:
  version: 1.0.0
  description: field unit
controller:
  pollIntervalMs: 250
paths:
  - mode: satellite
    priority: 1
    enabled: true
  - mode: lora_mesh
    priority: 2
    enabled: false
handover:
  defaultStrategy: seamless
cache:
  capacityBytes: 4096
sbi:
  listenAddr: 127.0.0.1:8890
notify:
  webhookUrls:
    - http://127.0.0.1:9000/events
logging:
  level: debug
`)

	cfg, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", cfg.Info.Version)
	assert.Equal(t, 250, cfg.Controller.PollIntervalMs)
	// Unset controller fields get defaults.
	assert.Equal(t, 5, cfg.Controller.StopTimeoutSec)

	require.Len(t, cfg.Paths, 2)
	assert.Equal(t, model.PathModeSatellite, cfg.Paths[0].Mode)
	assert.False(t, cfg.Paths[1].Enabled)

	assert.Equal(t, model.StrategySeamless, cfg.Handover.DefaultStrategy)
	assert.Equal(t, int64(4096), cfg.Cache.CapacityBytes)
	assert.Equal(t, "127.0.0.1:8890", cfg.Sbi.ListenAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYaml(t *testing.T) {
	path := writeConfigFile(t, "controller: [not a mapping")
	_, err := ReadConfig(path)
	assert.Error(t, err)
}

func TestValidationRejections(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{
			name: "poll interval below floor",
			yaml: "controller:\n  pollIntervalMs: 5\n",
		},
		{
			name: "positive signal floor",
			yaml: "controller:\n  degradedSignalFloorDbm: 10\n",
		},
		{
			name: "unknown path mode",
			yaml: "paths:\n  - mode: quantum_link\n    priority: 1\n    enabled: true\n",
		},
		{
			name: "duplicate path mode",
			yaml: "paths:\n" +
				"  - mode: satellite\n    priority: 1\n    enabled: true\n" +
				"  - mode: satellite\n    priority: 2\n    enabled: true\n",
		},
		{
			name: "priority below one",
			yaml: "paths:\n  - mode: satellite\n    priority: 0\n    enabled: true\n",
		},
		{
			name: "unknown handover strategy",
			yaml: "handover:\n  defaultStrategy: teleport\n",
		},
		{
			name: "unknown probe driver",
			yaml: "probe:\n  driver: hardware\n",
		},
		{
			name: "invalid listen address",
			yaml: "sbi:\n  listenAddr: not-an-address\n",
		},
		{
			name: "invalid webhook url",
			yaml: "notify:\n  webhookUrls:\n    - not a url\n",
		},
		{
			name: "unknown log level",
			yaml: "logging:\n  level: shout\n",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			path := writeConfigFile(t, testCase.yaml)
			_, err := ReadConfig(path)
			assert.Error(t, err)
		})
	}
}
