package controller

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/ddil/internal/cache"
	"github.com/edgefleet/ddil/internal/handover"
	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/internal/model"
	"github.com/edgefleet/ddil/pkg/factory"
)

func TestMain(m *testing.M) {
	_ = logger.InitLog("error", false)
	os.Exit(m.Run())
}

// fakePathProbe serves canned samples per mode and can be flipped to error
// mid-test.
type fakePathProbe struct {
	mutex   sync.Mutex
	samples map[model.PathMode]model.LinkSample
	errs    map[model.PathMode]error
}

func newFakePathProbe() *fakePathProbe {
	return &fakePathProbe{
		samples: make(map[model.PathMode]model.LinkSample),
		errs:    make(map[model.PathMode]error),
	}
}

func (fake *fakePathProbe) Probe(ctx context.Context, mode model.PathMode) (model.LinkSample, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	if err, exists := fake.errs[mode]; exists {
		return model.LinkSample{}, err
	}
	if sample, exists := fake.samples[mode]; exists {
		return sample, nil
	}
	return model.LinkSample{}, errors.New("no fixture for mode " + string(mode))
}

func (fake *fakePathProbe) setSample(mode model.PathMode, sample model.LinkSample) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.samples[mode] = sample
	delete(fake.errs, mode)
}

func (fake *fakePathProbe) setError(mode model.PathMode, err error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.errs[mode] = err
}

func healthySample(latencyMs, bandwidthMbps float64) model.LinkSample {
	return model.LinkSample{
		Connected:         true,
		LatencyMs:         latencyMs,
		BandwidthMbps:     bandwidthMbps,
		PacketLossPct:     0.5,
		SignalStrengthDbm: -60,
	}
}

// instantStageRunner completes every handover stage immediately.
type instantStageRunner struct{}

func (runner *instantStageRunner) Run(
	ctx context.Context, stage handover.Stage, source model.PathMode, target model.PathMode,
) error {
	return nil
}

// failingStageRunner fails every stage.
type failingStageRunner struct{}

func (runner *failingStageRunner) Run(
	ctx context.Context, stage handover.Stage, source model.PathMode, target model.PathMode,
) error {
	return errors.New("carrier rejected attach")
}

type testFixture struct {
	controller      *controllerImpl
	probe           *fakePathProbe
	handoverManager handover.Manager
}

func newTestFixture(t *testing.T, pathConfigs []factory.PathConfig, stageRunner handover.StageRunner) *testFixture {
	t.Helper()

	if stageRunner == nil {
		stageRunner = &instantStageRunner{}
	}

	defaults := factory.DefaultConfig()
	fakeProbe := newFakePathProbe()
	handoverManager := handover.NewManager(defaults.Handover, clock.NewMock(), stageRunner, nil)
	cacheManager := cache.NewManager(defaults.Cache, clock.NewMock(), nil)

	ctrl := NewController(
		defaults.Controller,
		pathConfigs,
		fakeProbe,
		handoverManager,
		cacheManager,
		nil,
		clock.NewMock(),
		nil,
	).(*controllerImpl)

	return &testFixture{
		controller:      ctrl,
		probe:           fakeProbe,
		handoverManager: handoverManager,
	}
}

func threePathConfigs() []factory.PathConfig {
	return []factory.PathConfig{
		{Mode: model.PathModeWired, Priority: 1, Enabled: true},
		{Mode: model.PathModeCellular5G, Priority: 2, Enabled: true},
		{Mode: model.PathModeSatellite, Priority: 3, Enabled: true},
	}
}

// cycle runs n monitoring cycles synchronously.
func (fixture *testFixture) cycle(n int) {
	for i := 0; i < n; i++ {
		fixture.controller.pollCycle(context.Background())
	}
}

func TestSelectionPrefersLowestPriority(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), nil)

	// Wired never comes up; cellular and satellite both connect.
	fixture.probe.setError(model.PathModeWired, errors.New("no carrier"))
	fixture.probe.setSample(model.PathModeCellular5G, healthySample(10, 200))
	fixture.probe.setSample(model.PathModeSatellite, healthySample(40, 150))

	// First cycle only brings paths to Connecting; the second makes them
	// eligible and triggers selection.
	fixture.cycle(2)

	status := fixture.controller.GetStatus()
	assert.Equal(t, model.SystemModeConnected, status.Mode)
	assert.Equal(t, model.PathModeCellular5G, status.ActivePath)

	wiredPath, found := fixture.controller.GetPath(model.PathModeWired)
	require.True(t, found)
	assert.False(t, wiredPath.State.IsEligible())
}

func TestSelectionTieBreaksByLatency(t *testing.T) {
	fixture := newTestFixture(t, []factory.PathConfig{
		{Mode: model.PathModeCellular5G, Priority: 2, Enabled: true},
		{Mode: model.PathModeSatellite, Priority: 2, Enabled: true},
	}, nil)

	fixture.probe.setSample(model.PathModeCellular5G, healthySample(12, 200))
	fixture.probe.setSample(model.PathModeSatellite, healthySample(5, 150))

	fixture.cycle(2)

	status := fixture.controller.GetStatus()
	assert.Equal(t, model.PathModeSatellite, status.ActivePath)
}

func TestConnectingPrecedesEligibility(t *testing.T) {
	fixture := newTestFixture(t, []factory.PathConfig{
		{Mode: model.PathModeWired, Priority: 1, Enabled: true},
	}, nil)
	fixture.probe.setSample(model.PathModeWired, healthySample(2, 1000))

	fixture.cycle(1)
	path, found := fixture.controller.GetPath(model.PathModeWired)
	require.True(t, found)
	assert.Equal(t, model.StateConnecting, path.State)
	assert.Equal(t, model.SystemModeOffline, fixture.controller.GetStatus().Mode)

	fixture.cycle(1)
	path, _ = fixture.controller.GetPath(model.PathModeWired)
	assert.Equal(t, model.StateConnected, path.State)
	assert.Equal(t, model.PathModeWired, fixture.controller.GetStatus().ActivePath)
}

func TestWeakSignalClassifiedDegraded(t *testing.T) {
	fixture := newTestFixture(t, []factory.PathConfig{
		{Mode: model.PathModeHFRadio, Priority: 5, Enabled: true},
	}, nil)

	weak := healthySample(150, 0.01)
	weak.SignalStrengthDbm = -97 // below the -95 floor
	fixture.probe.setSample(model.PathModeHFRadio, weak)

	fixture.cycle(2)

	path, found := fixture.controller.GetPath(model.PathModeHFRadio)
	require.True(t, found)
	assert.Equal(t, model.StateDegraded, path.State)

	// Degraded paths stay eligible, so the system is not offline.
	status := fixture.controller.GetStatus()
	assert.Equal(t, model.PathModeHFRadio, status.ActivePath)
	// But Degraded paths are not reported healthy.
	assert.Empty(t, status.HealthyPaths)
}

func TestHighLossClassifiedDegraded(t *testing.T) {
	fixture := newTestFixture(t, []factory.PathConfig{
		{Mode: model.PathModeSatellite, Priority: 3, Enabled: true},
	}, nil)

	lossy := healthySample(40, 150)
	lossy.PacketLossPct = 9 // above the 5% ceiling
	fixture.probe.setSample(model.PathModeSatellite, lossy)

	fixture.cycle(2)

	path, _ := fixture.controller.GetPath(model.PathModeSatellite)
	assert.Equal(t, model.StateDegraded, path.State)
}

func TestProbeFailureWalksFailingThenDisconnected(t *testing.T) {
	fixture := newTestFixture(t, []factory.PathConfig{
		{Mode: model.PathModeWired, Priority: 1, Enabled: true},
	}, nil)
	fixture.probe.setError(model.PathModeWired, errors.New("link down"))

	fixture.cycle(1)
	path, _ := fixture.controller.GetPath(model.PathModeWired)
	assert.Equal(t, model.StateFailing, path.State)

	fixture.cycle(1)
	path, _ = fixture.controller.GetPath(model.PathModeWired)
	assert.Equal(t, model.StateDisconnected, path.State)
}

func TestFailoverOnActivePathLoss(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), nil)
	fixture.probe.setSample(model.PathModeWired, healthySample(2, 1000))
	fixture.probe.setSample(model.PathModeCellular5G, healthySample(10, 200))
	fixture.probe.setSample(model.PathModeSatellite, healthySample(40, 150))

	fixture.cycle(2)
	require.Equal(t, model.PathModeWired, fixture.controller.GetStatus().ActivePath)

	fixture.probe.setError(model.PathModeWired, errors.New("cable cut"))
	fixture.cycle(1)

	status := fixture.controller.GetStatus()
	assert.Equal(t, model.PathModeCellular5G, status.ActivePath)
	assert.Equal(t, model.SystemModeConnected, status.Mode)

	history := fixture.handoverManager.History()
	require.Len(t, history, 1)
	assert.Equal(t, model.PathModeWired, history[0].SourcePath)
	assert.Equal(t, model.PathModeCellular5G, history[0].TargetPath)
	assert.True(t, history[0].Success)
}

func TestFailedHandoverKeepsActivePath(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), &failingStageRunner{})
	fixture.probe.setSample(model.PathModeWired, healthySample(2, 1000))
	fixture.probe.setSample(model.PathModeCellular5G, healthySample(10, 200))
	fixture.probe.setSample(model.PathModeSatellite, healthySample(40, 150))

	// Initial acquisition is a direct activation; no handover runs, so the
	// failing stage runner is not exercised yet.
	fixture.cycle(2)
	require.Equal(t, model.PathModeWired, fixture.controller.GetStatus().ActivePath)

	fixture.probe.setError(model.PathModeWired, errors.New("cable cut"))
	fixture.cycle(1)

	// The handover to cellular failed, so wired stays nominally active and
	// the next cycle will retry.
	assert.Equal(t, model.PathModeWired, fixture.controller.GetStatus().ActivePath)

	history := fixture.handoverManager.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
}

func TestOfflineEnterAndExitFireOnce(t *testing.T) {
	fixture := newTestFixture(t, []factory.PathConfig{
		{Mode: model.PathModeCellular5G, Priority: 2, Enabled: true},
	}, nil)

	var enters, exits atomic.Int64
	require.NoError(t, fixture.controller.RegisterCallback(model.EventDDILEnter, func(event model.Event) {
		enters.Add(1)
	}))
	require.NoError(t, fixture.controller.RegisterCallback(model.EventDDILExit, func(event model.Event) {
		exits.Add(1)
	}))

	fixture.controller.events.start()
	defer fixture.controller.events.stop()

	fixture.probe.setError(model.PathModeCellular5G, errors.New("no carrier"))
	fixture.cycle(5)

	assert.Equal(t, model.SystemModeOffline, fixture.controller.GetStatus().Mode)
	require.Eventually(t, func() bool { return enters.Load() == 1 },
		time.Second, 5*time.Millisecond)

	fixture.probe.setSample(model.PathModeCellular5G, healthySample(10, 200))
	fixture.cycle(2)

	assert.Equal(t, model.PathModeCellular5G, fixture.controller.GetStatus().ActivePath)
	require.Eventually(t, func() bool { return exits.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), enters.Load())
}

func TestPathChangeEventCarriesModes(t *testing.T) {
	fixture := newTestFixture(t, []factory.PathConfig{
		{Mode: model.PathModeWired, Priority: 1, Enabled: true},
	}, nil)

	var observed atomic.Pointer[model.Event]
	require.NoError(t, fixture.controller.RegisterCallback(model.EventPathChange, func(event model.Event) {
		observed.Store(&event)
	}))

	fixture.controller.events.start()
	defer fixture.controller.events.stop()

	fixture.probe.setSample(model.PathModeWired, healthySample(2, 1000))
	fixture.cycle(2)

	require.Eventually(t, func() bool { return observed.Load() != nil },
		time.Second, 5*time.Millisecond)
	event := observed.Load()
	assert.Equal(t, model.EventPathChange, event.Type)
	assert.Equal(t, model.PathMode(""), event.OldMode)
	assert.Equal(t, model.PathModeWired, event.NewMode)
}

func TestCallbackPanicDoesNotStopDispatch(t *testing.T) {
	fixture := newTestFixture(t, []factory.PathConfig{
		{Mode: model.PathModeWired, Priority: 1, Enabled: true},
	}, nil)

	var delivered atomic.Int64
	require.NoError(t, fixture.controller.RegisterCallback(model.EventDDILEnter, func(event model.Event) {
		panic("subscriber bug")
	}))
	require.NoError(t, fixture.controller.RegisterCallback(model.EventDDILEnter, func(event model.Event) {
		delivered.Add(1)
	}))

	fixture.controller.events.start()
	defer fixture.controller.events.stop()

	fixture.probe.setError(model.PathModeWired, errors.New("down"))
	fixture.cycle(1)

	require.Eventually(t, func() bool { return delivered.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestRegisterCallbackValidation(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), nil)

	assert.Error(t, fixture.controller.RegisterCallback(model.EventType("bogus"), func(model.Event) {}))
	assert.Error(t, fixture.controller.RegisterCallback(model.EventPathChange, nil))
}

func TestDisableActivePathReselectsImmediately(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), nil)
	fixture.probe.setSample(model.PathModeWired, healthySample(2, 1000))
	fixture.probe.setSample(model.PathModeCellular5G, healthySample(10, 200))
	fixture.probe.setSample(model.PathModeSatellite, healthySample(40, 150))

	fixture.cycle(2)
	require.Equal(t, model.PathModeWired, fixture.controller.GetStatus().ActivePath)

	require.NoError(t, fixture.controller.DisablePath(model.PathModeWired))

	// No extra cycle needed: disabling the active path re-selects in place.
	assert.Equal(t, model.PathModeCellular5G, fixture.controller.GetStatus().ActivePath)
}

func TestEnableDisableUnknownPath(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), nil)

	assert.Error(t, fixture.controller.EnablePath(model.PathModeLoRaMesh))
	assert.Error(t, fixture.controller.DisablePath(model.PathMode("carrier pigeon")))
}

func TestForceHandover(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), nil)
	fixture.probe.setSample(model.PathModeWired, healthySample(2, 1000))
	fixture.probe.setSample(model.PathModeCellular5G, healthySample(10, 200))
	fixture.probe.setSample(model.PathModeSatellite, healthySample(40, 150))

	fixture.cycle(2)
	require.Equal(t, model.PathModeWired, fixture.controller.GetStatus().ActivePath)

	record, err := fixture.controller.ForceHandover(
		context.Background(), model.PathModeSatellite, model.StrategySeamless)
	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.Equal(t, model.PathModeWired, record.SourcePath)
	assert.Equal(t, model.PathModeSatellite, record.TargetPath)
	assert.Equal(t, model.PathModeSatellite, fixture.controller.GetStatus().ActivePath)
}

func TestForceHandoverRejectsUnknownAndDisabledTargets(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), nil)

	_, err := fixture.controller.ForceHandover(
		context.Background(), model.PathModeLoRaMesh, model.StrategySeamless)
	assert.Error(t, err)

	require.NoError(t, fixture.controller.DisablePath(model.PathModeSatellite))
	_, err = fixture.controller.ForceHandover(
		context.Background(), model.PathModeSatellite, model.StrategySeamless)
	assert.Error(t, err)
}

func TestForceHandoverReportsStageFailure(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), &failingStageRunner{})

	record, err := fixture.controller.ForceHandover(
		context.Background(), model.PathModeCellular5G, model.StrategyMakeBeforeBreak)
	require.Error(t, err)
	assert.False(t, record.Success)
	assert.Equal(t, model.PathMode(""), fixture.controller.GetStatus().ActivePath)
}

func TestStatusAggregatesConnectedPaths(t *testing.T) {
	fixture := newTestFixture(t, threePathConfigs(), nil)
	fixture.probe.setSample(model.PathModeWired, healthySample(10, 100))
	fixture.probe.setSample(model.PathModeCellular5G, healthySample(30, 50))
	fixture.probe.setError(model.PathModeSatellite, errors.New("obstructed"))

	fixture.cycle(2)

	status := fixture.controller.GetStatus()
	assert.Len(t, status.HealthyPaths, 2)
	assert.InDelta(t, 150, status.TotalBandwidthMbps, 0.001)
	assert.InDelta(t, 20, status.AverageLatencyMs, 0.001)
	assert.Equal(t, float64(24), status.Readiness.RequiredHours)
}

func TestAllPathsDisabledMeansOffline(t *testing.T) {
	fixture := newTestFixture(t, []factory.PathConfig{
		{Mode: model.PathModeWired, Priority: 1, Enabled: false},
		{Mode: model.PathModeCellular5G, Priority: 2, Enabled: false},
	}, nil)

	fixture.cycle(2)

	status := fixture.controller.GetStatus()
	assert.Equal(t, model.SystemModeOffline, status.Mode)
	assert.Equal(t, model.PathMode(""), status.ActivePath)
}

func TestStartStopLifecycle(t *testing.T) {
	defaults := factory.DefaultConfig()
	defaults.Controller.PollIntervalMs = 20
	defaults.Controller.StopTimeoutSec = 2

	fakeProbe := newFakePathProbe()
	fakeProbe.setSample(model.PathModeWired, healthySample(2, 1000))

	handoverManager := handover.NewManager(defaults.Handover, nil, &instantStageRunner{}, nil)
	cacheManager := cache.NewManager(defaults.Cache, nil, nil)

	ctrl := NewController(
		defaults.Controller,
		[]factory.PathConfig{{Mode: model.PathModeWired, Priority: 1, Enabled: true}},
		fakeProbe,
		handoverManager,
		cacheManager,
		nil,
		nil, // real clock
		nil,
	)

	ctx := context.Background()
	require.NoError(t, ctrl.Start(ctx))
	assert.True(t, ctrl.GetHealth().Healthy)

	// Idempotent while running.
	require.NoError(t, ctrl.Start(ctx))

	require.Eventually(t, func() bool {
		return ctrl.GetStatus().ActivePath == model.PathModeWired
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.Stop(ctx))
	assert.False(t, ctrl.GetHealth().Healthy)

	// A stopped controller can be started again.
	require.NoError(t, ctrl.Start(ctx))
	assert.True(t, ctrl.GetHealth().Healthy)
	require.NoError(t, ctrl.Stop(ctx))
}
