// Package controller implements the DDIL path-selection controller. It owns
// the table of configured network paths, runs the periodic monitoring cycle,
// decides when a handover is needed, and detects entry into and exit from
// full DDIL (offline) operation.
//
// Concurrency model: one background goroutine per controller instance runs
// the monitoring cycle; the path table is guarded by a single RWMutex. Each
// cycle refreshes metrics, recomputes states, and runs selection under the
// write lock, so external toggles (EnablePath/DisablePath) never race with an
// in-progress selection. Status reads take the read lock.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/edgefleet/ddil/internal/cache"
	"github.com/edgefleet/ddil/internal/handover"
	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/internal/metrics"
	"github.com/edgefleet/ddil/internal/model"
	"github.com/edgefleet/ddil/internal/probe"
	"github.com/edgefleet/ddil/pkg/factory"
)

// Controller is the public surface of the DDIL controller. Start/Stop/
// GetHealth satisfy the generic subsystem-lifecycle contract used by a
// process supervisor; everything else serves operators and the status
// export.
type Controller interface {
	// Start launches the monitoring loop. It returns immediately after a
	// successful start and is idempotent while running.
	Start(ctx context.Context) error

	// Stop signals the monitoring loop and blocks until it has observed
	// termination, bounded by the configured stop timeout. After Stop
	// returns, no further automatic handovers occur until Start is called
	// again.
	Stop(ctx context.Context) error

	// GetHealth reports whether the monitoring loop is running.
	GetHealth() model.Health

	// GetStatus returns the read-only status snapshot: global mode, active
	// path, healthy paths, aggregate bandwidth, average latency, and the
	// cache-derived readiness assessment.
	GetStatus() model.DDILStatus

	// GetPaths returns a copy of every configured path.
	GetPaths() []model.NetworkPath

	// GetPath returns a copy of one path by mode.
	GetPath(mode model.PathMode) (model.NetworkPath, bool)

	// EnablePath marks a path usable for selection again.
	EnablePath(mode model.PathMode) error

	// DisablePath removes a path from selection. Disabling the active path
	// triggers an immediate re-selection.
	DisablePath(mode model.PathMode) error

	// ForceHandover is the administrative override: it executes a handover
	// to the target path regardless of selection policy. It fails when the
	// target is unknown or disabled.
	ForceHandover(ctx context.Context, target model.PathMode,
		strategy model.HandoverStrategy) (model.HandoverRecord, error)

	// RegisterCallback subscribes to controller events (path_change,
	// handover, ddil_enter, ddil_exit). Callbacks are dispatched from a
	// bounded queue, never from the monitoring cycle itself.
	RegisterCallback(eventType model.EventType, callback Callback) error
}

// controllerImpl is the concrete implementation of Controller.
type controllerImpl struct {
	pollInterval           time.Duration
	stopTimeout            time.Duration
	degradedSignalFloorDbm float64
	degradedLossPctCeiling float64

	// mutexForPaths guards paths, activeMode, and offline. The monitoring
	// cycle holds the write lock for a full refresh+select+handover pass.
	mutexForPaths sync.RWMutex
	paths         map[model.PathMode]*model.NetworkPath
	activeMode    model.PathMode // empty while no path is active
	offline       bool           // true after ddil_enter, until a path re-qualifies

	pathProbe       probe.PathProbe
	handoverManager handover.Manager
	cacheManager    cache.Manager
	events          *dispatcher
	metricsSet      *metrics.Set
	clk             clock.Clock

	startStopMutex sync.Mutex
	started        bool
	stopChannel    chan struct{}
	stoppedChannel chan struct{}
}

// NewController creates a Controller from configuration and its collaborator
// components. Paths start Disconnected with their configured priorities;
// priorities never change afterwards.
func NewController(
	controllerConfig factory.ControllerSection,
	pathConfigs []factory.PathConfig,
	pathProbe probe.PathProbe,
	handoverManager handover.Manager,
	cacheManager cache.Manager,
	forwarders []Forwarder,
	clk clock.Clock,
	metricsSet *metrics.Set,
) Controller {
	if clk == nil {
		clk = clock.New()
	}
	if metricsSet == nil {
		metricsSet = metrics.NewNopSet()
	}

	paths := make(map[model.PathMode]*model.NetworkPath, len(pathConfigs))
	for _, pathConfig := range pathConfigs {
		paths[pathConfig.Mode] = &model.NetworkPath{
			Mode:              pathConfig.Mode,
			State:             model.StateDisconnected,
			Priority:          pathConfig.Priority,
			Enabled:           pathConfig.Enabled,
			SignalStrengthDbm: -100,
		}
	}

	logger.CtrlLog.Infof("controller initialized paths=%d pollInterval=%s stopTimeout=%s",
		len(paths),
		time.Duration(controllerConfig.PollIntervalMs)*time.Millisecond,
		time.Duration(controllerConfig.StopTimeoutSec)*time.Second,
	)

	return &controllerImpl{
		pollInterval:           time.Duration(controllerConfig.PollIntervalMs) * time.Millisecond,
		stopTimeout:            time.Duration(controllerConfig.StopTimeoutSec) * time.Second,
		degradedSignalFloorDbm: controllerConfig.DegradedSignalFloorDbm,
		degradedLossPctCeiling: controllerConfig.DegradedLossPctCeiling,
		paths:                  paths,
		pathProbe:              pathProbe,
		handoverManager:        handoverManager,
		cacheManager:           cacheManager,
		events:                 newDispatcher(controllerConfig.EventQueueSize, forwarders),
		metricsSet:             metricsSet,
		clk:                    clk,
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start implements Controller.Start.
func (controller *controllerImpl) Start(ctx context.Context) error {
	controller.startStopMutex.Lock()
	defer controller.startStopMutex.Unlock()

	if controller.started {
		logger.CtrlLog.Warn("Controller.Start called more than once; ignoring subsequent call")
		return nil
	}

	controller.stopChannel = make(chan struct{})
	controller.stoppedChannel = make(chan struct{})
	controller.events.start()
	controller.started = true

	go controller.runLoop()

	logger.CtrlLog.Info("controller started")
	return nil
}

// Stop implements Controller.Stop.
func (controller *controllerImpl) Stop(ctx context.Context) error {
	controller.startStopMutex.Lock()
	defer controller.startStopMutex.Unlock()

	if !controller.started {
		return nil
	}

	select {
	case <-controller.stopChannel:
		// Already closing or closed.
	default:
		close(controller.stopChannel)
	}

	// Wait for the loop to exit, bounded by both the caller's context and
	// the configured stop timeout. A timeout here means a probe or handover
	// is wedged; we report it rather than pretend the loop is gone.
	stopTimer := controller.clk.Timer(controller.stopTimeout)
	defer stopTimer.Stop()

	select {
	case <-controller.stoppedChannel:
	case <-ctx.Done():
		return ctx.Err()
	case <-stopTimer.C:
		return fmt.Errorf("monitoring loop did not stop within %s", controller.stopTimeout)
	}

	controller.events.stop()
	controller.started = false

	logger.CtrlLog.Info("controller stopped")
	return nil
}

// GetHealth implements Controller.GetHealth.
func (controller *controllerImpl) GetHealth() model.Health {
	controller.startStopMutex.Lock()
	defer controller.startStopMutex.Unlock()
	return model.Health{Healthy: controller.started}
}

// runLoop executes the monitoring cycle until stopChannel is closed.
func (controller *controllerImpl) runLoop() {
	defer close(controller.stoppedChannel)

	ticker := controller.clk.Ticker(controller.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-controller.stopChannel:
			return
		case <-ticker.C:
			controller.pollCycle(context.Background())
		}
	}
}

// -----------------------------------------------------------------------------
// Monitoring cycle
// -----------------------------------------------------------------------------

// pollCycle refreshes every enabled path's metrics, recomputes connection
// states, and evaluates whether a failover is needed. Ordering within one
// cycle is fixed: metrics refresh, then selection, then handover. All three
// phases run under the write lock, so a stale selection decision is never
// acted upon after metrics have moved in the same cycle.
func (controller *controllerImpl) pollCycle(ctx context.Context) {
	controller.mutexForPaths.Lock()
	defer controller.mutexForPaths.Unlock()

	for _, path := range controller.paths {
		if !path.Enabled {
			continue
		}
		controller.refreshPathLocked(ctx, path)
	}

	controller.evaluateSelectionLocked(ctx)
	controller.updatePathMetricsLocked()
}

// refreshPathLocked pulls one sample from the probe and recomputes the
// path's connection state. Probe errors (and panics) are contained: the path
// transitions to Failing, and a path already Failing transitions to
// Disconnected.
func (controller *controllerImpl) refreshPathLocked(ctx context.Context, path *model.NetworkPath) {
	previousState := path.State

	sample, probeError := controller.probeSafely(ctx, path.Mode)
	if probeError != nil {
		if path.State == model.StateFailing {
			path.State = model.StateDisconnected
		} else {
			path.State = model.StateFailing
		}
		logger.CtrlLog.Warnf("probe failed mode=%s state=%s: %v", path.Mode, path.State, probeError)
		return
	}

	path.LatencyMs = sample.LatencyMs
	path.BandwidthMbps = sample.BandwidthMbps
	path.PacketLossPct = sample.PacketLossPct
	path.SignalStrengthDbm = sample.SignalStrengthDbm

	switch {
	case !sample.Connected:
		path.State = model.StateDisconnected
	case previousState == model.StateDisconnected || previousState == model.StateFailing:
		// One cycle of Connecting before the path becomes eligible.
		path.State = model.StateConnecting
	case sample.SignalStrengthDbm < controller.degradedSignalFloorDbm,
		sample.PacketLossPct > controller.degradedLossPctCeiling:
		path.State = model.StateDegraded
	default:
		path.State = model.StateConnected
	}

	if path.State.IsEligible() {
		path.LastActive = controller.clk.Now().UTC()
	}

	if path.State != previousState {
		logger.CtrlLog.Debugf("path state changed mode=%s %s -> %s",
			path.Mode, previousState, path.State)
	}
}

// probeSafely wraps the probe call with a timeout and panic containment, so
// a misbehaving driver can never abort the monitoring cycle.
func (controller *controllerImpl) probeSafely(
	ctx context.Context,
	mode model.PathMode,
) (sample model.LinkSample, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("probe panic for mode %s: %v", mode, recovered)
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, controller.pollInterval)
	defer cancel()

	return controller.pathProbe.Probe(probeCtx, mode)
}

// evaluateSelectionLocked decides whether a failover is needed and performs
// it. The caller must hold the write lock.
func (controller *controllerImpl) evaluateSelectionLocked(ctx context.Context) {
	if controller.activeMode != "" {
		currentPath, exists := controller.paths[controller.activeMode]
		if exists && currentPath.Enabled && currentPath.State.IsEligible() {
			// Active path is healthy; nothing to do.
			return
		}
	}

	controller.selectBestPathLocked(ctx)
}

// selectBestPathLocked chooses the best eligible path: lowest priority
// number first, ties broken by lowest current latency. No eligible path
// means entering offline (DDIL) mode. The caller must hold the write lock.
func (controller *controllerImpl) selectBestPathLocked(ctx context.Context) {
	var best *model.NetworkPath
	for _, path := range controller.paths {
		if !path.Enabled || !path.State.IsEligible() {
			continue
		}
		if best == nil {
			best = path
			continue
		}
		if path.Priority != best.Priority {
			if path.Priority < best.Priority {
				best = path
			}
			continue
		}
		if path.LatencyMs != best.LatencyMs {
			if path.LatencyMs < best.LatencyMs {
				best = path
			}
			continue
		}
		// Full determinism even when priority and latency tie.
		if path.Mode < best.Mode {
			best = path
		}
	}

	if best == nil {
		controller.enterOfflineLocked()
		return
	}

	if controller.offline {
		controller.offline = false
		controller.metricsSet.Offline.Set(0)
		controller.metricsSet.DDILTransitions.WithLabelValues("exit").Inc()
		logger.CtrlLog.Info("exiting DDIL mode; at least one path re-qualified")
		controller.events.publish(model.Event{
			Type:      model.EventDDILExit,
			Timestamp: controller.clk.Now().UTC(),
			NewMode:   best.Mode,
		})
	}

	if best.Mode == controller.activeMode {
		return
	}

	controller.activateLocked(ctx, best.Mode)
}

// activateLocked transitions the active path to target. An existing active
// path goes through the handover manager; initial acquisition (no previous
// active path) is a direct activation. The caller must hold the write lock.
func (controller *controllerImpl) activateLocked(ctx context.Context, target model.PathMode) {
	previousMode := controller.activeMode

	if previousMode != "" {
		record, executeError := controller.handoverManager.Execute(
			ctx, previousMode, target, controller.handoverManager.DefaultStrategy())
		if executeError != nil {
			logger.CtrlLog.Errorf("handover rejected source=%s target=%s: %v",
				previousMode, target, executeError)
			return
		}
		if !record.Success {
			// Keep the previous active path; the next cycle retries.
			logger.CtrlLog.Warnf("handover failed source=%s target=%s, keeping active path",
				previousMode, target)
			return
		}

		controller.events.publish(model.Event{
			Type:      model.EventHandover,
			Timestamp: controller.clk.Now().UTC(),
			OldMode:   previousMode,
			NewMode:   target,
			Record:    &record,
		})
	}

	controller.activeMode = target
	logger.CtrlLog.Infof("active path changed %s -> %s", previousMode, target)

	controller.events.publish(model.Event{
		Type:      model.EventPathChange,
		Timestamp: controller.clk.Now().UTC(),
		OldMode:   previousMode,
		NewMode:   target,
	})
}

// enterOfflineLocked switches the system into full DDIL mode. The ddil_enter
// event fires exactly once until a path re-qualifies. The caller must hold
// the write lock.
func (controller *controllerImpl) enterOfflineLocked() {
	previousMode := controller.activeMode
	controller.activeMode = ""

	if controller.offline {
		return
	}
	controller.offline = true
	controller.metricsSet.Offline.Set(1)
	controller.metricsSet.DDILTransitions.WithLabelValues("enter").Inc()

	logger.CtrlLog.Warn("entering DDIL mode; no network path available")
	controller.events.publish(model.Event{
		Type:      model.EventDDILEnter,
		Timestamp: controller.clk.Now().UTC(),
		OldMode:   previousMode,
	})
}

// updatePathMetricsLocked refreshes the per-path gauges. The caller must
// hold the lock.
func (controller *controllerImpl) updatePathMetricsLocked() {
	for mode, path := range controller.paths {
		controller.metricsSet.PathState.WithLabelValues(string(mode)).
			Set(metrics.StateValue(string(path.State)))

		active := 0.0
		if mode == controller.activeMode {
			active = 1
		}
		controller.metricsSet.ActivePath.WithLabelValues(string(mode)).Set(active)
	}
}

// -----------------------------------------------------------------------------
// Operator surface
// -----------------------------------------------------------------------------

// EnablePath implements Controller.EnablePath.
func (controller *controllerImpl) EnablePath(mode model.PathMode) error {
	controller.mutexForPaths.Lock()
	defer controller.mutexForPaths.Unlock()

	path, exists := controller.paths[mode]
	if !exists {
		return fmt.Errorf("unknown path mode %q", mode)
	}

	path.Enabled = true
	logger.CtrlLog.Infof("enabled path mode=%s", mode)
	return nil
}

// DisablePath implements Controller.DisablePath.
func (controller *controllerImpl) DisablePath(mode model.PathMode) error {
	controller.mutexForPaths.Lock()
	defer controller.mutexForPaths.Unlock()

	path, exists := controller.paths[mode]
	if !exists {
		return fmt.Errorf("unknown path mode %q", mode)
	}

	path.Enabled = false
	logger.CtrlLog.Infof("disabled path mode=%s", mode)

	// Disabling the active path must not leave it active; re-select now
	// rather than waiting for the next cycle.
	if controller.activeMode == mode {
		controller.selectBestPathLocked(context.Background())
	}
	return nil
}

// ForceHandover implements Controller.ForceHandover.
func (controller *controllerImpl) ForceHandover(
	ctx context.Context,
	target model.PathMode,
	strategy model.HandoverStrategy,
) (model.HandoverRecord, error) {
	controller.mutexForPaths.Lock()
	defer controller.mutexForPaths.Unlock()

	path, exists := controller.paths[target]
	if !exists {
		return model.HandoverRecord{}, fmt.Errorf("unknown path mode %q", target)
	}
	if !path.Enabled {
		return model.HandoverRecord{}, fmt.Errorf("path %q is disabled", target)
	}

	record, executeError := controller.handoverManager.Execute(ctx, controller.activeMode, target, strategy)
	if executeError != nil {
		return model.HandoverRecord{}, executeError
	}
	if !record.Success {
		return record, fmt.Errorf("handover to %q failed: %s", target, record.Error)
	}

	previousMode := controller.activeMode
	controller.activeMode = target
	if controller.offline {
		controller.offline = false
		controller.metricsSet.Offline.Set(0)
		controller.metricsSet.DDILTransitions.WithLabelValues("exit").Inc()
		controller.events.publish(model.Event{
			Type:      model.EventDDILExit,
			Timestamp: controller.clk.Now().UTC(),
			NewMode:   target,
		})
	}

	controller.events.publish(model.Event{
		Type:      model.EventHandover,
		Timestamp: controller.clk.Now().UTC(),
		OldMode:   previousMode,
		NewMode:   target,
		Record:    &record,
	})
	controller.events.publish(model.Event{
		Type:      model.EventPathChange,
		Timestamp: controller.clk.Now().UTC(),
		OldMode:   previousMode,
		NewMode:   target,
	})

	return record, nil
}

// RegisterCallback implements Controller.RegisterCallback.
func (controller *controllerImpl) RegisterCallback(
	eventType model.EventType,
	callback Callback,
) error {
	switch eventType {
	case model.EventPathChange, model.EventHandover, model.EventDDILEnter, model.EventDDILExit:
	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}
	if callback == nil {
		return fmt.Errorf("callback must not be nil")
	}

	controller.events.register(eventType, callback)
	return nil
}

// -----------------------------------------------------------------------------
// Status export
// -----------------------------------------------------------------------------

// GetStatus implements Controller.GetStatus.
func (controller *controllerImpl) GetStatus() model.DDILStatus {
	controller.mutexForPaths.RLock()

	status := model.DDILStatus{
		Mode:         model.SystemModeConnected,
		ActivePath:   controller.activeMode,
		HealthyPaths: make([]model.PathMode, 0, len(controller.paths)),
		Timestamp:    controller.clk.Now().UTC(),
	}
	if controller.activeMode == "" {
		status.Mode = model.SystemModeOffline
	}

	connectedCount := 0
	var latencySum float64
	for _, path := range controller.paths {
		if path.State != model.StateConnected {
			continue
		}
		status.HealthyPaths = append(status.HealthyPaths, path.Mode)
		status.TotalBandwidthMbps += path.BandwidthMbps
		latencySum += path.LatencyMs
		connectedCount++
	}
	if connectedCount > 0 {
		status.AverageLatencyMs = latencySum / float64(connectedCount)
	}

	controller.mutexForPaths.RUnlock()

	// Readiness delegates to the cache manager with the configured defaults.
	status.Readiness = controller.cacheManager.Readiness(0, 0)

	return status
}

// GetPaths implements Controller.GetPaths.
func (controller *controllerImpl) GetPaths() []model.NetworkPath {
	controller.mutexForPaths.RLock()
	defer controller.mutexForPaths.RUnlock()

	result := make([]model.NetworkPath, 0, len(controller.paths))
	for _, path := range controller.paths {
		result = append(result, *path)
	}
	return result
}

// GetPath implements Controller.GetPath.
func (controller *controllerImpl) GetPath(mode model.PathMode) (model.NetworkPath, bool) {
	controller.mutexForPaths.RLock()
	defer controller.mutexForPaths.RUnlock()

	path, exists := controller.paths[mode]
	if !exists {
		return model.NetworkPath{}, false
	}
	return *path, true
}
