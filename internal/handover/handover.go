// Package handover executes transitions between network paths and reports
// their cost, independent of how the target path was selected. A strategy is
// an ordered list of timed stages plus a loss model; strategies run through
// an injectable stage runner so tests can substitute failures and avoid real
// sleeps.
package handover

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/internal/metrics"
	"github.com/edgefleet/ddil/internal/model"
	"github.com/edgefleet/ddil/pkg/factory"
)

const (
	// TargetHandoverMs is the service-level target for average duration.
	TargetHandoverMs = 100

	// MaxHandoverMs is the nominal ceiling for a single handover. Validated
	// in tests, not enforced at runtime.
	MaxHandoverMs = 200
)

// Stage is one timed step of a handover strategy.
type Stage struct {
	Name     string
	Duration time.Duration
}

// StageRunner performs a single stage. The production runner sleeps for the
// stage duration on the manager's clock; tests substitute runners that fail
// on demand.
type StageRunner interface {
	Run(ctx context.Context, stage Stage, source model.PathMode, target model.PathMode) error
}

// Manager executes path transitions and keeps a bounded history of their
// outcomes. Safe for concurrent use.
type Manager interface {
	// Execute runs the named strategy's stages and returns the resulting
	// record. Stage failures are captured inside the record (success=false,
	// packetsLost=-1), which is still appended to history. The returned error
	// is reserved for operator mistakes such as an unknown strategy name.
	Execute(ctx context.Context, source model.PathMode, target model.PathMode,
		strategy model.HandoverStrategy) (model.HandoverRecord, error)

	// DefaultStrategy returns the strategy used when callers name none.
	DefaultStrategy() model.HandoverStrategy

	// History returns a copy of the recorded handover attempts, oldest first.
	History() []model.HandoverRecord

	// Statistics summarizes the history.
	Statistics() model.HandoverStatistics

	// SuccessRate returns the percentage of successful attempts; 100 when
	// the history is empty.
	SuccessRate() float64
}

// strategyPlan binds a strategy name to its stages and expected loss.
type strategyPlan struct {
	stages      []Stage
	packetsLost int
}

// managerImpl is the concrete implementation of Manager.
type managerImpl struct {
	defaultStrategy model.HandoverStrategy
	plans           map[model.HandoverStrategy]strategyPlan

	mutexForHistory sync.Mutex
	history         []model.HandoverRecord
	historyMax      int

	clk         clock.Clock
	stageRunner StageRunner
	metricsSet  *metrics.Set
}

// NewManager creates a handover Manager from configuration. The stage
// durations and the gap-loss rate come from the config (the built-in numbers
// are defaults, not measured behaviour). A nil runner gets the sleeping
// production runner.
func NewManager(
	handoverConfig factory.HandoverSection,
	clk clock.Clock,
	stageRunner StageRunner,
	metricsSet *metrics.Set,
) Manager {
	if clk == nil {
		clk = clock.New()
	}
	if stageRunner == nil {
		stageRunner = &sleepRunner{clk: clk}
	}
	if metricsSet == nil {
		metricsSet = metrics.NewNopSet()
	}

	establish := time.Duration(handoverConfig.EstablishMs) * time.Millisecond
	migrate := time.Duration(handoverConfig.MigrateMs) * time.Millisecond
	cleanup := time.Duration(handoverConfig.CleanupMs) * time.Millisecond
	teardown := time.Duration(handoverConfig.TeardownMs) * time.Millisecond
	gap := time.Duration(handoverConfig.GapMs) * time.Millisecond
	parallel := time.Duration(handoverConfig.ParallelMs) * time.Millisecond
	shift := time.Duration(handoverConfig.ShiftMs) * time.Millisecond

	// break_before_make loses packets for the whole gap; the rate converts
	// the gap duration into an expected count.
	gapLoss := int(math.Round(float64(handoverConfig.GapMs) * handoverConfig.GapLossRatePktPerMs))

	plans := map[model.HandoverStrategy]strategyPlan{
		model.StrategyMakeBeforeBreak: {
			stages: []Stage{
				{Name: "establish", Duration: establish},
				{Name: "migrate", Duration: migrate},
				{Name: "cleanup", Duration: cleanup},
			},
			packetsLost: 0,
		},
		model.StrategyBreakBeforeMake: {
			stages: []Stage{
				{Name: "teardown", Duration: teardown},
				{Name: "gap", Duration: gap},
				{Name: "establish", Duration: establish},
			},
			packetsLost: gapLoss,
		},
		model.StrategySeamless: {
			stages: []Stage{
				{Name: "parallel", Duration: parallel},
				{Name: "shift", Duration: shift},
				{Name: "cleanup", Duration: cleanup},
			},
			packetsLost: 0,
		},
	}

	logger.HandoverLog.Infof("handover manager initialized defaultStrategy=%s historyMax=%d",
		handoverConfig.DefaultStrategy, handoverConfig.HistoryMax)

	return &managerImpl{
		defaultStrategy: handoverConfig.DefaultStrategy,
		plans:           plans,
		history:         make([]model.HandoverRecord, 0),
		historyMax:      handoverConfig.HistoryMax,
		clk:             clk,
		stageRunner:     stageRunner,
		metricsSet:      metricsSet,
	}
}

// Execute implements Manager.Execute.
func (manager *managerImpl) Execute(
	ctx context.Context,
	source model.PathMode,
	target model.PathMode,
	strategy model.HandoverStrategy,
) (model.HandoverRecord, error) {
	if strategy == "" {
		strategy = manager.defaultStrategy
	}

	plan, exists := manager.plans[strategy]
	if !exists {
		return model.HandoverRecord{}, fmt.Errorf("unknown handover strategy %q", strategy)
	}

	logger.HandoverLog.Infof("starting handover source=%s target=%s strategy=%s",
		source, target, strategy)

	startTime := manager.clk.Now().UTC()
	var stageError error
	for _, stage := range plan.stages {
		if runError := manager.stageRunner.Run(ctx, stage, source, target); runError != nil {
			stageError = fmt.Errorf("stage %q failed: %w", stage.Name, runError)
			break
		}
	}
	endTime := manager.clk.Now().UTC()
	durationMs := float64(endTime.Sub(startTime)) / float64(time.Millisecond)

	record := model.HandoverRecord{
		ID:         uuid.NewString(),
		SourcePath: source,
		TargetPath: target,
		Strategy:   strategy,
		StartTime:  startTime,
		EndTime:    endTime,
		DurationMs: durationMs,
	}

	if stageError != nil {
		record.Success = false
		record.PacketsLost = -1
		record.Error = stageError.Error()
		logger.HandoverLog.Errorf("handover failed source=%s target=%s: %v", source, target, stageError)
	} else {
		record.Success = true
		record.PacketsLost = plan.packetsLost
		logger.HandoverLog.Infof("handover complete source=%s target=%s durationMs=%.1f packetsLost=%d",
			source, target, durationMs, record.PacketsLost)
	}

	outcome := "success"
	if !record.Success {
		outcome = "failure"
	}
	manager.metricsSet.HandoverDuration.WithLabelValues(string(strategy), outcome).Observe(durationMs)
	manager.metricsSet.HandoversTotal.WithLabelValues(string(strategy), outcome).Inc()

	manager.appendRecord(record)
	return record, nil
}

// DefaultStrategy implements Manager.DefaultStrategy.
func (manager *managerImpl) DefaultStrategy() model.HandoverStrategy {
	return manager.defaultStrategy
}

// History implements Manager.History.
func (manager *managerImpl) History() []model.HandoverRecord {
	manager.mutexForHistory.Lock()
	defer manager.mutexForHistory.Unlock()

	historyCopy := make([]model.HandoverRecord, len(manager.history))
	copy(historyCopy, manager.history)
	return historyCopy
}

// Statistics implements Manager.Statistics.
func (manager *managerImpl) Statistics() model.HandoverStatistics {
	manager.mutexForHistory.Lock()
	defer manager.mutexForHistory.Unlock()

	statistics := model.HandoverStatistics{
		TotalHandovers: len(manager.history),
		MeetsTarget:    true,
	}

	if len(manager.history) == 0 {
		return statistics
	}

	var durationSum float64
	first := true
	for _, record := range manager.history {
		if !record.Success {
			statistics.Failed++
			continue
		}
		statistics.Successful++
		statistics.TotalPacketsLost += record.PacketsLost
		durationSum += record.DurationMs

		if first {
			statistics.MinDurationMs = record.DurationMs
			statistics.MaxDurationMs = record.DurationMs
			first = false
			continue
		}
		if record.DurationMs < statistics.MinDurationMs {
			statistics.MinDurationMs = record.DurationMs
		}
		if record.DurationMs > statistics.MaxDurationMs {
			statistics.MaxDurationMs = record.DurationMs
		}
	}

	if statistics.Successful > 0 {
		statistics.AverageDurationMs = durationSum / float64(statistics.Successful)
	}
	statistics.MeetsTarget = statistics.AverageDurationMs <= TargetHandoverMs

	return statistics
}

// SuccessRate implements Manager.SuccessRate.
func (manager *managerImpl) SuccessRate() float64 {
	manager.mutexForHistory.Lock()
	defer manager.mutexForHistory.Unlock()

	if len(manager.history) == 0 {
		return 100
	}

	successful := 0
	for _, record := range manager.history {
		if record.Success {
			successful++
		}
	}
	return float64(successful) / float64(len(manager.history)) * 100
}

// appendRecord adds a record to the bounded history, dropping the oldest
// entries when the cap is reached.
func (manager *managerImpl) appendRecord(record model.HandoverRecord) {
	manager.mutexForHistory.Lock()
	defer manager.mutexForHistory.Unlock()

	manager.history = append(manager.history, record)
	if manager.historyMax > 0 && len(manager.history) > manager.historyMax {
		overflow := len(manager.history) - manager.historyMax
		manager.history = manager.history[overflow:]
	}
}

// -----------------------------------------------------------------------------
// Production stage runner
// -----------------------------------------------------------------------------

// sleepRunner models each stage as a timed wait on the manager's clock. A
// cancelled context aborts the remaining stages.
type sleepRunner struct {
	clk clock.Clock
}

// Run implements StageRunner.
func (runner *sleepRunner) Run(
	ctx context.Context,
	stage Stage,
	source model.PathMode,
	target model.PathMode,
) error {
	if stage.Duration <= 0 {
		return nil
	}

	timer := runner.clk.Timer(stage.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
