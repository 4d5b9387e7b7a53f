package factory

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"

	"github.com/edgefleet/ddil/internal/model"
)

// DefaultConfigPath is used when no -c flag is given on the command line.
const DefaultConfigPath = "./config/ddilcfg.yaml"

// Config is the top-level configuration loaded from config/ddilcfg.yaml.
type Config struct {
	Info       InfoSection       `yaml:"info"`
	Controller ControllerSection `yaml:"controller"`
	Paths      []PathConfig      `yaml:"paths"`
	Handover   HandoverSection   `yaml:"handover"`
	Cache      CacheSection      `yaml:"cache"`
	Probe      ProbeSection      `yaml:"probe"`
	Sbi        SbiSection        `yaml:"sbi"`
	Notify     NotifySection     `yaml:"notify"`
	Metrics    MetricsSection    `yaml:"metrics"`
	Logging    LoggingSection    `yaml:"logging"`
}

// ---------- info ----------

type InfoSection struct {
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// ---------- controller ----------

type ControllerSection struct {
	// PollIntervalMs is the monitoring cycle interval. Default 1000.
	PollIntervalMs int `yaml:"pollIntervalMs"`

	// StopTimeoutSec bounds how long Stop() waits for the monitor loop to
	// observe termination. Default 5.
	StopTimeoutSec int `yaml:"stopTimeoutSec"`

	// DegradedSignalFloorDbm: a connected path whose signal strength falls
	// below this floor is classified Degraded. Default -95.
	DegradedSignalFloorDbm float64 `yaml:"degradedSignalFloorDbm"`

	// DegradedLossPctCeiling: a connected path whose packet loss exceeds
	// this ceiling is classified Degraded. Default 5.
	DegradedLossPctCeiling float64 `yaml:"degradedLossPctCeiling"`

	// EventQueueSize bounds the event dispatch queue. Default 64.
	EventQueueSize int `yaml:"eventQueueSize"`
}

// ---------- paths ----------

// PathConfig declares one link mode available to the controller. Priority is
// fixed for the lifetime of the process (lower = preferred).
type PathConfig struct {
	Mode     model.PathMode `yaml:"mode"`
	Priority int            `yaml:"priority"`
	Enabled  bool           `yaml:"enabled"`
}

// ---------- handover ----------

type HandoverSection struct {
	// DefaultStrategy is used when a handover request names no strategy.
	DefaultStrategy model.HandoverStrategy `yaml:"defaultStrategy"`

	// Stage durations (ms). Zero values fall back to the built-in defaults,
	// which mirror typical terminal behaviour but are illustrative, not
	// measured: establish 50, migrate 30, cleanup 10, teardown 10, gap 20,
	// parallel 30, shift 40.
	EstablishMs int `yaml:"establishMs"`
	MigrateMs   int `yaml:"migrateMs"`
	CleanupMs   int `yaml:"cleanupMs"`
	TeardownMs  int `yaml:"teardownMs"`
	GapMs       int `yaml:"gapMs"`
	ParallelMs  int `yaml:"parallelMs"`
	ShiftMs     int `yaml:"shiftMs"`

	// GapLossRatePktPerMs converts the break_before_make gap duration into
	// an expected packet-loss count. Default 0.1.
	GapLossRatePktPerMs float64 `yaml:"gapLossRatePktPerMs"`

	// HistoryMax bounds the handover history. Default 256.
	HistoryMax int `yaml:"historyMax"`
}

// ---------- cache ----------

type CacheSection struct {
	// CapacityBytes is the total cache capacity. Default 1 GiB.
	CapacityBytes int64 `yaml:"capacityBytes"`

	// PrefetchTTLHours is the default TTL applied to prefetched entries.
	// Default 24.
	PrefetchTTLHours float64 `yaml:"prefetchTTLHours"`

	// ConsumptionRateBytesPerHour is the assumed data consumption rate used
	// by readiness estimates. Default 64 MiB/h.
	ConsumptionRateBytesPerHour int64 `yaml:"consumptionRateBytesPerHour"`

	// RequiredAutonomyHours is the autonomy target reported in status
	// snapshots. Default 24.
	RequiredAutonomyHours float64 `yaml:"requiredAutonomyHours"`
}

// ---------- probe ----------

type ProbeSection struct {
	// Driver selects the telemetry source: "simulated" is the only built-in.
	Driver string `yaml:"driver"`

	// Seed makes the simulated driver deterministic. 0 seeds from wall time.
	Seed int64 `yaml:"seed"`
}

// ---------- sbi ----------

type SbiSection struct {
	// ListenAddr for the status/admin HTTP server, e.g. "0.0.0.0:8890".
	// Empty disables the server.
	ListenAddr string `yaml:"listenAddr"`
}

// ---------- notify ----------

type NotifySection struct {
	// WebhookURLs receive every controller event as an HTTP POST with a
	// JSON body. Empty list disables webhook delivery.
	WebhookURLs []string `yaml:"webhookUrls"`
}

// ---------- metrics ----------

type MetricsSection struct {
	// Enabled exposes Prometheus metrics on the sbi mux under /metrics.
	Enabled bool `yaml:"enabled"`
}

// ---------- logging ----------

type LoggingSection struct {
	Level        string `yaml:"level"` // "debug" | "info" | "warn" | "error"
	ReportCaller bool   `yaml:"reportCaller"`
}

// ---------- defaults ----------

func applyDefaults(cfg *Config) {
	// controller
	if cfg.Controller.PollIntervalMs <= 0 {
		cfg.Controller.PollIntervalMs = 1000
	}
	if cfg.Controller.StopTimeoutSec <= 0 {
		cfg.Controller.StopTimeoutSec = 5
	}
	if cfg.Controller.DegradedSignalFloorDbm == 0 {
		cfg.Controller.DegradedSignalFloorDbm = -95
	}
	if cfg.Controller.DegradedLossPctCeiling <= 0 {
		cfg.Controller.DegradedLossPctCeiling = 5
	}
	if cfg.Controller.EventQueueSize <= 0 {
		cfg.Controller.EventQueueSize = 64
	}

	// paths: an empty list gets the full set of known modes with the
	// conventional priorities (wired first, hf_radio last).
	if len(cfg.Paths) == 0 {
		cfg.Paths = []PathConfig{
			{Mode: model.PathModeWired, Priority: 1, Enabled: true},
			{Mode: model.PathModeCellular5G, Priority: 2, Enabled: true},
			{Mode: model.PathModeSatellite, Priority: 3, Enabled: true},
			{Mode: model.PathModeLoRaMesh, Priority: 4, Enabled: true},
			{Mode: model.PathModeHFRadio, Priority: 5, Enabled: true},
		}
	}

	// handover
	if cfg.Handover.DefaultStrategy == "" {
		cfg.Handover.DefaultStrategy = model.StrategyMakeBeforeBreak
	}
	if cfg.Handover.EstablishMs <= 0 {
		cfg.Handover.EstablishMs = 50
	}
	if cfg.Handover.MigrateMs <= 0 {
		cfg.Handover.MigrateMs = 30
	}
	if cfg.Handover.CleanupMs <= 0 {
		cfg.Handover.CleanupMs = 10
	}
	if cfg.Handover.TeardownMs <= 0 {
		cfg.Handover.TeardownMs = 10
	}
	if cfg.Handover.GapMs <= 0 {
		cfg.Handover.GapMs = 20
	}
	if cfg.Handover.ParallelMs <= 0 {
		cfg.Handover.ParallelMs = 30
	}
	if cfg.Handover.ShiftMs <= 0 {
		cfg.Handover.ShiftMs = 40
	}
	if cfg.Handover.GapLossRatePktPerMs <= 0 {
		cfg.Handover.GapLossRatePktPerMs = 0.1
	}
	if cfg.Handover.HistoryMax <= 0 {
		cfg.Handover.HistoryMax = 256
	}

	// cache
	if cfg.Cache.CapacityBytes <= 0 {
		cfg.Cache.CapacityBytes = 1 << 30
	}
	if cfg.Cache.PrefetchTTLHours <= 0 {
		cfg.Cache.PrefetchTTLHours = 24
	}
	if cfg.Cache.ConsumptionRateBytesPerHour <= 0 {
		cfg.Cache.ConsumptionRateBytesPerHour = 64 << 20
	}
	if cfg.Cache.RequiredAutonomyHours <= 0 {
		cfg.Cache.RequiredAutonomyHours = 24
	}

	// probe
	if strings.TrimSpace(cfg.Probe.Driver) == "" {
		cfg.Probe.Driver = "simulated"
	}

	// logging
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// ---------- validation ----------

func isValidListenAddr(hostport string) bool {
	return govalidator.IsDialString(hostport)
}

func validateConfig(cfg *Config) error {
	// controller
	if cfg.Controller.PollIntervalMs < 10 {
		return fmt.Errorf("controller.pollIntervalMs must be >= 10, got %d", cfg.Controller.PollIntervalMs)
	}
	if cfg.Controller.DegradedSignalFloorDbm > 0 {
		return fmt.Errorf("controller.degradedSignalFloorDbm must be <= 0, got %v",
			cfg.Controller.DegradedSignalFloorDbm)
	}

	// paths
	seen := make(map[model.PathMode]struct{}, len(cfg.Paths))
	for i, path := range cfg.Paths {
		if !model.IsKnownPathMode(path.Mode) {
			return fmt.Errorf("paths[%d].mode unknown: %q", i, path.Mode)
		}
		if _, ok := seen[path.Mode]; ok {
			return fmt.Errorf("paths[%d].mode duplicated: %q", i, path.Mode)
		}
		seen[path.Mode] = struct{}{}

		if path.Priority < 1 {
			return fmt.Errorf("paths[%d].priority must be >= 1, got %d", i, path.Priority)
		}
	}

	// handover
	if !model.IsKnownStrategy(cfg.Handover.DefaultStrategy) {
		return fmt.Errorf("handover.defaultStrategy unsupported: %q", cfg.Handover.DefaultStrategy)
	}

	// probe
	switch cfg.Probe.Driver {
	case "simulated":
	default:
		return fmt.Errorf("probe.driver unsupported: %q", cfg.Probe.Driver)
	}

	// sbi
	if cfg.Sbi.ListenAddr != "" && !isValidListenAddr(cfg.Sbi.ListenAddr) {
		return fmt.Errorf("sbi.listenAddr is invalid: %q", cfg.Sbi.ListenAddr)
	}

	// notify
	for i, webhookURL := range cfg.Notify.WebhookURLs {
		if !govalidator.IsRequestURL(webhookURL) {
			return fmt.Errorf("notify.webhookUrls[%d] is invalid: %q", i, webhookURL)
		}
	}

	// logging
	switch strings.ToLower(cfg.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level unsupported: %q", cfg.Logging.Level)
	}

	return nil
}
