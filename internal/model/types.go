// Package model defines shared data structures for the DDIL controller,
// including:
// - Network path descriptors and their connection states
// - Handover strategies and per-handover records
// - Cache entry priorities and derived statistics
// - Status snapshots exposed to monitoring/reporting collaborators.
//
// All types here are intentionally free of dependencies on other internal
// packages to avoid circular imports.
package model

import "time"

// PathMode identifies one configured link mode (one physical/logical path).
type PathMode string

const (
	PathModeSatellite  PathMode = "satellite"
	PathModeCellular5G PathMode = "cellular_5g"
	PathModeLoRaMesh   PathMode = "lora_mesh"
	PathModeHFRadio    PathMode = "hf_radio"
	PathModeWired      PathMode = "wired"
)

// KnownPathModes lists the link modes the controller understands. Paths in
// the configuration must use one of these identifiers.
var KnownPathModes = []PathMode{
	PathModeSatellite,
	PathModeCellular5G,
	PathModeLoRaMesh,
	PathModeHFRadio,
	PathModeWired,
}

// IsKnownPathMode reports whether mode is one of KnownPathModes.
func IsKnownPathMode(mode PathMode) bool {
	for _, known := range KnownPathModes {
		if mode == known {
			return true
		}
	}
	return false
}

// ConnectionState enumerates the per-path connection states. Transitions are
// driven exclusively by the controller's monitoring cycle:
//
//	Disconnected -> Connecting -> Connected <-> Degraded -> Failing -> Disconnected
//
// Only Connected and Degraded paths are eligible for selection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDegraded     ConnectionState = "degraded"
	StateFailing      ConnectionState = "failing"
)

// IsEligible reports whether a path in this state may be chosen as the
// active path.
func (state ConnectionState) IsEligible() bool {
	return state == StateConnected || state == StateDegraded
}

// SystemMode is the derived global mode: either a normal connected operation
// with one active path, or full DDIL (offline) operation.
type SystemMode string

const (
	SystemModeConnected SystemMode = "connected"
	SystemModeOffline   SystemMode = "offline"
)

// ---------------------------------------------------------------------------
// Network paths
// ---------------------------------------------------------------------------

// NetworkPath describes one configured link and its most recent telemetry.
// Priority is assigned at configuration time (lower = preferred) and never
// changes during operation.
type NetworkPath struct {
	Mode              PathMode        `json:"mode"`
	State             ConnectionState `json:"state"`
	LatencyMs         float64         `json:"latencyMs"`
	BandwidthMbps     float64         `json:"bandwidthMbps"`
	PacketLossPct     float64         `json:"packetLossPct"`
	SignalStrengthDbm float64         `json:"signalStrengthDbm"`
	Priority          int             `json:"priority"`
	Enabled           bool            `json:"enabled"`
	LastActive        time.Time       `json:"lastActive,omitempty"`
}

// LinkSample is one telemetry reading returned by a path probe.
type LinkSample struct {
	Connected         bool    `json:"connected"`
	LatencyMs         float64 `json:"latencyMs"`
	BandwidthMbps     float64 `json:"bandwidthMbps"`
	PacketLossPct     float64 `json:"packetLossPct"`
	SignalStrengthDbm float64 `json:"signalStrengthDbm"`
}

// ---------------------------------------------------------------------------
// Handover
// ---------------------------------------------------------------------------

// HandoverStrategy enumerates the supported transition strategies.
type HandoverStrategy string

const (
	StrategyMakeBeforeBreak HandoverStrategy = "make_before_break"
	StrategyBreakBeforeMake HandoverStrategy = "break_before_make"
	StrategySeamless        HandoverStrategy = "seamless"
)

// IsKnownStrategy reports whether strategy is one of the built-in strategies.
func IsKnownStrategy(strategy HandoverStrategy) bool {
	switch strategy {
	case StrategyMakeBeforeBreak, StrategyBreakBeforeMake, StrategySeamless:
		return true
	default:
		return false
	}
}

// HandoverRecord is the immutable result of one transition attempt. It is
// appended to a bounded history regardless of success. PacketsLost is -1
// when the attempt failed before the loss could be determined.
type HandoverRecord struct {
	ID          string           `json:"id"`
	SourcePath  PathMode         `json:"sourcePath"`
	TargetPath  PathMode         `json:"targetPath"`
	Strategy    HandoverStrategy `json:"strategy"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     time.Time        `json:"endTime"`
	DurationMs  float64          `json:"durationMs"`
	PacketsLost int              `json:"packetsLost"`
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
}

// HandoverStatistics is a derived, read-only summary over the handover history.
type HandoverStatistics struct {
	TotalHandovers    int     `json:"totalHandovers"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	AverageDurationMs float64 `json:"averageDurationMs"`
	MinDurationMs     float64 `json:"minDurationMs"`
	MaxDurationMs     float64 `json:"maxDurationMs"`
	TotalPacketsLost  int     `json:"totalPacketsLost"`
	MeetsTarget       bool    `json:"meetsTarget"`
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

// CachePriority orders cached data by importance. Numerically lower values
// are more important; Critical entries are never evicted.
type CachePriority int

const (
	PriorityCritical CachePriority = 1
	PriorityHigh     CachePriority = 2
	PriorityNormal   CachePriority = 3
	PriorityLow      CachePriority = 4
	PriorityPrefetch CachePriority = 5
)

// IsKnownCachePriority reports whether priority is one of the defined levels.
func IsKnownCachePriority(priority CachePriority) bool {
	return priority >= PriorityCritical && priority <= PriorityPrefetch
}

// CacheEntry describes one cached item. SizeBytes participates in the cache's
// byte accounting; Checksum and Metadata are opaque to the cache itself.
type CacheEntry struct {
	Key        string            `json:"key"`
	SizeBytes  int64             `json:"sizeBytes"`
	Priority   CachePriority     `json:"priority"`
	CreatedAt  time.Time         `json:"createdAt"`
	AccessedAt time.Time         `json:"accessedAt"`
	ExpiresAt  time.Time         `json:"expiresAt,omitempty"`
	Source     string            `json:"source"`
	Checksum   string            `json:"checksum,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CacheHealth classifies overall cache pressure.
type CacheHealth string

const (
	CacheHealthy  CacheHealth = "healthy"
	CacheWarning  CacheHealth = "warning"
	CacheCritical CacheHealth = "critical"
)

// CacheStatistics is a consistent, read-only snapshot of cache counters.
type CacheStatistics struct {
	CapacityBytes       int64   `json:"capacityBytes"`
	UsedBytes           int64   `json:"usedBytes"`
	FreeBytes           int64   `json:"freeBytes"`
	UtilizationPct      float64 `json:"utilizationPct"`
	EntryCount          int     `json:"entryCount"`
	HitRatePct          float64 `json:"hitRatePct"`
	MissRatePct         float64 `json:"missRatePct"`
	EvictionCount       int64   `json:"evictionCount"`
	PrefetchAccuracyPct float64 `json:"prefetchAccuracyPct"`
}

// ReadinessReport estimates how long the free cache capacity can sustain
// autonomous (offline) operation at a given consumption rate.
type ReadinessReport struct {
	Ready            bool    `json:"ready"`
	AvailableHours   float64 `json:"availableHours"`
	RequiredHours    float64 `json:"requiredHours"`
	CacheUtilization float64 `json:"cacheUtilizationPct"`
}

// ---------------------------------------------------------------------------
// Events and status export
// ---------------------------------------------------------------------------

// EventType enumerates the controller events observable by callbacks.
type EventType string

const (
	EventPathChange EventType = "path_change"
	EventHandover   EventType = "handover"
	EventDDILEnter  EventType = "ddil_enter"
	EventDDILExit   EventType = "ddil_exit"
)

// Event is one controller notification delivered to registered callbacks and
// optional webhook subscribers. OldMode/NewMode are set for path_change and
// handover events; Record is set for handover events only.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	OldMode   PathMode        `json:"oldMode,omitempty"`
	NewMode   PathMode        `json:"newMode,omitempty"`
	Record    *HandoverRecord `json:"record,omitempty"`
}

// DDILStatus is the read-only structured snapshot returned by the controller
// for serialization to a monitoring/reporting layer.
type DDILStatus struct {
	Mode               SystemMode      `json:"mode"`
	ActivePath         PathMode        `json:"activePath,omitempty"`
	HealthyPaths       []PathMode      `json:"healthyPaths"`
	TotalBandwidthMbps float64         `json:"totalBandwidthMbps"`
	AverageLatencyMs   float64         `json:"averageLatencyMs"`
	Readiness          ReadinessReport `json:"readiness"`
	Timestamp          time.Time       `json:"timestamp"`
}

// Health is the minimal lifecycle snapshot consumed by a process supervisor.
type Health struct {
	Healthy bool `json:"healthy"`
}
