// Package cache implements the capacity-bounded, priority-aware store that
// keeps data needed for autonomous (offline) operation. It is independent of
// network state: application logic calls Put/Get directly, and the controller
// only consults Readiness when composing its status snapshot.
//
// Eviction policy: when an insert would exceed capacity, the lowest-priority
// (numerically largest), then least-recently-accessed, non-Critical entry is
// evicted until space is available. Critical entries are never evicted; a put
// that cannot be satisfied without touching Critical data fails instead.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/internal/metrics"
	"github.com/edgefleet/ddil/internal/model"
	"github.com/edgefleet/ddil/pkg/factory"
)

// PutOptions carries the optional attributes of a cache insert.
type PutOptions struct {
	// TTL bounds the entry's lifetime. Zero means no expiry.
	TTL time.Duration

	// Checksum is an opaque integrity tag carried alongside the entry.
	Checksum string

	// Metadata is opaque to the cache.
	Metadata map[string]string
}

// Manager is the cache abstraction used by application logic and by the
// controller's readiness reporting. All operations are safe to be called
// from concurrent goroutines.
type Manager interface {
	// Put stores an entry, evicting lower-priority data if needed. It returns
	// false when the entry cannot fit without evicting Critical data.
	Put(key string, sizeBytes int64, source string, priority model.CachePriority, options PutOptions) bool

	// Get returns the entry if present and not expired, refreshing its access
	// time. Expired entries are removed lazily on access.
	Get(key string) (model.CacheEntry, bool)

	// Remove deletes an entry explicitly. It returns false when the key is
	// unknown.
	Remove(key string) bool

	// ClearExpired removes every expired entry and returns the count removed.
	ClearExpired() int

	// ClearByPriority removes every entry of the given priority class and
	// returns the count removed.
	ClearByPriority(priority model.CachePriority) int

	// Prefetch inserts the given keys at Prefetch priority with the default
	// prefetch TTL, skipping keys already present. It returns the number of
	// entries inserted.
	Prefetch(keys []string, source string, sizeEstimateBytes int64) int

	// Statistics returns a consistent snapshot of the cache counters.
	Statistics() model.CacheStatistics

	// Health classifies current cache pressure.
	Health() model.CacheHealth

	// Readiness estimates how many hours of autonomous operation the free
	// capacity sustains at the given consumption rate. Non-positive arguments
	// fall back to the configured defaults.
	Readiness(requiredHours float64, consumptionRateBytesPerHour int64) model.ReadinessReport
}

// managerImpl keeps all entries in memory behind a single mutex. The byte
// counter is updated atomically with every index mutation, so usedBytes is
// always the exact sum of current entry sizes.
type managerImpl struct {
	mutexForEntries sync.Mutex
	entries         map[string]*model.CacheEntry
	usedBytes       int64

	capacityBytes       int64
	prefetchTTL         time.Duration
	consumptionRate     int64 // bytes per hour assumed by readiness estimates
	requiredAutonomyHrs float64

	hits          int64
	misses        int64
	evictions     int64
	prefetchHits  int64
	prefetchTotal int64

	clk        clock.Clock
	metricsSet *metrics.Set
}

// NewManager creates a cache Manager from configuration. The clock is
// injected so TTL behaviour can be tested deterministically.
func NewManager(cacheConfig factory.CacheSection, clk clock.Clock, metricsSet *metrics.Set) Manager {
	if clk == nil {
		clk = clock.New()
	}
	if metricsSet == nil {
		metricsSet = metrics.NewNopSet()
	}

	logger.CacheLog.Infof(
		"cache manager initialized capacityBytes=%d prefetchTtlHours=%v consumptionRateBytesPerHour=%d",
		cacheConfig.CapacityBytes, cacheConfig.PrefetchTTLHours, cacheConfig.ConsumptionRateBytesPerHour,
	)

	return &managerImpl{
		entries:             make(map[string]*model.CacheEntry),
		capacityBytes:       cacheConfig.CapacityBytes,
		prefetchTTL:         time.Duration(cacheConfig.PrefetchTTLHours * float64(time.Hour)),
		consumptionRate:     cacheConfig.ConsumptionRateBytesPerHour,
		requiredAutonomyHrs: cacheConfig.RequiredAutonomyHours,
		clk:                 clk,
		metricsSet:          metricsSet,
	}
}

// Put implements Manager.Put.
func (manager *managerImpl) Put(
	key string,
	sizeBytes int64,
	source string,
	priority model.CachePriority,
	options PutOptions,
) bool {
	if key == "" || sizeBytes < 0 || !model.IsKnownCachePriority(priority) {
		return false
	}
	if sizeBytes > manager.capacityBytes {
		logger.CacheLog.Warnf("rejecting oversized entry key=%q sizeBytes=%d capacityBytes=%d",
			key, sizeBytes, manager.capacityBytes)
		return false
	}

	manager.mutexForEntries.Lock()
	defer manager.mutexForEntries.Unlock()

	// Re-inserting an existing key replaces the old entry. We take it out of
	// the accounting first so the eviction loop sees the real free space, and
	// put it back if the insert turns out to be infeasible.
	previousEntry, hadPrevious := manager.entries[key]
	if hadPrevious {
		manager.removeEntryLocked(key)
	}

	for manager.usedBytes+sizeBytes > manager.capacityBytes {
		if !manager.evictOneLocked() {
			logger.CacheLog.Warnf(
				"cannot store entry key=%q sizeBytes=%d: cache full and no evictable entries", key, sizeBytes)
			if hadPrevious {
				manager.entries[key] = previousEntry
				manager.usedBytes += previousEntry.SizeBytes
				manager.metricsSet.CacheUsedBytes.Set(float64(manager.usedBytes))
			}
			return false
		}
	}

	now := manager.clk.Now().UTC()
	entry := &model.CacheEntry{
		Key:        key,
		SizeBytes:  sizeBytes,
		Priority:   priority,
		CreatedAt:  now,
		AccessedAt: now,
		Source:     source,
		Checksum:   options.Checksum,
		Metadata:   options.Metadata,
	}
	if options.TTL > 0 {
		entry.ExpiresAt = now.Add(options.TTL)
	}

	manager.entries[key] = entry
	manager.usedBytes += sizeBytes
	manager.metricsSet.CacheUsedBytes.Set(float64(manager.usedBytes))

	if priority == model.PriorityPrefetch {
		manager.prefetchTotal++
	}

	logger.CacheLog.Debugf("stored entry key=%q sizeBytes=%d priority=%d usedBytes=%d",
		key, sizeBytes, priority, manager.usedBytes)
	return true
}

// Get implements Manager.Get.
func (manager *managerImpl) Get(key string) (model.CacheEntry, bool) {
	manager.mutexForEntries.Lock()
	defer manager.mutexForEntries.Unlock()

	entry, exists := manager.entries[key]
	if !exists {
		manager.misses++
		manager.metricsSet.CacheMisses.Inc()
		return model.CacheEntry{}, false
	}

	now := manager.clk.Now().UTC()
	if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
		manager.removeEntryLocked(key)
		manager.misses++
		manager.metricsSet.CacheMisses.Inc()
		return model.CacheEntry{}, false
	}

	entry.AccessedAt = now
	manager.hits++
	manager.metricsSet.CacheHits.Inc()

	if entry.Priority == model.PriorityPrefetch {
		manager.prefetchHits++
	}

	return *entry, true
}

// Remove implements Manager.Remove.
func (manager *managerImpl) Remove(key string) bool {
	manager.mutexForEntries.Lock()
	defer manager.mutexForEntries.Unlock()
	return manager.removeEntryLocked(key)
}

// ClearExpired implements Manager.ClearExpired.
func (manager *managerImpl) ClearExpired() int {
	manager.mutexForEntries.Lock()
	defer manager.mutexForEntries.Unlock()

	now := manager.clk.Now().UTC()
	expiredKeys := make([]string, 0)
	for key, entry := range manager.entries {
		if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		manager.removeEntryLocked(key)
	}

	if len(expiredKeys) > 0 {
		logger.CacheLog.Infof("cleared %d expired entries", len(expiredKeys))
	}
	return len(expiredKeys)
}

// ClearByPriority implements Manager.ClearByPriority.
func (manager *managerImpl) ClearByPriority(priority model.CachePriority) int {
	manager.mutexForEntries.Lock()
	defer manager.mutexForEntries.Unlock()

	keysToRemove := make([]string, 0)
	for key, entry := range manager.entries {
		if entry.Priority == priority {
			keysToRemove = append(keysToRemove, key)
		}
	}

	for _, key := range keysToRemove {
		manager.removeEntryLocked(key)
	}

	if len(keysToRemove) > 0 {
		logger.CacheLog.Infof("cleared %d entries with priority=%d", len(keysToRemove), priority)
	}
	return len(keysToRemove)
}

// Prefetch implements Manager.Prefetch.
func (manager *managerImpl) Prefetch(keys []string, source string, sizeEstimateBytes int64) int {
	prefetched := 0

	for _, key := range keys {
		if manager.contains(key) {
			continue
		}
		if manager.Put(key, sizeEstimateBytes, source, model.PriorityPrefetch, PutOptions{
			TTL: manager.prefetchTTL,
		}) {
			prefetched++
		}
	}

	logger.CacheLog.Infof("prefetched %d/%d entries source=%q", prefetched, len(keys), source)
	return prefetched
}

// Statistics implements Manager.Statistics.
func (manager *managerImpl) Statistics() model.CacheStatistics {
	manager.mutexForEntries.Lock()
	defer manager.mutexForEntries.Unlock()

	statistics := model.CacheStatistics{
		CapacityBytes: manager.capacityBytes,
		UsedBytes:     manager.usedBytes,
		FreeBytes:     manager.capacityBytes - manager.usedBytes,
		EntryCount:    len(manager.entries),
		EvictionCount: manager.evictions,
	}
	if manager.capacityBytes > 0 {
		statistics.UtilizationPct = float64(manager.usedBytes) / float64(manager.capacityBytes) * 100
	}

	totalRequests := manager.hits + manager.misses
	if totalRequests > 0 {
		statistics.HitRatePct = float64(manager.hits) / float64(totalRequests) * 100
		statistics.MissRatePct = float64(manager.misses) / float64(totalRequests) * 100
	}
	if manager.prefetchTotal > 0 {
		statistics.PrefetchAccuracyPct = float64(manager.prefetchHits) / float64(manager.prefetchTotal) * 100
	}

	return statistics
}

// Health implements Manager.Health.
func (manager *managerImpl) Health() model.CacheHealth {
	statistics := manager.Statistics()

	switch {
	case statistics.UtilizationPct > 95:
		return model.CacheCritical
	case statistics.UtilizationPct > 80:
		return model.CacheWarning
	default:
		return model.CacheHealthy
	}
}

// Readiness implements Manager.Readiness.
func (manager *managerImpl) Readiness(
	requiredHours float64,
	consumptionRateBytesPerHour int64,
) model.ReadinessReport {
	if requiredHours <= 0 {
		requiredHours = manager.requiredAutonomyHrs
	}
	if consumptionRateBytesPerHour <= 0 {
		consumptionRateBytesPerHour = manager.consumptionRate
	}

	statistics := manager.Statistics()

	availableHours := 0.0
	if consumptionRateBytesPerHour > 0 {
		availableHours = float64(statistics.FreeBytes) / float64(consumptionRateBytesPerHour)
	}

	return model.ReadinessReport{
		Ready:            availableHours >= requiredHours,
		AvailableHours:   availableHours,
		RequiredHours:    requiredHours,
		CacheUtilization: statistics.UtilizationPct,
	}
}

// contains reports key presence without touching hit/miss counters.
func (manager *managerImpl) contains(key string) bool {
	manager.mutexForEntries.Lock()
	defer manager.mutexForEntries.Unlock()
	_, exists := manager.entries[key]
	return exists
}

// removeEntryLocked deletes an entry and updates the byte accounting. The
// caller must hold mutexForEntries.
func (manager *managerImpl) removeEntryLocked(key string) bool {
	entry, exists := manager.entries[key]
	if !exists {
		return false
	}
	delete(manager.entries, key)
	manager.usedBytes -= entry.SizeBytes
	manager.metricsSet.CacheUsedBytes.Set(float64(manager.usedBytes))
	return true
}

// evictOneLocked removes the single best eviction candidate: non-Critical
// entries ordered by priority descending (least important first), then
// access time ascending (oldest first), then key for full determinism.
// It returns false when no evictable entry remains. The caller must hold
// mutexForEntries.
func (manager *managerImpl) evictOneLocked() bool {
	candidates := make([]*model.CacheEntry, 0, len(manager.entries))
	for _, entry := range manager.entries {
		if entry.Priority != model.PriorityCritical {
			candidates = append(candidates, entry)
		}
	}

	if len(candidates) == 0 {
		return false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if !candidates[i].AccessedAt.Equal(candidates[j].AccessedAt) {
			return candidates[i].AccessedAt.Before(candidates[j].AccessedAt)
		}
		return candidates[i].Key < candidates[j].Key
	})

	victim := candidates[0]
	manager.removeEntryLocked(victim.Key)
	manager.evictions++
	manager.metricsSet.CacheEvictions.Inc()

	logger.CacheLog.Debugf("evicted entry key=%q priority=%d sizeBytes=%d",
		victim.Key, victim.Priority, victim.SizeBytes)
	return true
}
