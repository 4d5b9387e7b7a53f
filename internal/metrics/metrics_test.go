package metrics

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/ddil/internal/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitLog("error", false)
	os.Exit(m.Run())
}

func TestNewSetRegistersAllCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	set := NewSet(registry)

	set.ActivePath.WithLabelValues("wired").Set(1)
	set.PathState.WithLabelValues("wired").Set(StateValue("connected"))
	set.Offline.Set(0)
	set.DDILTransitions.WithLabelValues("enter").Inc()
	set.HandoversTotal.WithLabelValues("seamless", "success").Inc()
	set.HandoverDuration.WithLabelValues("seamless", "success").Observe(80)
	set.CacheHits.Inc()
	set.CacheUsedBytes.Set(4096)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Equal(t, float64(1), testutil.ToFloat64(set.ActivePath.WithLabelValues("wired")))
	assert.Equal(t, float64(2), testutil.ToFloat64(set.PathState.WithLabelValues("wired")))
	assert.Equal(t, float64(1), testutil.ToFloat64(set.DDILTransitions.WithLabelValues("enter")))
	assert.Equal(t, float64(4096), testutil.ToFloat64(set.CacheUsedBytes))
}

func TestNopSetIsUsable(t *testing.T) {
	set := NewNopSet()
	set.CacheMisses.Inc()
	set.Offline.Set(1)
}

func TestStateValueEncoding(t *testing.T) {
	assert.Equal(t, float64(0), StateValue("disconnected"))
	assert.Equal(t, float64(1), StateValue("connecting"))
	assert.Equal(t, float64(2), StateValue("connected"))
	assert.Equal(t, float64(3), StateValue("degraded"))
	assert.Equal(t, float64(4), StateValue("failing"))
	assert.Equal(t, float64(-1), StateValue("quantum"))
}
