package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m.Registry)

	m.ActionsScheduled.WithLabelValues("high").Inc()
	m.CacheHits.Inc()
	m.CASBytesStored.Set(1024)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsHandlerServesExpositionFormat(t *testing.T) {
	m := NewMetrics()
	m.CacheMisses.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bldr_actioncache_misses_total")
}

func TestSeparateMetricsInstancesDoNotCollide(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.CacheHits.Inc()
	a.CacheHits.Inc()
	b.CacheHits.Inc()

	famA, err := a.Registry.Gather()
	require.NoError(t, err)
	famB, err := b.Registry.Gather()
	require.NoError(t, err)
	assert.NotEqual(t, famA, famB)
}
