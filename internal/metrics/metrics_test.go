package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewForestMetrics(reg)

	m.RecordBuild(9, 2, 1, 150*time.Millisecond)
	m.RecordBuild(10, 0, 0, time.Second)
	m.RecordPredictions(25)

	assert.Equal(t, 19.0, testutil.ToFloat64(m.treesGrown))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.treesRetried))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.treesDropped))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.predictions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.buildSeconds))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *ForestMetrics
	assert.NotPanics(t, func() {
		m.RecordBuild(1, 1, 1, time.Second)
		m.RecordPredictions(3)
	})
}
