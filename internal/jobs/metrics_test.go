package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("invoice:link-jobs").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("invoice:link-jobs").End(boom), boom)
	m.AddAffected("invoice:overdue-sweep", 4)
	m.AddAffected("invoice:overdue-sweep", 0)

	assert.Equal(t, 1.0, counterValue(t, reg, "vazana_jobs_total", map[string]string{"job": "invoice:link-jobs", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "vazana_jobs_failures_total", map[string]string{"job": "invoice:link-jobs"}))
	assert.Equal(t, 4.0, counterValue(t, reg, "vazana_job_affected_rows_total", map[string]string{"job": "invoice:overdue-sweep"}))
}

func TestNilMetricsTracker(t *testing.T) {
	var m *Metrics
	err := errors.New("kept")
	assert.Equal(t, err, m.Track("x").End(err))
	m.AddAffected("x", 1)
}
