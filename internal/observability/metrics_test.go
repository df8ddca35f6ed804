package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg

	m := NewMetrics()
	m.ProcessesActive.WithLabelValues("running").Set(3)
	m.ToolExecutions.WithLabelValues("read_file", "success").Inc()
	m.CostTotal.Add(1.25)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var found bool
	for _, f := range families {
		if f.GetName() == "magi_cost_total_usd" {
			found = true
			require.Len(t, f.Metric, 1)
			require.InDelta(t, 1.25, f.Metric[0].GetCounter().GetValue(), 0.0001)
		}
	}
	require.True(t, found, "expected magi_cost_total_usd to be registered")
}
