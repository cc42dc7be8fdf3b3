package metrics_test

import (
	"testing"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.Transition("stable")
		m.Resolution("push")
		m.ProfileFetch("backend", "ok")
		m.CachePurge()
		m.SignOutFailure()
	})
}

func TestRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Resolution("timeout")
	m.Resolution("timeout")
	m.ProfileFetch("provider", "ok")
	m.CachePurge()

	require.Equal(t, 2.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("timeout")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ProfileFetches.WithLabelValues("provider", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CachePurges))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
