// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/portdrop/internal/store"
)

func TestMetrics_ReadsStoreAtScrape(t *testing.T) {
	s := store.New()
	m := NewMetrics(s)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, m.Register(reg))

	require.NoError(t, s.SetPort(4040))
	s.Record().Add(store.CounterTotal, 4)
	s.Record().Add(store.CounterTCP, 3)
	s.Record().Add(store.CounterDropped, 1)
	s.Record().Add(store.CounterPassed, 2)

	expected := `
# HELP portdrop_filter_packets_total Packets seen by the XDP port filter, by counter
# TYPE portdrop_filter_packets_total counter
portdrop_filter_packets_total{counter="dropped"} 1
portdrop_filter_packets_total{counter="passed"} 2
portdrop_filter_packets_total{counter="tcp"} 3
portdrop_filter_packets_total{counter="total"} 4
# HELP portdrop_filter_port Configured TCP port, absent when unset
# TYPE portdrop_filter_port gauge
portdrop_filter_port 4040
# HELP portdrop_filter_port_configured Whether a port is configured (1) or the filter passes everything (0)
# TYPE portdrop_filter_port_configured gauge
portdrop_filter_port_configured 1
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected),
		"portdrop_filter_packets_total", "portdrop_filter_port", "portdrop_filter_port_configured"))

	// later scrapes see later values
	s.Record().Increment(store.CounterTotal)
	require.NoError(t, s.ClearPort())
	expected = `
# HELP portdrop_filter_port_configured Whether a port is configured (1) or the filter passes everything (0)
# TYPE portdrop_filter_port_configured gauge
portdrop_filter_port_configured 0
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected),
		"portdrop_filter_port_configured", "portdrop_filter_port"))
}

func TestMetrics_DropRatio(t *testing.T) {
	s := store.New()
	s.Record().Add(store.CounterTotal, 4)
	s.Record().Add(store.CounterDropped, 1)

	m := NewMetrics(s)
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "portdrop_filter_drop_ratio" {
			assert.InDelta(t, 0.25, mf.GetMetric()[0].GetGauge().GetValue(), 1e-9)
			return
		}
	}
	t.Fatal("drop ratio not exported")
}

func TestMetrics_UnavailableStoreCountsErrors(t *testing.T) {
	m := NewMetrics(store.NewWithoutRecord())
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	_, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ScrapeErrors))
}

func TestMetrics_HookGauges(t *testing.T) {
	m := NewMetrics(store.New())
	m.HookAttached.WithLabelValues("eth0", "generic").Set(1)
	m.HookErrors.WithLabelValues("eth0", "attach").Inc()
	m.PortUpdates.WithLabelValues("set").Inc()

	assert.Equal(t, 1.0, promtest.ToFloat64(m.HookAttached.WithLabelValues("eth0", "generic")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.HookErrors.WithLabelValues("eth0", "attach")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.PortUpdates.WithLabelValues("set")))
}
