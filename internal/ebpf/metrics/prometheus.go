// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/portdrop/internal/store"
)

const namespace = "portdrop"

// Metrics exports the filter counters and configuration. Counters are
// read from the store at scrape time; nothing is cached.
type Metrics struct {
	src store.Control

	packets      *prometheus.Desc
	dropRate     *prometheus.Desc
	port         *prometheus.Desc
	portSet      *prometheus.Desc
	ScrapeErrors prometheus.Counter
	HookAttached *prometheus.GaugeVec
	HookErrors   *prometheus.CounterVec
	PortUpdates  *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics collector over src.
func NewMetrics(src store.Control) *Metrics {
	return &Metrics{
		src: src,
		packets: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "filter", "packets_total"),
			"Packets seen by the XDP port filter, by counter",
			[]string{"counter"}, nil),
		dropRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "filter", "drop_ratio"),
			"Dropped packets divided by total packets",
			nil, nil),
		port: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "filter", "port"),
			"Configured TCP port, absent when unset",
			nil, nil),
		portSet: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "filter", "port_configured"),
			"Whether a port is configured (1) or the filter passes everything (0)",
			nil, nil),

		ScrapeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_errors_total",
			Help:      "Failed reads of the filter state during scrapes",
		}),
		HookAttached: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hook_attached",
			Help:      "Whether the XDP program is attached (1 for attached, 0 for detached)",
		}, []string{"interface", "mode"}),
		HookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_errors_total",
			Help:      "Total number of XDP attach and detach errors",
		}, []string{"interface", "operation"}),
		PortUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_updates_total",
			Help:      "Control plane port changes",
		}, []string{"operation"}),
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.packets
	ch <- m.dropRate
	ch <- m.port
	ch <- m.portSet
	m.ScrapeErrors.Describe(ch)
	m.HookAttached.Describe(ch)
	m.HookErrors.Describe(ch)
	m.PortUpdates.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if snap, err := m.src.Snapshot(); err != nil {
		m.ScrapeErrors.Inc()
	} else {
		for _, c := range store.Counters() {
			ch <- prometheus.MustNewConstMetric(m.packets, prometheus.CounterValue, float64(snap.Get(c)), c.String())
		}
		ch <- prometheus.MustNewConstMetric(m.dropRate, prometheus.GaugeValue, snap.DropRate()/100)
	}

	if port, ok, err := m.src.LoadPort(); err != nil {
		m.ScrapeErrors.Inc()
	} else {
		set := 0.0
		if ok {
			set = 1
			ch <- prometheus.MustNewConstMetric(m.port, prometheus.GaugeValue, float64(port))
		}
		ch <- prometheus.MustNewConstMetric(m.portSet, prometheus.GaugeValue, set)
	}

	m.ScrapeErrors.Collect(ch)
	m.HookAttached.Collect(ch)
	m.HookErrors.Collect(ch)
	m.PortUpdates.Collect(ch)
}

// Register registers the collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m)
}
