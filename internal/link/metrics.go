// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// Metrics exposes request counters for the Controller link.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests         *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	timeouts         prometheus.Counter
	latency          prometheus.Histogram
}

// NewMetrics creates and registers link metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowremote",
			Subsystem: "link",
			Name:      "requests_total",
			Help:      "Commands sent to the controller.",
		}, []string{"command"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowremote",
			Subsystem: "link",
			Name:      "delivery_failures_total",
			Help:      "Frames the radio did not acknowledge.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowremote",
			Subsystem: "link",
			Name:      "response_timeouts_total",
			Help:      "Requests that got no report before the deadline.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowremote",
			Subsystem: "link",
			Name:      "response_latency_seconds",
			Help:      "Time from send to controller report.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.deliveryFailures, m.timeouts, m.latency)
	}
	return m
}

func (m *Metrics) request(cmd uint8) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(nowlink.CommandName(cmd)).Inc()
}

func (m *Metrics) deliveryFailure() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) timeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *Metrics) observe(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
}
