// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stellar"

// Metrics holds the collectors and the registry they live in. Each engine
// owns its own registry so tests and restarts never collide on the default
// one.
type Metrics struct {
	registry *prometheus.Registry

	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	Connections    *prometheus.GaugeVec
	PendingActions prometheus.Gauge
	MessagesSent   *prometheus.CounterVec
	SendFailures   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "actions",
				Name:      "total",
				Help:      "Completed action invocations by action and outcome",
			},
			[]string{"action", "status"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "actions",
				Name:      "duration_seconds",
				Help:      "Action processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		Connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connections",
				Name:      "active",
				Help:      "Live connections by transport",
			},
			[]string{"type"},
		),
		PendingActions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "actions",
				Name:      "pending",
				Help:      "Actions currently in flight",
			},
		),
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Messages written to clients by transport",
			},
			[]string{"type"},
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "send_failures_total",
				Help:      "Failed client writes by transport",
			},
			[]string{"type"},
		),
	}
	m.registry.MustRegister(
		m.ActionsTotal,
		m.ActionDuration,
		m.Connections,
		m.PendingActions,
		m.MessagesSent,
		m.SendFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ActionStarted() {
	m.PendingActions.Inc()
}

func (m *Metrics) ActionCompleted(action, status string, d time.Duration) {
	m.PendingActions.Dec()
	m.ActionsTotal.WithLabelValues(action, status).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) ConnectionOpened(connType string) {
	m.Connections.WithLabelValues(connType).Inc()
}

func (m *Metrics) ConnectionClosed(connType string) {
	m.Connections.WithLabelValues(connType).Dec()
}

func (m *Metrics) MessageSent(connType string, err error) {
	if err != nil {
		m.SendFailures.WithLabelValues(connType).Inc()
		return
	}
	m.MessagesSent.WithLabelValues(connType).Inc()
}
