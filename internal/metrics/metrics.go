// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinsteon",
			Subsystem: "plm",
			Name:      "frames_received_total",
			Help:      "Decoded PLM frames by message type.",
		},
		[]string{"type"},
	)
	framingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinsteon",
			Subsystem: "plm",
			Name:      "framing_errors_total",
			Help:      "Framing errors by kind.",
		},
		[]string{"kind"},
	)
	framesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinsteon",
			Subsystem: "plm",
			Name:      "frames_written_total",
			Help:      "Frames written to the modem.",
		},
		[]string{"success"},
	)
	deliveryAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vinsteon",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Reliable delivery writes, retries included.",
		},
	)
	deliveryResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinsteon",
			Subsystem: "delivery",
			Name:      "results_total",
			Help:      "Reliable delivery outcomes.",
		},
		[]string{"outcome"},
	)
	deliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vinsteon",
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "Time from submit to a terminal state.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"outcome"},
	)
	deliveryPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vinsteon",
			Subsystem: "delivery",
			Name:      "pending",
			Help:      "Reliable requests awaiting a terminal state.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinsteon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vinsteon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	mcpCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vinsteon",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool calls by tool and result.",
		},
		[]string{"tool", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived, framingErrors, framesWritten,
			deliveryAttempts, deliveryResults, deliveryDuration, deliveryPending,
			httpRequests, httpDuration, mcpCalls,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordFrame(msgType string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(msgType).Inc()
}

func RecordFramingError(kind string) {
	RegisterMetrics()
	framingErrors.WithLabelValues(kind).Inc()
}

func RecordWrite(success bool) {
	RegisterMetrics()
	framesWritten.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordDeliveryAttempt() {
	RegisterMetrics()
	deliveryAttempts.Inc()
}

func RecordDeliveryResult(outcome string, duration time.Duration) {
	RegisterMetrics()
	deliveryResults.WithLabelValues(outcome).Inc()
	deliveryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func SetDeliveryPending(n int) {
	RegisterMetrics()
	deliveryPending.Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMCPCall(tool string, success bool) {
	RegisterMetrics()
	mcpCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
}
