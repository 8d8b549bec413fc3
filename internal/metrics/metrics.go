// Package metrics exposes prometheus gauges/counters for the agentic
// loop's health: how many turns are in flight, how large the Notification
// Bus's miss buffer and subscriber set are, and how many tool calls have
// run. Grounded on with-shrey-modular-monolith-template-golang's
// pkg/telemetry package (always-on Prometheus registry regardless of
// whether an OTLP collector is configured), expressed directly against
// prometheus/client_golang's promauto registration instead of the OTel
// metrics bridge — go.mod carries client_golang but not
// otel/exporters/prometheus, so this runtime's metrics surface is plain
// Prometheus rather than OTel-metrics-via-Prometheus-reader.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveLoops counts agentic-loop goroutines currently running a turn.
	ActiveLoops = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentrtd_active_loops",
		Help: "Number of agentic loop turns currently in flight.",
	})

	// LoopIterationsTotal counts every completed LLM-call-plus-dispatch
	// iteration, labeled by whether it concluded the turn.
	LoopIterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrtd_loop_iterations_total",
		Help: "Agentic loop iterations, labeled by outcome.",
	}, []string{"outcome"})

	// ToolCallsTotal counts tool dispatches, labeled by tool name and
	// whether the handler returned an error.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrtd_tool_calls_total",
		Help: "Tool dispatches, labeled by tool name and result.",
	}, []string{"tool", "result"})

	// BusSubscribers reports the Notification Bus's current live WS
	// subscriber count.
	BusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentrtd_bus_subscribers",
		Help: "Current live WebSocket subscriber count on the Notification Bus.",
	})

	// BusMissBufferSize reports the Notification Bus's current total
	// buffered-for-replay payload count across all conversations.
	BusMissBufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentrtd_bus_miss_buffer_size",
		Help: "Current total payloads buffered for miss-window replay.",
	})
)

// Handler returns the HTTP handler for the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
