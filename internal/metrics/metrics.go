// Package metrics exposes the service's prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Currently registered websocket connections by role.",
		},
		[]string{"role"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_frames_sent_total",
			Help: "Frames pushed to client sockets by delivery method.",
		},
		[]string{"method"},
	)
	sendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_send_failures_total",
			Help: "Frame deliveries that failed and dropped the connection.",
		},
	)
	brokerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_broker_state",
			Help: "Broker connection state (0 disconnected, 1 connecting, 2 connected, 3 failed).",
		},
	)
	bufferDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_pending_events",
			Help: "Events buffered locally while the exchange is unreachable.",
		},
	)
	bufferDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_pending_events_dropped_total",
			Help: "Events dropped because the pending buffer was full.",
		},
	)
	alertsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_alerts_dispatched_total",
			Help: "Location alerts dispatched by alert type and priority.",
		},
		[]string{"alert_type", "priority"},
	)
	alertEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_alert_escalations_total",
			Help: "Alert escalations performed.",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		activeConnections, framesSent, sendFailures,
		brokerState, bufferDepth, bufferDrops,
		alertsDispatched, alertEscalations,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func SetActiveConnections(role string, n int) {
	activeConnections.WithLabelValues(role).Set(float64(n))
}

func IncFramesSent(method string) {
	framesSent.WithLabelValues(method).Inc()
}

func IncSendFailure() {
	sendFailures.Inc()
}

func SetBrokerState(state int) {
	brokerState.Set(float64(state))
}

func SetBufferDepth(n int) {
	bufferDepth.Set(float64(n))
}

func IncBufferDrop() {
	bufferDrops.Inc()
}

func AddBufferDrops(n int) {
	bufferDrops.Add(float64(n))
}

func IncAlertDispatched(alertType, priority string) {
	alertsDispatched.WithLabelValues(alertType, priority).Inc()
}

func IncAlertEscalation() {
	alertEscalations.Inc()
}
