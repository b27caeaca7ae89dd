package livesync

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports synchronizer telemetry as Prometheus series. It implements
// Telemetry so it can be passed wherever a Telemetry is accepted.
type Metrics struct {
	connectionState    prometheus.Gauge
	pushActive         prometheus.Gauge
	stateTransitions   *prometheus.CounterVec
	reconnectAttempts  prometheus.Counter
	dialsTotal         *prometheus.CounterVec
	messagesTotal      *prometheus.CounterVec
	pollsTotal         *prometheus.CounterVec
	refreshesThrottled prometheus.Counter
}

// NewMetrics registers the livesync series on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		connectionState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "livedash_push_connection_state",
				Help: "Current push connection state (0 connecting, 1 connected, 2 disconnected, 3 reconnecting, 4 failed)",
			},
		),
		pushActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "livedash_push_active",
				Help: "1 while push is the active data source, 0 while polling is",
			},
		),
		stateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livedash_push_state_transitions_total",
				Help: "Total number of push connection state transitions",
			},
			[]string{"from", "to"},
		),
		reconnectAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "livedash_push_reconnect_attempts_total",
				Help: "Total number of push reconnect attempts",
			},
		),
		dialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livedash_push_dials_total",
				Help: "Total number of push dial attempts by result",
			},
			[]string{"result"},
		),
		messagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livedash_push_messages_total",
				Help: "Total number of push messages by topic and result",
			},
			[]string{"topic", "result"},
		),
		pollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livedash_polls_total",
				Help: "Total number of fallback polls by result",
			},
			[]string{"result"},
		),
		refreshesThrottled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "livedash_poll_refreshes_throttled_total",
				Help: "Total number of manual refreshes rejected by the rate limiter",
			},
		),
	}
}

// Record implements Telemetry.
func (m *Metrics) Record(_ context.Context, event string, payload map[string]any) {
	switch event {
	case "livesync.push.state":
		from, to := label(payload, "from"), label(payload, "to")
		m.stateTransitions.WithLabelValues(from, to).Inc()
		if state, ok := parseState(to); ok {
			m.connectionState.Set(float64(state))
			if state == StateConnected {
				m.pushActive.Set(1)
			} else {
				m.pushActive.Set(0)
			}
		}
	case "livesync.push.reconnect":
		m.reconnectAttempts.Inc()
	case "livesync.push.dial":
		m.dialsTotal.WithLabelValues(label(payload, "result")).Inc()
	case "livesync.push.message":
		topic := label(payload, "topic")
		if topic == "" {
			topic = "none"
		}
		m.messagesTotal.WithLabelValues(topic, label(payload, "result")).Inc()
	case "livesync.poll":
		m.pollsTotal.WithLabelValues(label(payload, "result")).Inc()
	case "livesync.poll.refresh_throttled":
		m.refreshesThrottled.Inc()
	}
}

func label(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func parseState(name string) (ConnectionState, bool) {
	for _, state := range []ConnectionState{StateConnecting, StateConnected, StateDisconnected, StateReconnecting, StateFailed} {
		if state.String() == name {
			return state, true
		}
	}
	return 0, false
}
