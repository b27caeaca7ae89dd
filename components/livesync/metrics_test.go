package livesync

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	ctx := context.Background()

	m.Record(ctx, "livesync.push.state", map[string]any{"from": "connecting", "to": "connected"})
	assert.Equal(t, float64(StateConnected), testutil.ToFloat64(m.connectionState))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.pushActive))

	m.Record(ctx, "livesync.push.state", map[string]any{"from": "connected", "to": "reconnecting"})
	assert.Equal(t, float64(StateReconnecting), testutil.ToFloat64(m.connectionState))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.pushActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stateTransitions.WithLabelValues("connected", "reconnecting")))

	m.Record(ctx, "livesync.push.reconnect", map[string]any{"attempt": 1})
	m.Record(ctx, "livesync.push.dial", map[string]any{"result": "error"})
	m.Record(ctx, "livesync.push.message", map[string]any{"topic": "stats", "result": "applied"})
	m.Record(ctx, "livesync.push.message", map[string]any{"result": "malformed"})
	m.Record(ctx, "livesync.poll", map[string]any{"result": "ok"})
	m.Record(ctx, "livesync.poll.refresh_throttled", nil)
	m.Record(ctx, "livesync.unrelated", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.reconnectAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dialsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesTotal.WithLabelValues("stats", "applied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesTotal.WithLabelValues("none", "malformed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.pollsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.refreshesThrottled))
}

func TestMultiTelemetryFansOut(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	tel := MultiTelemetry{NewLogTelemetry(logger), m, nil}
	tel.Record(context.Background(), "livesync.poll", map[string]any{"result": "error"})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.pollsTotal.WithLabelValues("error")))
	assert.Contains(t, buf.String(), `"event":"livesync.poll"`)
}
