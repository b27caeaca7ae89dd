package livesync

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderStats(t *testing.T) {
	dec := NewDecoder()
	update, err := dec.Decode(InboundMessage{
		Topic: "stats",
		Data:  json.RawMessage(`{"totalRequests":1200,"activeModels":8,"monthlyCost":432.5,"systemHealth":99.9,"extra":"ok"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, update.Data.Stats)
	assert.Equal(t, TopicStats, update.Topic)
	assert.Equal(t, 1200.0, update.Data.Stats.TotalRequests)
	assert.Equal(t, 432.5, update.Data.Stats.MonthlyCost)
	assert.Nil(t, update.Data.Performance)
	assert.Nil(t, update.Data.Providers)
}

func TestDecoderPerformanceAliases(t *testing.T) {
	dec := NewDecoder()
	for _, topic := range []string{"performance", "performance-series", "performanceSeries", "PERFORMANCE"} {
		update, err := dec.Decode(InboundMessage{
			Topic: topic,
			Data:  json.RawMessage(`[{"name":"Mon","value":12},{"time":"10:00","value":4.5}]`),
		})
		require.NoError(t, err, topic)
		assert.Equal(t, TopicPerformance, update.Topic)
		require.Len(t, update.Data.Performance, 2)
		assert.Equal(t, "Mon", update.Data.Performance[0].Label())
		assert.Equal(t, "10:00", update.Data.Performance[1].Label())
	}
}

func TestDecoderProviders(t *testing.T) {
	dec := NewDecoder()
	update, err := dec.Decode(InboundMessage{
		Topic: "provider_list",
		Data:  json.RawMessage(`[{"name":"OpenAI","status":"operational","latency":"45ms","models":5},{"name":"Mistral","status":"degraded","latency":120,"models":2}]`),
	})
	require.NoError(t, err)
	require.Len(t, update.Data.Providers, 2)
	assert.Equal(t, 45*time.Millisecond, time.Duration(update.Data.Providers[0].Latency))
	assert.Equal(t, "120ms", update.Data.Providers[1].Latency.String())
	assert.Equal(t, 2, update.Data.Providers[1].Models)
}

func TestDecoderRejectsInvalidPayloads(t *testing.T) {
	dec := NewDecoder()
	cases := []struct {
		name string
		msg  InboundMessage
	}{
		{"performance not an array", InboundMessage{Topic: "performance", Data: json.RawMessage(`"not-an-array"`)}},
		{"performance missing value", InboundMessage{Topic: "performance", Data: json.RawMessage(`[{"name":"Mon"}]`)}},
		{"performance missing label", InboundMessage{Topic: "performance", Data: json.RawMessage(`[{"value":3}]`)}},
		{"stats missing field", InboundMessage{Topic: "stats", Data: json.RawMessage(`{"totalRequests":1}`)}},
		{"stats wrong type", InboundMessage{Topic: "stats", Data: json.RawMessage(`{"totalRequests":"1","activeModels":1,"monthlyCost":1,"systemHealth":1}`)}},
		{"providers fractional models", InboundMessage{Topic: "providers", Data: json.RawMessage(`[{"name":"a","status":"ok","latency":"1ms","models":1.5}]`)}},
		{"empty data", InboundMessage{Topic: "stats"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := dec.Decode(tc.msg)
			var validation *ValidationError
			require.True(t, errors.As(err, &validation), "expected validation error, got %v", err)
			assert.Equal(t, tc.msg.Topic, validation.Topic)
			assert.True(t, IsDecodeError(err))
		})
	}
}

func TestDecoderUnknownTopic(t *testing.T) {
	_, err := NewDecoder().Decode(InboundMessage{Topic: "weather", Data: json.RawMessage(`{}`)})
	var unknown *UnknownTopicError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "weather", unknown.Topic)
	assert.JSONEq(t, `{}`, string(unknown.Data))
}

func TestDecoderRegisterCustomTopic(t *testing.T) {
	dec := NewDecoder()
	err := dec.Register(TopicDefinition{
		Topic: "alerts",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"count"},
		},
		Apply: func(raw json.RawMessage) (DashboardData, error) {
			return DashboardData{Stats: &Stats{SystemHealth: 50}}, nil
		},
	})
	require.NoError(t, err)

	update, err := dec.Decode(InboundMessage{Topic: "alerts", Data: json.RawMessage(`{"count":2}`)})
	require.NoError(t, err)
	assert.Equal(t, 50.0, update.Data.Stats.SystemHealth)

	_, err = dec.Decode(InboundMessage{Topic: "alerts", Data: json.RawMessage(`{}`)})
	assert.True(t, IsDecodeError(err))

	assert.Error(t, dec.Register(TopicDefinition{Topic: "missing-apply"}))
	assert.Len(t, dec.Topics(), 4)
}

func TestNormalizeTopic(t *testing.T) {
	assert.Equal(t, TopicProviders, NormalizeTopic("providerList"))
	assert.Equal(t, TopicProviders, NormalizeTopic("provider-list"))
	assert.Equal(t, TopicStats, NormalizeTopic(" statistics "))
	assert.Equal(t, Topic("custom_topic"), NormalizeTopic("customTopic"))
}
