package livesync

import (
	"encoding/json"
	"fmt"
)

// TopicDefinition couples a topic's JSON schema with the projection of a
// validated payload onto DashboardData.
type TopicDefinition struct {
	Topic  Topic
	Schema map[string]any
	Apply  func(raw json.RawMessage) (DashboardData, error)
}

// DefaultTopicDefinitions returns the stats, performance and providers topics.
func DefaultTopicDefinitions() []TopicDefinition {
	return []TopicDefinition{
		{
			Topic: TopicStats,
			Schema: map[string]any{
				"type":     "object",
				"required": []string{"totalRequests", "activeModels", "monthlyCost", "systemHealth"},
				"properties": map[string]any{
					"totalRequests": map[string]any{"type": "number"},
					"activeModels":  map[string]any{"type": "number"},
					"monthlyCost":   map[string]any{"type": "number"},
					"systemHealth":  map[string]any{"type": "number"},
				},
			},
			Apply: func(raw json.RawMessage) (DashboardData, error) {
				var stats Stats
				if err := json.Unmarshal(raw, &stats); err != nil {
					return DashboardData{}, fmt.Errorf("livesync: decode stats: %w", err)
				}
				return DashboardData{Stats: &stats}, nil
			},
		},
		{
			Topic: TopicPerformance,
			Schema: map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"value"},
					"anyOf": []any{
						map[string]any{"required": []string{"name"}},
						map[string]any{"required": []string{"time"}},
					},
					"properties": map[string]any{
						"name":  map[string]any{"type": "string"},
						"time":  map[string]any{"type": "string"},
						"value": map[string]any{"type": "number"},
					},
				},
			},
			Apply: func(raw json.RawMessage) (DashboardData, error) {
				points := []PerformancePoint{}
				if err := json.Unmarshal(raw, &points); err != nil {
					return DashboardData{}, fmt.Errorf("livesync: decode performance: %w", err)
				}
				return DashboardData{Performance: points}, nil
			},
		},
		{
			Topic: TopicProviders,
			Schema: map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"name", "status", "latency", "models"},
					"properties": map[string]any{
						"name":    map[string]any{"type": "string"},
						"status":  map[string]any{"type": "string"},
						"latency": map[string]any{"type": []string{"string", "number"}},
						"models":  map[string]any{"type": "integer"},
					},
				},
			},
			Apply: func(raw json.RawMessage) (DashboardData, error) {
				providers := []ProviderStatus{}
				if err := json.Unmarshal(raw, &providers); err != nil {
					return DashboardData{}, fmt.Errorf("livesync: decode providers: %w", err)
				}
				return DashboardData{Providers: providers}, nil
			},
		},
	}
}

var topicAliases = map[string]Topic{
	"stats":              TopicStats,
	"statistics":         TopicStats,
	"stats_summary":      TopicStats,
	"performance":        TopicPerformance,
	"performance_series": TopicPerformance,
	"providers":          TopicProviders,
	"provider_list":      TopicProviders,
	"provider_status":    TopicProviders,
}
