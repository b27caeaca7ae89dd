package livesync

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
)

// Telemetry records synchronizer events for observability.
type Telemetry interface {
	Record(ctx context.Context, event string, payload map[string]any)
}

type noopTelemetry struct{}

func (noopTelemetry) Record(context.Context, string, map[string]any) {}

func normalizeTelemetry(t Telemetry) Telemetry {
	if t == nil {
		return noopTelemetry{}
	}
	return t
}

// MultiTelemetry fans events out to several sinks.
type MultiTelemetry []Telemetry

// Record forwards the event to every non-nil sink.
func (m MultiTelemetry) Record(ctx context.Context, event string, payload map[string]any) {
	for _, t := range m {
		if t != nil {
			t.Record(ctx, event, payload)
		}
	}
}

// LogTelemetry writes events as debug-level zerolog entries.
type LogTelemetry struct {
	Logger zerolog.Logger
}

// NewLogTelemetry wraps logger.
func NewLogTelemetry(logger zerolog.Logger) LogTelemetry {
	return LogTelemetry{Logger: logger}
}

// Record implements Telemetry.
func (l LogTelemetry) Record(_ context.Context, event string, payload map[string]any) {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entry := l.Logger.Debug().Str("event", event)
	for _, key := range keys {
		entry = entry.Interface(key, payload[key])
	}
	entry.Msg("livesync telemetry")
}

func normalizeLogger(logger *zerolog.Logger) zerolog.Logger {
	if logger == nil {
		return zerolog.Nop()
	}
	return *logger
}
