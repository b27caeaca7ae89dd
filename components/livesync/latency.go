package livesync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Latency is a provider round-trip time. Feeds report it either as a number of
// milliseconds or as a duration string such as "45ms".
type Latency time.Duration

// Milliseconds returns the latency as fractional milliseconds.
func (l Latency) Milliseconds() float64 {
	return float64(time.Duration(l)) / float64(time.Millisecond)
}

// String renders the latency the way feeds publish it.
func (l Latency) String() string {
	return strconv.FormatFloat(l.Milliseconds(), 'f', -1, 64) + "ms"
}

// MarshalJSON encodes the latency as a duration string.
func (l Latency) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts numbers (milliseconds) and duration strings.
func (l *Latency) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*l = Latency(v * float64(time.Millisecond))
		return nil
	case string:
		parsed, err := ParseLatency(v)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	case nil:
		*l = 0
		return nil
	default:
		return fmt.Errorf("livesync: unsupported latency value %v", raw)
	}
}

// ParseLatency parses "45ms", "1.5s" or a bare millisecond count.
func ParseLatency(v string) (Latency, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseFloat(v, 64); err == nil {
		return Latency(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("livesync: parse latency %q: %w", v, err)
	}
	return Latency(d), nil
}
