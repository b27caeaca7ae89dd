package livesync

import (
	"context"
	"encoding/json"
	"time"
)

// ConnectionState describes the lifecycle of the push connection.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
	StateReconnecting
	StateFailed
)

// String returns the consumer-facing status label.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its status label.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source identifies which delivery strategy currently feeds the snapshot.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Topic names a logical channel multiplexed over the push connection.
type Topic string

const (
	TopicStats       Topic = "stats"
	TopicPerformance Topic = "performance"
	TopicProviders   Topic = "providers"
)

// InboundMessage is a raw push payload before validation.
type InboundMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Stats is the dashboard statistics summary.
type Stats struct {
	TotalRequests float64 `json:"totalRequests"`
	ActiveModels  float64 `json:"activeModels"`
	MonthlyCost   float64 `json:"monthlyCost"`
	SystemHealth  float64 `json:"systemHealth"`
}

// PerformancePoint is a single point of the performance time series.
type PerformancePoint struct {
	Name  string  `json:"name,omitempty"`
	Time  string  `json:"time,omitempty"`
	Value float64 `json:"value"`
}

// Label returns the name or, when absent, the time of the point.
func (p PerformancePoint) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Time
}

// ProviderStatus reports the health of one AI provider integration.
type ProviderStatus struct {
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	Latency Latency `json:"latency"`
	Models  int     `json:"models"`
}

// DashboardData is the unified data shape shared by push and poll sources.
// Nil fields are unknown and never overwrite known values on merge.
type DashboardData struct {
	Stats       *Stats             `json:"stats,omitempty"`
	Performance []PerformancePoint `json:"performance,omitempty"`
	Providers   []ProviderStatus   `json:"providers,omitempty"`
}

// IsZero reports whether no channel has data yet.
func (d DashboardData) IsZero() bool {
	return d.Stats == nil && d.Performance == nil && d.Providers == nil
}

// Merge overwrites the fields present in update and keeps the others.
func (d DashboardData) Merge(update DashboardData) DashboardData {
	out := d.Clone()
	if update.Stats != nil {
		stats := *update.Stats
		out.Stats = &stats
	}
	if update.Performance != nil {
		out.Performance = append([]PerformancePoint{}, update.Performance...)
	}
	if update.Providers != nil {
		out.Providers = append([]ProviderStatus{}, update.Providers...)
	}
	return out
}

// Clone returns a deep copy.
func (d DashboardData) Clone() DashboardData {
	var out DashboardData
	if d.Stats != nil {
		stats := *d.Stats
		out.Stats = &stats
	}
	if d.Performance != nil {
		out.Performance = append([]PerformancePoint{}, d.Performance...)
	}
	if d.Providers != nil {
		out.Providers = append([]ProviderStatus{}, d.Providers...)
	}
	return out
}

// Snapshot is the unified consumer-facing view.
type Snapshot struct {
	Data             DashboardData   `json:"data"`
	Loading          bool            `json:"loading"`
	Error            error           `json:"-"`
	LastUpdated      *time.Time      `json:"lastUpdated"`
	Source           Source          `json:"source"`
	ConnectionStatus ConnectionState `json:"connectionStatus"`
}

// ErrorMessage returns the error text or an empty string.
func (s Snapshot) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return s.Error.Error()
}

// MarshalJSON includes the error text alongside the snapshot fields.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type alias Snapshot
	var data *DashboardData
	if !s.Data.IsZero() {
		data = &s.Data
	}
	return json.Marshal(struct {
		alias
		Data  *DashboardData `json:"data"`
		Error *string        `json:"error"`
	}{
		alias: alias(s),
		Data:  data,
		Error: optionalString(s.ErrorMessage()),
	})
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// ReconnectPolicy bounds automatic reconnection.
type ReconnectPolicy struct {
	MaxAttempts  int
	BaseInterval time.Duration
}

// DefaultReconnectPolicy mirrors the dashboard defaults: five attempts, three seconds apart.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 5, BaseInterval: 3 * time.Second}
}

func (p ReconnectPolicy) normalized() ReconnectPolicy {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.BaseInterval <= 0 {
		p.BaseInterval = DefaultReconnectPolicy().BaseInterval
	}
	return p
}

// FetchFunc retrieves the full dashboard data for the polling fallback.
type FetchFunc func(ctx context.Context) (DashboardData, error)

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Conn is a single push connection. Read blocks until a frame arrives or the
// connection ends; on termination it returns a *CloseError carrying the clean flag.
type Conn interface {
	Read() ([]byte, error)
	Write(payload []byte) error
	Close() error
}
