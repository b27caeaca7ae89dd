// Package livedash assembles a ready-to-open synchronizer from configuration.
package livedash

import (
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-livedash/components/livesync"
	"github.com/goliatone/go-livedash/pkg/config"
	"github.com/goliatone/go-livedash/pkg/dashboardapi"
	"github.com/goliatone/go-livedash/pkg/errorlog"
)

// Synchronizer exposes the underlying components/livesync.Synchronizer type.
type Synchronizer = livesync.Synchronizer

// Options re-export for convenience.
type Options = livesync.Options

// Snapshot re-export for convenience.
type Snapshot = livesync.Snapshot

// NewSynchronizer proxies to the internal constructor.
func NewSynchronizer(opts Options) (*Synchronizer, error) {
	return livesync.NewSynchronizer(opts)
}

// Deps carries process-wide collaborators. Every field is optional.
type Deps struct {
	Logger     *zerolog.Logger
	Registerer prometheus.Registerer
	ErrorLog   *errorlog.Log
	Clock      clockwork.Clock
	HTTPClient *http.Client
	Fetch      livesync.FetchFunc
	Dialer     livesync.Dialer
}

// Runtime is the assembled set of components.
type Runtime struct {
	Sync     *Synchronizer
	ErrorLog *errorlog.Log
	Metrics  *livesync.Metrics
	Client   dashboardapi.Client
}

// Build wires a synchronizer from cfg: a WebSocket dialer for push, the
// dashboard HTTP client for polling, the error log, metrics when a registerer
// is given and a refresh limiter when refresh_rate is positive.
func Build(cfg config.Config, deps Deps) (*Runtime, error) {
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	errLog := deps.ErrorLog
	if errLog == nil {
		errLog = errorlog.New(errorlog.Options{
			Capacity: cfg.ErrorLog.Capacity,
			Clock:    deps.Clock,
			Logger:   &logger,
		})
	}

	rt := &Runtime{ErrorLog: errLog}
	telemetry := livesync.MultiTelemetry{livesync.NewLogTelemetry(logger)}
	if deps.Registerer != nil {
		rt.Metrics = livesync.NewMetrics(deps.Registerer)
		telemetry = append(telemetry, rt.Metrics)
	}

	fetch := deps.Fetch
	if fetch == nil {
		client, err := dashboardapi.NewHTTPClientForEndpoint(cfg.Poll.URL, cfg.Poll.APIKey, deps.HTTPClient)
		if err != nil {
			return nil, err
		}
		rt.Client = client
		fetch = dashboardapi.Fetcher(client)
	}
	dialer := deps.Dialer
	if dialer == nil {
		dialer = livesync.NewWebSocketDialer(cfg.Push.URL)
	}

	var limiter *rate.Limiter
	if cfg.Poll.RefreshRate > 0 {
		burst := cfg.Poll.RefreshBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Poll.RefreshRate), burst)
	}

	// Options treats zero as "use the default"; in config zero means no wait.
	fallback := cfg.Fallback.InitialDelay
	if fallback <= 0 {
		fallback = -1
	}

	s, err := livesync.NewSynchronizer(livesync.Options{
		Dialer: dialer,
		Fetch:  fetch,
		Policy: livesync.ReconnectPolicy{
			MaxAttempts:  cfg.Push.MaxAttempts,
			BaseInterval: cfg.Push.ReconnectInterval,
		},
		HeartbeatInterval:    cfg.Push.HeartbeatInterval,
		PollInterval:         cfg.Poll.Interval,
		PollTimeout:          cfg.Poll.Timeout,
		InitialFallbackDelay: fallback,
		RefreshLimiter:       limiter,
		Clock:                deps.Clock,
		Telemetry:            telemetry,
		Logger:               &logger,
		Errors:               errLog,
	})
	if err != nil {
		return nil, err
	}
	rt.Sync = s
	return rt, nil
}
