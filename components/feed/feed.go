package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-livedash/components/livesync"
)

// DefaultInterval is the publish cadence used by Run when none is configured.
const DefaultInterval = 2 * time.Second

// ErrHubClosed is returned by publishes and Serve once the hub is closed.
var ErrHubClosed = errors.New("feed: hub closed")

// Options configures a Feed.
type Options struct {
	Generator *Generator
	Hub       *Hub
	Clock     clockwork.Clock
	Interval  time.Duration
	Logger    *zerolog.Logger
}

// Feed publishes generated dashboard data on a cadence and serves the latest
// payload for polling clients.
type Feed struct {
	gen      *Generator
	hub      *Hub
	clock    clockwork.Clock
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	current livesync.DashboardData
}

// New builds a feed, filling missing collaborators with defaults.
func New(opts Options) *Feed {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Generator == nil {
		opts.Generator = NewGenerator(0)
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(&logger)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Feed{
		gen:      opts.Generator,
		hub:      opts.Hub,
		clock:    opts.Clock,
		interval: opts.Interval,
		logger:   logger,
	}
}

// Hub returns the push fan-out.
func (f *Feed) Hub() *Hub {
	return f.hub
}

// Current returns the last published payload, generating one if nothing was
// published yet.
func (f *Feed) Current() livesync.DashboardData {
	f.mu.RLock()
	current := f.current
	f.mu.RUnlock()
	if !current.IsZero() {
		return current.Clone()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current.IsZero() {
		f.current = f.gen.Dashboard()
	}
	return f.current.Clone()
}

// PublishAll generates a fresh payload and pushes every topic.
func (f *Feed) PublishAll() error {
	data := f.gen.Dashboard()
	f.mu.Lock()
	f.current = data.Clone()
	f.mu.Unlock()

	if err := f.hub.Publish(string(livesync.TopicStats), data.Stats); err != nil {
		return err
	}
	if err := f.hub.Publish(string(livesync.TopicPerformance), data.Performance); err != nil {
		return err
	}
	return f.hub.Publish(string(livesync.TopicProviders), data.Providers)
}

// Run publishes on every tick until ctx is done. The first publish is immediate.
func (f *Feed) Run(ctx context.Context) error {
	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()
	f.logger.Info().Dur("interval", f.interval).Msg("demo feed started")
	for {
		if err := f.PublishAll(); err != nil {
			if errors.Is(err, ErrHubClosed) {
				return nil
			}
			f.logger.Warn().Err(err).Msg("demo feed publish failed")
		}
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("demo feed stopped")
			return nil
		case <-ticker.Chan():
		}
	}
}

// ServeData writes the current payload as JSON for polling clients.
func (f *Feed) ServeData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(f.Current()); err != nil {
		f.logger.Warn().Err(err).Msg("encode dashboard payload")
	}
}

// ServeProviders writes the current provider list.
func (f *Feed) ServeProviders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"providers": f.Current().Providers})
}
