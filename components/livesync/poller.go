package livesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is the fallback polling cadence.
const DefaultPollInterval = 5 * time.Second

// PollState is the poller's view of the data it fetched.
type PollState struct {
	Data                DashboardData
	Loading             bool
	Err                 error
	LastUpdated         *time.Time
	ConsecutiveFailures int
	Fetches             int
}

func (s PollState) clone() PollState {
	out := s
	out.Data = s.Data.Clone()
	if s.LastUpdated != nil {
		ts := *s.LastUpdated
		out.LastUpdated = &ts
	}
	return out
}

// PollUpdate is handed to the poller sink. Settled is false for the loading
// notification that precedes a fetch and true once the fetch finished.
type PollUpdate struct {
	State   PollState
	Settled bool
	// Result carries the data returned by this fetch; it is zero on failure.
	Result DashboardData
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Clock clockwork.Clock
	// Timeout bounds each fetch; zero leaves the fetch function unbounded.
	Timeout time.Duration
	// RefreshLimiter throttles manual refreshes when set.
	RefreshLimiter *rate.Limiter
	Sink           func(PollUpdate)
	Telemetry      Telemetry
	Logger         *zerolog.Logger
}

// Poller runs a fetch function immediately and then on a fixed cadence. Fetches
// run on a single goroutine so a cycle never overlaps the previous one.
type Poller struct {
	clock     clockwork.Clock
	timeout   time.Duration
	limiter   *rate.Limiter
	sink      func(PollUpdate)
	telemetry Telemetry
	logger    zerolog.Logger

	mu       sync.Mutex
	running  bool
	run      uint64
	cancel   context.CancelFunc
	refresh  chan struct{}
	interval time.Duration
	state    PollState
}

// NewPoller builds an idle poller.
func NewPoller(opts PollerOptions) *Poller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Sink == nil {
		opts.Sink = func(PollUpdate) {}
	}
	return &Poller{
		clock:     opts.Clock,
		timeout:   opts.Timeout,
		limiter:   opts.RefreshLimiter,
		sink:      opts.Sink,
		telemetry: normalizeTelemetry(opts.Telemetry),
		logger:    normalizeLogger(opts.Logger).With().Str("component", "poller").Logger(),
	}
}

// Start performs one fetch immediately and repeats it every interval until
// Stop. Starting a running poller is a no-op.
func (p *Poller) Start(fetch FetchFunc, interval time.Duration) error {
	if fetch == nil {
		return errMissingFetcher
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.run++
	p.cancel = cancel
	p.interval = interval
	p.refresh = make(chan struct{}, 1)
	p.state.Loading = true
	go p.loop(ctx, p.run, fetch, interval, p.refresh)
	p.logger.Debug().Dur("interval", interval).Msg("polling started")
	return nil
}

// Stop cancels the cadence and any in-flight fetch. Results that arrive after
// Stop are discarded. It is safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancel()
	p.cancel = nil
	p.state.Loading = false
	p.logger.Debug().Msg("polling stopped")
}

// Running reports whether the cadence is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Interval returns the cadence of the current or last run.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// State returns a copy of the poller state.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}

// Refresh requests an out-of-cadence fetch without moving the ticker phase.
// Requests made while a refresh is already queued coalesce. It reports false
// when the poller is stopped or the refresh limiter rejects the request.
func (p *Poller) Refresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.telemetry.Record(context.Background(), "livesync.poll.refresh_throttled", nil)
		return false
	}
	select {
	case p.refresh <- struct{}{}:
	default:
	}
	return true
}

func (p *Poller) loop(ctx context.Context, run uint64, fetch FetchFunc, interval time.Duration, refresh <-chan struct{}) {
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	p.fetchOnce(ctx, run, fetch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.fetchOnce(ctx, run, fetch)
		case <-refresh:
			if !p.markLoading(run) {
				return
			}
			p.fetchOnce(ctx, run, fetch)
		}
	}
}

func (p *Poller) markLoading(run uint64) bool {
	p.mu.Lock()
	if !p.running || p.run != run {
		p.mu.Unlock()
		return false
	}
	p.state.Loading = true
	update := PollUpdate{State: p.state.clone()}
	p.mu.Unlock()
	p.sink(update)
	return true
}

func (p *Poller) fetchOnce(ctx context.Context, run uint64, fetch FetchFunc) {
	fetchCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	data, err := fetch(fetchCtx)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if !p.running || p.run != run {
		p.mu.Unlock()
		return
	}
	p.state.Loading = false
	p.state.Fetches++
	update := PollUpdate{Settled: true}
	if err != nil {
		p.state.Err = fmt.Errorf("livesync: poll: %w", err)
		p.state.ConsecutiveFailures++
		p.logger.Warn().Err(err).Int("consecutive_failures", p.state.ConsecutiveFailures).Msg("poll failed")
		p.telemetry.Record(ctx, "livesync.poll", map[string]any{"result": "error"})
	} else {
		now := p.clock.Now()
		p.state.Data = p.state.Data.Merge(data)
		p.state.Err = nil
		p.state.LastUpdated = &now
		p.state.ConsecutiveFailures = 0
		update.Result = data.Clone()
		p.telemetry.Record(ctx, "livesync.poll", map[string]any{"result": "ok"})
	}
	update.State = p.state.clone()
	p.mu.Unlock()
	p.sink(update)
}
