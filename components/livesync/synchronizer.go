package livesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultInitialFallbackDelay is how long the first connection attempt may
// take before polling starts.
const DefaultInitialFallbackDelay = time.Second

// ErrorReporter receives non-fatal synchronizer errors, typically an error log.
type ErrorReporter interface {
	ReportError(ctx context.Context, category string, err error, details map[string]any)
}

type noopReporter struct{}

func (noopReporter) ReportError(context.Context, string, error, map[string]any) {}

// Options configures the Synchronizer. Dialer and Fetch are required; every
// other collaborator falls back to a safe default.
type Options struct {
	Dialer            Dialer
	Fetch             FetchFunc
	Decoder           MessageDecoder
	Policy            ReconnectPolicy
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	// InitialFallbackDelay defers polling while the first connection attempt is
	// in flight. Zero uses DefaultInitialFallbackDelay; negative disables the wait.
	InitialFallbackDelay time.Duration
	RefreshLimiter       *rate.Limiter
	Clock                clockwork.Clock
	Telemetry            Telemetry
	Logger               *zerolog.Logger
	Errors               ErrorReporter
	Hook                 *SnapshotHook
}

// Synchronizer unifies the push client and the polling fallback behind one
// snapshot. Push is the active source while CONNECTED; polling is active otherwise.
type Synchronizer struct {
	push      *PushClient
	poller    *Poller
	decoder   MessageDecoder
	fetch     FetchFunc
	interval  time.Duration
	fallback  time.Duration
	clock     clockwork.Clock
	telemetry Telemetry
	logger    zerolog.Logger
	errors    ErrorReporter
	hook      *SnapshotHook

	mu            sync.Mutex
	snapshot      Snapshot
	opened        bool
	closed        bool
	initial       bool
	fallbackTimer clockwork.Timer
	done          chan struct{}
}

// NewSynchronizer wires a push client and a poller from opts.
func NewSynchronizer(opts Options) (*Synchronizer, error) {
	if opts.Dialer == nil {
		return nil, errMissingDialer
	}
	if opts.Fetch == nil {
		return nil, errMissingFetcher
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Decoder == nil {
		opts.Decoder = NewDecoder()
	}
	if opts.Errors == nil {
		opts.Errors = noopReporter{}
	}
	if opts.Hook == nil {
		opts.Hook = NewSnapshotHook()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.InitialFallbackDelay == 0 {
		opts.InitialFallbackDelay = DefaultInitialFallbackDelay
	}
	opts.Telemetry = normalizeTelemetry(opts.Telemetry)

	s := &Synchronizer{
		decoder:   opts.Decoder,
		fetch:     opts.Fetch,
		interval:  opts.PollInterval,
		fallback:  opts.InitialFallbackDelay,
		clock:     opts.Clock,
		telemetry: opts.Telemetry,
		logger:    normalizeLogger(opts.Logger).With().Str("component", "synchronizer").Logger(),
		errors:    opts.Errors,
		hook:      opts.Hook,
		snapshot: Snapshot{
			Source:           SourcePoll,
			ConnectionStatus: StateConnecting,
		},
		done: make(chan struct{}),
	}

	push, err := NewPushClient(PushClientOptions{
		Dialer:            opts.Dialer,
		Policy:            opts.Policy,
		HeartbeatInterval: opts.HeartbeatInterval,
		Clock:             opts.Clock,
		Observer:          PushObserverFunc(s.onPush),
		Telemetry:         opts.Telemetry,
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.push = push
	s.poller = NewPoller(PollerOptions{
		Clock:          opts.Clock,
		Timeout:        opts.PollTimeout,
		RefreshLimiter: opts.RefreshLimiter,
		Sink:           s.onPoll,
		Telemetry:      opts.Telemetry,
		Logger:         opts.Logger,
	})
	return s, nil
}

// Open starts the push connection and arms the polling fallback. Cancelling
// ctx has the same effect as Close. Opening twice is a no-op.
func (s *Synchronizer) Open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.initial = true
	s.snapshot.Loading = true
	if s.fallback < 0 {
		s.initial = false
		s.startPollingLocked()
	} else {
		s.fallbackTimer = s.clock.AfterFunc(s.fallback, s.onFallbackDue)
	}
	s.publishLocked()
	s.mu.Unlock()

	s.telemetry.Record(ctx, "livesync.open", nil)
	if err := s.push.Connect(); err != nil {
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return nil
}

// Close tears down timers, the poller and the push connection. Events that
// arrive afterwards are ignored. It is safe to call repeatedly.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.fallbackTimer != nil {
		s.fallbackTimer.Stop()
		s.fallbackTimer = nil
	}
	close(s.done)
	s.mu.Unlock()

	s.push.Dispose()
	s.poller.Stop()
	s.hook.Close()
	s.telemetry.Record(context.Background(), "livesync.close", nil)
	return nil
}

// Done is closed once Close has run.
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns a copy of the current snapshot.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Subscribe streams snapshots as they change.
func (s *Synchronizer) Subscribe() (<-chan Snapshot, func()) {
	return s.hook.Subscribe()
}

// Hook exposes the snapshot hook for HTTP streaming.
func (s *Synchronizer) Hook() *SnapshotHook {
	return s.hook
}

// Refresh triggers an immediate poll. It only acts while polling is the
// active source and reports whether a fetch was requested.
func (s *Synchronizer) Refresh() bool {
	s.mu.Lock()
	active := s.opened && !s.closed && s.snapshot.Source == SourcePoll
	s.mu.Unlock()
	if !active {
		return false
	}
	return s.poller.Refresh()
}

// Retry manually resets the push client after FAILED or DISCONNECTED.
func (s *Synchronizer) Retry() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.push.Retry()
}

// Send forwards message over the push connection.
func (s *Synchronizer) Send(message any) error {
	return s.push.Send(message)
}

// ConnectionState returns the push client state.
func (s *Synchronizer) ConnectionState() ConnectionState {
	return s.push.State()
}

// Polling reports whether the fallback poller is running.
func (s *Synchronizer) Polling() bool {
	return s.poller.Running()
}

func (s *Synchronizer) onFallbackDue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbackTimer = nil
	if s.closed || !s.initial {
		return
	}
	s.initial = false
	if s.snapshot.ConnectionStatus != StateConnected {
		s.logger.Info().Msg("push not connected yet, starting poll fallback")
		s.startPollingLocked()
	}
}

func (s *Synchronizer) onPush(n Notification) {
	switch n.Kind {
	case NotifyState:
		s.onState(n)
	case NotifyMessage:
		s.onMessage(n.Message)
	case NotifyError:
		s.onPushError(n.Err)
	}
}

func (s *Synchronizer) onState(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.snapshot.ConnectionStatus = n.To
	if n.To == StateConnected {
		if s.fallbackTimer != nil {
			s.fallbackTimer.Stop()
			s.fallbackTimer = nil
		}
		s.initial = false
		s.poller.Stop()
		s.snapshot.Source = SourcePush
		s.snapshot.Loading = false
		s.snapshot.Error = nil
		s.publishLocked()
		return
	}

	s.snapshot.Source = SourcePoll
	if n.To == StateFailed {
		s.snapshot.Error = n.Err
		if n.Err != nil {
			s.errors.ReportError(context.Background(), "network", n.Err, map[string]any{
				"state": n.To.String(),
			})
		}
	}
	if s.initial && n.To == StateConnecting {
		s.publishLocked()
		return
	}
	if s.fallbackTimer != nil {
		s.fallbackTimer.Stop()
		s.fallbackTimer = nil
	}
	s.initial = false
	if s.opened {
		s.startPollingLocked()
	}
	s.publishLocked()
}

func (s *Synchronizer) onMessage(msg InboundMessage) {
	update, err := s.decoder.Decode(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.snapshot.Source != SourcePush {
		return
	}
	if err != nil {
		s.snapshot.Error = err
		s.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("skipped push update")
		s.errors.ReportError(context.Background(), "validation", err, map[string]any{"topic": msg.Topic})
		s.telemetry.Record(context.Background(), "livesync.push.message", map[string]any{
			"topic":  msg.Topic,
			"result": "rejected",
		})
		s.publishLocked()
		return
	}
	now := s.clock.Now()
	s.snapshot.Data = s.snapshot.Data.Merge(update.Data)
	s.snapshot.LastUpdated = &now
	s.snapshot.Error = nil
	s.snapshot.Loading = false
	s.telemetry.Record(context.Background(), "livesync.push.message", map[string]any{
		"topic":  string(update.Topic),
		"result": "applied",
	})
	s.publishLocked()
}

func (s *Synchronizer) onPushError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if IsDecodeError(err) {
		s.snapshot.Error = err
		s.errors.ReportError(context.Background(), "validation", err, nil)
		s.publishLocked()
		return
	}
	category := "network"
	if errors.Is(err, ErrInvalidTransition) {
		category = "unknown"
	}
	s.logger.Debug().Err(err).Msg("push connection error")
	s.errors.ReportError(context.Background(), category, err, map[string]any{
		"state": s.snapshot.ConnectionStatus.String(),
	})
}

func (s *Synchronizer) onPoll(update PollUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.snapshot.Source != SourcePoll {
		return
	}
	if !update.Settled {
		s.snapshot.Loading = true
		s.publishLocked()
		return
	}
	s.snapshot.Loading = false
	if update.State.Err != nil {
		s.snapshot.Error = update.State.Err
		s.errors.ReportError(context.Background(), "api", update.State.Err, map[string]any{
			"consecutive_failures": update.State.ConsecutiveFailures,
		})
		s.publishLocked()
		return
	}
	s.snapshot.Data = s.snapshot.Data.Merge(update.Result)
	if update.State.LastUpdated != nil {
		ts := *update.State.LastUpdated
		s.snapshot.LastUpdated = &ts
	}
	if s.snapshot.ConnectionStatus == StateFailed {
		s.snapshot.Error = ErrReconnectExhausted
	} else {
		s.snapshot.Error = nil
	}
	s.publishLocked()
}

// startPollingLocked starts the fallback and marks the snapshot loading until
// its first fetch settles. A running poller is left alone.
func (s *Synchronizer) startPollingLocked() {
	if s.poller.Running() {
		return
	}
	if err := s.poller.Start(s.fetch, s.interval); err != nil {
		s.logger.Error().Err(err).Msg("start polling")
		return
	}
	s.snapshot.Loading = true
}

func (s *Synchronizer) copyLocked() Snapshot {
	out := s.snapshot
	out.Data = s.snapshot.Data.Clone()
	if s.snapshot.LastUpdated != nil {
		ts := *s.snapshot.LastUpdated
		out.LastUpdated = &ts
	}
	return out
}

func (s *Synchronizer) publishLocked() {
	s.hook.Publish(s.copyLocked())
}
