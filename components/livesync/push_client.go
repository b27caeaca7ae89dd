package livesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval is the keep-alive ping cadence while connected.
const DefaultHeartbeatInterval = 30 * time.Second

var heartbeatPayload = []byte(`{"type":"ping"}`)

// EventKind enumerates the inputs of the push client state machine.
type EventKind int

const (
	EventDialSucceeded EventKind = iota
	EventDialFailed
	EventClosed
	EventMessage
	EventReconnectDue
	EventHeartbeatDue
)

func (k EventKind) String() string {
	switch k {
	case EventDialSucceeded:
		return "dial_succeeded"
	case EventDialFailed:
		return "dial_failed"
	case EventClosed:
		return "closed"
	case EventMessage:
		return "message"
	case EventReconnectDue:
		return "reconnect_due"
	case EventHeartbeatDue:
		return "heartbeat_due"
	default:
		return "unknown"
	}
}

// Event is a transport or timer occurrence. Generation ties the event to the
// connection attempt that produced it; events from older generations are dropped.
type Event struct {
	Kind       EventKind
	Generation uint64
	Conn       Conn
	Clean      bool
	Err        error
	Payload    []byte
}

// NotificationKind classifies observer notifications.
type NotificationKind int

const (
	NotifyState NotificationKind = iota
	NotifyMessage
	NotifyError
)

// Notification is delivered to the PushObserver in mutation order.
type Notification struct {
	Kind    NotificationKind
	From    ConnectionState
	To      ConnectionState
	Message InboundMessage
	Err     error
}

// PushObserver receives push client notifications. Implementations must not
// call back into the client synchronously.
type PushObserver interface {
	Notify(Notification)
}

// PushObserverFunc adapts a function into a PushObserver.
type PushObserverFunc func(Notification)

// Notify calls f(n).
func (f PushObserverFunc) Notify(n Notification) {
	f(n)
}

type noopObserver struct{}

func (noopObserver) Notify(Notification) {}

var allowedTransitions = map[ConnectionState][]ConnectionState{
	StateConnecting:   {StateConnected, StateReconnecting, StateFailed, StateDisconnected},
	StateConnected:    {StateDisconnected, StateReconnecting, StateFailed},
	StateReconnecting: {StateConnected, StateFailed, StateDisconnected, StateConnecting},
	StateDisconnected: {StateConnecting},
	StateFailed:       {StateConnecting},
}

// ValidTransition reports whether from -> to is part of the connection lifecycle.
// RECONNECTING, DISCONNECTED and FAILED only return to CONNECTING through Retry.
func ValidTransition(from, to ConnectionState) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// PushClientOptions configures a PushClient.
type PushClientOptions struct {
	Dialer            Dialer
	Policy            ReconnectPolicy
	HeartbeatInterval time.Duration
	Clock             clockwork.Clock
	Observer          PushObserver
	Telemetry         Telemetry
	Logger            *zerolog.Logger
}

// PushClient maintains one push connection with bounded fixed-interval
// reconnection and a keep-alive heartbeat.
type PushClient struct {
	dialer    Dialer
	policy    ReconnectPolicy
	heartbeat time.Duration
	clock     clockwork.Clock
	observer  PushObserver
	telemetry Telemetry
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// emitMu is taken before mu is released so notifications leave in mutation order.
	mu     sync.Mutex
	emitMu sync.Mutex

	state          ConnectionState
	attempts       int
	generation     uint64
	conn           Conn
	dialing        bool
	dialCancel     context.CancelFunc
	reconnectTimer clockwork.Timer
	heartbeatTimer clockwork.Timer
	disposed       bool
}

// NewPushClient validates opts and returns an idle client in CONNECTING state.
func NewPushClient(opts PushClientOptions) (*PushClient, error) {
	if opts.Dialer == nil {
		return nil, errMissingDialer
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PushClient{
		dialer:    opts.Dialer,
		policy:    opts.Policy.normalized(),
		heartbeat: opts.HeartbeatInterval,
		clock:     opts.Clock,
		observer:  opts.Observer,
		telemetry: normalizeTelemetry(opts.Telemetry),
		logger:    normalizeLogger(opts.Logger).With().Str("component", "push_client").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateConnecting,
	}, nil
}

// State returns the current connection state.
func (c *PushClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnect attempts since the last successful connection.
func (c *PushClient) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Policy returns the reconnect policy in effect.
func (c *PushClient) Policy() ReconnectPolicy {
	return c.policy
}

// effects accumulates the work a locked mutation hands to the unlocked phase.
type effects struct {
	notes []Notification
	close []Conn
	write []writeRequest
}

type writeRequest struct {
	generation uint64
	conn       Conn
	payload    []byte
}

// commit hands notifications over in mutation order, then runs socket I/O with
// no lock held so a stalled write never blocks teardown or event handling.
func (c *PushClient) commit(fx *effects) {
	c.emitMu.Lock()
	c.mu.Unlock()
	for _, note := range fx.notes {
		c.observer.Notify(note)
	}
	c.emitMu.Unlock()
	for _, conn := range fx.close {
		if err := conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("close push connection")
		}
	}
	for _, req := range fx.write {
		if err := req.conn.Write(req.payload); err != nil {
			c.logger.Debug().Err(err).Uint64("generation", req.generation).Msg("heartbeat write failed")
		}
	}
}

// Connect starts the first connection attempt. From DISCONNECTED or FAILED it
// behaves like Retry. While a connection is open or being dialed it is a no-op.
func (c *PushClient) Connect() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClosed
	}
	fx := &effects{}
	switch c.state {
	case StateConnecting:
		if !c.dialing && c.conn == nil {
			c.attempts = 0
			c.startDialLocked()
		}
	case StateDisconnected, StateFailed:
		c.retryLocked(fx)
	}
	c.commit(fx)
	return nil
}

// Retry is the explicit manual reset: it leaves DISCONNECTED, FAILED or a
// pending reconnect wait for CONNECTING with a fresh attempt counter.
func (c *PushClient) Retry() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClosed
	}
	fx := &effects{}
	switch c.state {
	case StateDisconnected, StateFailed, StateReconnecting:
		c.retryLocked(fx)
	case StateConnecting:
		if !c.dialing && c.conn == nil {
			c.attempts = 0
			c.startDialLocked()
		}
	}
	c.commit(fx)
	return nil
}

func (c *PushClient) retryLocked(fx *effects) {
	c.resetLocked(fx)
	c.attempts = 0
	c.transitionLocked(fx, StateConnecting, nil)
	c.record("livesync.push.retry", map[string]any{"generation": c.generation})
	c.startDialLocked()
}

// Disconnect closes the connection intentionally and suppresses reconnection.
// Calling it again, or while FAILED, has no further effect.
func (c *PushClient) Disconnect() error {
	c.mu.Lock()
	fx := &effects{}
	c.disconnectLocked(fx)
	c.commit(fx)
	return nil
}

func (c *PushClient) disconnectLocked(fx *effects) {
	if c.disposed {
		return
	}
	c.resetLocked(fx)
	switch c.state {
	case StateDisconnected, StateFailed:
		return
	}
	c.transitionLocked(fx, StateDisconnected, nil)
}

// Dispose disconnects and turns the liveness guard off permanently.
func (c *PushClient) Dispose() {
	c.mu.Lock()
	fx := &effects{}
	c.disconnectLocked(fx)
	c.disposed = true
	c.cancel()
	c.commit(fx)
}

// Disposed reports whether Dispose has run.
func (c *PushClient) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// resetLocked invalidates the current generation: timers are stopped, a
// pending dial is cancelled and the open connection is queued for closing.
func (c *PushClient) resetLocked(fx *effects) {
	c.generation++
	c.stopTimersLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.dialing = false
	if c.conn != nil {
		fx.close = append(fx.close, c.conn)
		c.conn = nil
	}
}

func (c *PushClient) stopTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
}

// Send marshals message as JSON and writes it. It returns ErrNotConnected
// unless the client is CONNECTED.
func (c *PushClient) Send(message any) error {
	payload, err := encodeOutbound(message)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()
	if err := conn.Write(payload); err != nil {
		return fmt.Errorf("livesync: send: %w", err)
	}
	return nil
}

func encodeOutbound(message any) ([]byte, error) {
	switch v := message.(type) {
	case json.RawMessage:
		return append([]byte(nil), v...), nil
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("livesync: encode message: %w", err)
	}
	return payload, nil
}

// HandleEvent is the single entry point for transport and timer events.
func (c *PushClient) HandleEvent(ev Event) {
	c.mu.Lock()
	fx := &effects{}
	c.handleLocked(ev, fx)
	c.commit(fx)
}

func (c *PushClient) handleLocked(ev Event, fx *effects) {
	if c.disposed {
		if ev.Kind == EventDialSucceeded && ev.Conn != nil {
			fx.close = append(fx.close, ev.Conn)
		}
		return
	}
	if ev.Generation != c.generation {
		if ev.Kind == EventDialSucceeded && ev.Conn != nil {
			fx.close = append(fx.close, ev.Conn)
		}
		return
	}
	switch ev.Kind {
	case EventDialSucceeded:
		c.onDialSucceeded(ev, fx)
	case EventDialFailed:
		c.dialing = false
		c.dialCancel = nil
		c.record("livesync.push.dial", map[string]any{"result": "error", "attempt": c.attempts})
		fx.notes = append(fx.notes, Notification{Kind: NotifyError, To: c.state, Err: ev.Err})
		c.logger.Warn().Err(ev.Err).Int("attempt", c.attempts).Msg("push dial failed")
		c.scheduleOrFailLocked(fx)
	case EventClosed:
		if c.conn == nil {
			return
		}
		c.conn = nil
		if c.heartbeatTimer != nil {
			c.heartbeatTimer.Stop()
			c.heartbeatTimer = nil
		}
		c.record("livesync.push.closed", map[string]any{"clean": ev.Clean})
		if ev.Clean {
			c.logger.Info().Msg("push connection closed cleanly")
			c.transitionLocked(fx, StateDisconnected, nil)
			return
		}
		c.logger.Warn().Err(ev.Err).Msg("push connection dropped")
		c.scheduleOrFailLocked(fx)
	case EventMessage:
		if c.state != StateConnected {
			return
		}
		c.parseLocked(ev.Payload, fx)
	case EventReconnectDue:
		if c.state != StateReconnecting || c.reconnectTimer == nil {
			return
		}
		c.reconnectTimer = nil
		c.attempts++
		c.record("livesync.push.reconnect", map[string]any{
			"attempt":      c.attempts,
			"max_attempts": c.policy.MaxAttempts,
		})
		c.logger.Info().Int("attempt", c.attempts).Int("max_attempts", c.policy.MaxAttempts).Msg("reconnecting push connection")
		c.startDialLocked()
	case EventHeartbeatDue:
		if c.state != StateConnected || c.conn == nil {
			return
		}
		fx.write = append(fx.write, writeRequest{generation: c.generation, conn: c.conn, payload: heartbeatPayload})
		c.armHeartbeatLocked()
	}
}

func (c *PushClient) onDialSucceeded(ev Event, fx *effects) {
	c.dialing = false
	c.dialCancel = nil
	if ev.Conn == nil {
		c.scheduleOrFailLocked(fx)
		return
	}
	c.conn = ev.Conn
	c.attempts = 0
	c.record("livesync.push.dial", map[string]any{"result": "ok"})
	c.logger.Info().Uint64("generation", c.generation).Msg("push connection established")
	c.transitionLocked(fx, StateConnected, nil)
	c.armHeartbeatLocked()
	go c.readLoop(c.generation, ev.Conn)
}

// scheduleOrFailLocked arms the fixed-interval reconnect timer while attempts
// remain and fails the lifecycle otherwise.
func (c *PushClient) scheduleOrFailLocked(fx *effects) {
	if c.attempts < c.policy.MaxAttempts {
		gen := c.generation
		c.reconnectTimer = c.clock.AfterFunc(c.policy.BaseInterval, func() {
			c.HandleEvent(Event{Kind: EventReconnectDue, Generation: gen})
		})
		if c.state != StateReconnecting {
			c.transitionLocked(fx, StateReconnecting, nil)
		}
		return
	}
	c.record("livesync.push.exhausted", map[string]any{"attempts": c.attempts})
	c.logger.Error().Int("attempts", c.attempts).Msg("push reconnect attempts exhausted")
	c.transitionLocked(fx, StateFailed, ErrReconnectExhausted)
}

func (c *PushClient) armHeartbeatLocked() {
	gen := c.generation
	c.heartbeatTimer = c.clock.AfterFunc(c.heartbeat, func() {
		c.HandleEvent(Event{Kind: EventHeartbeatDue, Generation: gen})
	})
}

func (c *PushClient) transitionLocked(fx *effects, to ConnectionState, err error) {
	from := c.state
	if from == to {
		return
	}
	if !ValidTransition(from, to) {
		c.logger.Error().Stringer("from", from).Stringer("to", to).Msg("rejected connection state transition")
		fx.notes = append(fx.notes, Notification{
			Kind: NotifyError,
			From: from,
			To:   from,
			Err:  fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to),
		})
		return
	}
	c.state = to
	c.record("livesync.push.state", map[string]any{"from": from.String(), "to": to.String()})
	fx.notes = append(fx.notes, Notification{Kind: NotifyState, From: from, To: to, Err: err})
}

func (c *PushClient) startDialLocked() {
	ctx, cancel := context.WithCancel(c.ctx)
	c.dialCancel = cancel
	c.dialing = true
	gen := c.generation
	go func() {
		conn, err := c.dialer.Dial(ctx)
		if err == nil && conn == nil {
			err = errors.New("livesync: dialer returned no connection")
		}
		if err != nil {
			c.HandleEvent(Event{Kind: EventDialFailed, Generation: gen, Err: err})
			return
		}
		c.HandleEvent(Event{Kind: EventDialSucceeded, Generation: gen, Conn: conn})
	}()
}

func (c *PushClient) readLoop(gen uint64, conn Conn) {
	for {
		payload, err := conn.Read()
		if err != nil {
			clean := false
			var closeErr *CloseError
			if errors.As(err, &closeErr) {
				clean = closeErr.Clean
			}
			c.HandleEvent(Event{Kind: EventClosed, Generation: gen, Clean: clean, Err: err})
			return
		}
		c.HandleEvent(Event{Kind: EventMessage, Generation: gen, Payload: payload})
	}
}

type envelope struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// parseLocked splits a frame into newline-delimited JSON objects. Keep-alive
// frames are swallowed; unparsable input is reported and the rest of the frame dropped.
func (c *PushClient) parseLocked(payload []byte, fx *effects) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	for {
		var env envelope
		err := dec.Decode(&env)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			c.record("livesync.push.message", map[string]any{"result": "malformed"})
			fx.notes = append(fx.notes, Notification{
				Kind: NotifyError,
				From: c.state,
				To:   c.state,
				Err:  fmt.Errorf("%w: %v", ErrMalformedMessage, err),
			})
			return
		}
		if env.Type == "pong" || env.Type == "ping" {
			continue
		}
		if env.Topic == "" {
			c.record("livesync.push.message", map[string]any{"result": "malformed"})
			fx.notes = append(fx.notes, Notification{
				Kind: NotifyError,
				From: c.state,
				To:   c.state,
				Err:  fmt.Errorf("%w: missing topic", ErrMalformedMessage),
			})
			continue
		}
		fx.notes = append(fx.notes, Notification{
			Kind:    NotifyMessage,
			From:    c.state,
			To:      c.state,
			Message: InboundMessage{Topic: env.Topic, Data: env.Data},
		})
	}
}

func (c *PushClient) record(event string, payload map[string]any) {
	c.telemetry.Record(c.ctx, event, payload)
}
