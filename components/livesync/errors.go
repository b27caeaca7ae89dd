package livesync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send while the push connection is not open.
	ErrNotConnected = errors.New("livesync: push connection is not connected")
	// ErrReconnectExhausted marks the terminal FAILED state.
	ErrReconnectExhausted = errors.New("livesync: connection failed after maximum attempts")
	// ErrClosed is returned by operations on a disposed client or closed synchronizer.
	ErrClosed = errors.New("livesync: closed")
	// ErrMalformedMessage wraps inbound frames that are not valid JSON envelopes.
	ErrMalformedMessage = errors.New("livesync: failed to parse push message")
	// ErrInvalidTransition reports a state change outside the allowed lifecycle.
	ErrInvalidTransition = errors.New("livesync: invalid connection state transition")

	errMissingDialer  = errors.New("livesync: push dialer is required")
	errMissingFetcher = errors.New("livesync: poll fetch function is required")
)

// ValidationError reports a push payload that does not satisfy its topic schema.
type ValidationError struct {
	Topic string
	Data  []byte
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("livesync: payload for topic %q failed validation: %v", e.Topic, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UnknownTopicError reports a push payload on a topic without a schema.
type UnknownTopicError struct {
	Topic string
	Data  []byte
}

func (e *UnknownTopicError) Error() string {
	return fmt.Sprintf("livesync: unknown topic %q", e.Topic)
}

// CloseError ends a connection read loop. Clean is set by the transport from
// the close handshake, never inferred from Err.
type CloseError struct {
	Clean bool
	Code  int
	Err   error
}

func (e *CloseError) Error() string {
	kind := "abrupt"
	if e.Clean {
		kind = "clean"
	}
	if e.Err == nil {
		return fmt.Sprintf("livesync: connection closed (%s, code %d)", kind, e.Code)
	}
	return fmt.Sprintf("livesync: connection closed (%s, code %d): %v", kind, e.Code, e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a skipped-update error from the decoder.
func IsDecodeError(err error) bool {
	var validation *ValidationError
	var unknown *UnknownTopicError
	return errors.As(err, &validation) || errors.As(err, &unknown) || errors.Is(err, ErrMalformedMessage)
}
