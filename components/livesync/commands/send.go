package commands

import (
	"context"
	"encoding/json"
	"errors"

	gocommand "github.com/goliatone/go-command"
)

// ErrInvalidMessage is returned for empty or non-JSON outbound messages.
var ErrInvalidMessage = errors.New("livesync: invalid outbound message")

// SendInput carries an outbound push message.
type SendInput struct {
	Message json.RawMessage `json:"message"`
}

type sender interface {
	Send(message any) error
}

// SendCommand writes a message on the open push connection.
type SendCommand struct {
	service   sender
	telemetry Telemetry
}

// NewSendCommand creates the command.
func NewSendCommand(service sender, telemetry Telemetry) *SendCommand {
	return &SendCommand{service: service, telemetry: normalizeTelemetry(telemetry)}
}

var _ gocommand.Commander[SendInput] = (*SendCommand)(nil)

// Execute sends msg.Message as-is.
func (c *SendCommand) Execute(ctx context.Context, msg SendInput) error {
	if c.service == nil {
		return errors.New("send command requires service")
	}
	if len(msg.Message) == 0 || !json.Valid(msg.Message) {
		return ErrInvalidMessage
	}
	if err := c.service.Send(msg.Message); err != nil {
		return err
	}
	c.telemetry.Record(ctx, "livesync.command.send", map[string]any{"bytes": len(msg.Message)})
	return nil
}
