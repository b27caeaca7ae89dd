package commands

import (
	"context"
	"errors"

	gocommand "github.com/goliatone/go-command"
)

// RetryInput restarts the push connection after it gave up or was disconnected.
type RetryInput struct{}

type retrier interface {
	Retry() error
}

// RetryCommand resets the reconnect budget and dials again.
type RetryCommand struct {
	service   retrier
	telemetry Telemetry
}

// NewRetryCommand creates the command.
func NewRetryCommand(service retrier, telemetry Telemetry) *RetryCommand {
	return &RetryCommand{service: service, telemetry: normalizeTelemetry(telemetry)}
}

var _ gocommand.Commander[RetryInput] = (*RetryCommand)(nil)

// Execute triggers the retry.
func (c *RetryCommand) Execute(ctx context.Context, _ RetryInput) error {
	if c.service == nil {
		return errors.New("retry command requires service")
	}
	if err := c.service.Retry(); err != nil {
		return err
	}
	c.telemetry.Record(ctx, "livesync.command.retry", nil)
	return nil
}
