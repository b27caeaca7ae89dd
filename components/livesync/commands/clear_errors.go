package commands

import (
	"context"
	"errors"

	gocommand "github.com/goliatone/go-command"
)

// ClearErrorsInput empties the error log.
type ClearErrorsInput struct{}

type errorClearer interface {
	Clear()
}

// ClearErrorsCommand drops every retained error log entry.
type ClearErrorsCommand struct {
	log       errorClearer
	telemetry Telemetry
}

// NewClearErrorsCommand creates the command.
func NewClearErrorsCommand(log errorClearer, telemetry Telemetry) *ClearErrorsCommand {
	return &ClearErrorsCommand{log: log, telemetry: normalizeTelemetry(telemetry)}
}

var _ gocommand.Commander[ClearErrorsInput] = (*ClearErrorsCommand)(nil)

// Execute clears the log.
func (c *ClearErrorsCommand) Execute(ctx context.Context, _ ClearErrorsInput) error {
	if c.log == nil {
		return errors.New("clear errors command requires error log")
	}
	c.log.Clear()
	c.telemetry.Record(ctx, "livesync.command.clear_errors", nil)
	return nil
}
