package commands

import (
	"context"
	"errors"

	gocommand "github.com/goliatone/go-command"
)

// ErrRefreshSkipped is returned when a manual refresh was not queued, either
// because push is the active source or because the refresh limiter said no.
var ErrRefreshSkipped = errors.New("livesync: refresh skipped")

// RefreshInput requests an immediate poll.
type RefreshInput struct {
	Reason string `json:"reason,omitempty"`
}

type refresher interface {
	Refresh() bool
}

// RefreshCommand asks the synchronizer for an out-of-band poll.
type RefreshCommand struct {
	service   refresher
	telemetry Telemetry
}

// NewRefreshCommand creates the command.
func NewRefreshCommand(service refresher, telemetry Telemetry) *RefreshCommand {
	return &RefreshCommand{service: service, telemetry: normalizeTelemetry(telemetry)}
}

var _ gocommand.Commander[RefreshInput] = (*RefreshCommand)(nil)

// Execute queues a refresh.
func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshInput) error {
	if c.service == nil {
		return errors.New("refresh command requires service")
	}
	queued := c.service.Refresh()
	c.telemetry.Record(ctx, "livesync.command.refresh", map[string]any{
		"reason": msg.Reason,
		"queued": queued,
	})
	if !queued {
		return ErrRefreshSkipped
	}
	return nil
}
