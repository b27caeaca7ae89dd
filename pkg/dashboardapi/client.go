// Package dashboardapi talks to the dashboard REST API that backs the polling
// fallback.
package dashboardapi

import (
	"context"

	"github.com/goliatone/go-livedash/components/livesync"
)

// Client fetches a complete dashboard snapshot.
type Client interface {
	FetchDashboard(ctx context.Context) (livesync.DashboardData, error)
}

// ProviderClient lists provider status on its own.
type ProviderClient interface {
	FetchProviders(ctx context.Context) ([]livesync.ProviderStatus, error)
}

// Fetcher adapts c to the synchronizer's fetch function.
func Fetcher(c Client) livesync.FetchFunc {
	if c == nil {
		return nil
	}
	return c.FetchDashboard
}
