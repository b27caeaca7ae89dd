package dashboardapi

import (
	"context"
	"sync"

	"github.com/goliatone/go-livedash/components/livesync"
)

// MockData seeds deterministic dashboard responses for tests or local demos.
type MockData struct {
	Dashboard livesync.DashboardData
	Err       error
}

// MockClient implements Client and ProviderClient using in-memory fixtures.
type MockClient struct {
	data  MockData
	calls int
	mu    sync.RWMutex
}

// NewMockClient builds a mock dashboard client from the provided fixtures.
func NewMockClient(data MockData) *MockClient {
	return &MockClient{data: MockData{Dashboard: data.Dashboard.Clone(), Err: data.Err}}
}

// Set replaces the fixtures returned by later calls.
func (c *MockClient) Set(data MockData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = MockData{Dashboard: data.Dashboard.Clone(), Err: data.Err}
}

// Calls reports how many fetches were served.
func (c *MockClient) Calls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

// FetchDashboard returns a copy of the configured dashboard or the configured error.
func (c *MockClient) FetchDashboard(ctx context.Context) (livesync.DashboardData, error) {
	if err := ctx.Err(); err != nil {
		return livesync.DashboardData{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.data.Err != nil {
		return livesync.DashboardData{}, c.data.Err
	}
	return c.data.Dashboard.Clone(), nil
}

// FetchProviders returns the configured providers.
func (c *MockClient) FetchProviders(ctx context.Context) ([]livesync.ProviderStatus, error) {
	data, err := c.FetchDashboard(ctx)
	if err != nil {
		return nil, err
	}
	return data.Providers, nil
}
