package dashboardapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-livedash/components/livesync"
)

// DefaultDashboardPath is the polling endpoint relative to the base URL.
const DefaultDashboardPath = "/api/dashboard"

// DefaultProvidersPath lists provider status relative to the base URL.
const DefaultProvidersPath = "/api/providers"

// HTTPConfig configures the HTTP dashboard client.
type HTTPConfig struct {
	BaseURL       string
	DashboardPath string
	ProvidersPath string
	APIKey        string
	HTTPClient    *http.Client
}

// HTTPClient fetches dashboard data from the dashboard REST API.
type HTTPClient struct {
	baseURL       string
	dashboardPath string
	providersPath string
	apiKey        string
	client        *http.Client
}

// NewHTTPClient builds a client for the dashboard API at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("dashboardapi: base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.DashboardPath == "" {
		cfg.DashboardPath = DefaultDashboardPath
	}
	if cfg.ProvidersPath == "" {
		cfg.ProvidersPath = DefaultProvidersPath
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		dashboardPath: cfg.DashboardPath,
		providersPath: cfg.ProvidersPath,
		apiKey:        cfg.APIKey,
		client:        httpClient,
	}, nil
}

// NewHTTPClientForEndpoint splits a full dashboard endpoint URL such as
// http://localhost:8080/api/dashboard into base URL and path.
func NewHTTPClientForEndpoint(endpoint, apiKey string, httpClient *http.Client) (*HTTPClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("dashboardapi: parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("dashboardapi: endpoint %q must be absolute", endpoint)
	}
	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return NewHTTPClient(HTTPConfig{
		BaseURL:       u.Scheme + "://" + u.Host,
		DashboardPath: path,
		APIKey:        apiKey,
		HTTPClient:    httpClient,
	})
}

// FetchDashboard implements Client by calling the dashboard endpoint.
func (c *HTTPClient) FetchDashboard(ctx context.Context) (livesync.DashboardData, error) {
	var resp dashboardResponse
	if err := c.do(ctx, http.MethodGet, c.dashboardPath, nil, &resp); err != nil {
		return livesync.DashboardData{}, err
	}
	return resp.toData(), nil
}

// FetchProviders implements ProviderClient via the providers endpoint.
func (c *HTTPClient) FetchProviders(ctx context.Context) ([]livesync.ProviderStatus, error) {
	var resp providersResponse
	if err := c.do(ctx, http.MethodGet, c.providersPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Providers, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any, target any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("dashboardapi: encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("dashboardapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("dashboardapi: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(io.LimitReader(resp.Body, 4096))
		return &RemoteError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(buf.String())}
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("dashboardapi: decode response: %w", err)
	}
	return nil
}

// RemoteError is returned for non-2xx responses.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("dashboardapi: remote error %d: %s", e.StatusCode, e.Body)
}

// Code exposes the HTTP status for error logs.
func (e *RemoteError) Code() string {
	return fmt.Sprintf("HTTP_%d", e.StatusCode)
}

type dashboardPayload struct {
	Stats       *livesync.Stats             `json:"stats"`
	Performance []livesync.PerformancePoint `json:"performance"`
	Providers   []livesync.ProviderStatus   `json:"providers"`
}

// dashboardResponse accepts both the bare payload and a {"data": {...}} envelope.
type dashboardResponse struct {
	dashboardPayload
	Data *dashboardPayload `json:"data"`
}

func (r dashboardResponse) toData() livesync.DashboardData {
	payload := r.dashboardPayload
	if r.Data != nil {
		payload = *r.Data
	}
	return livesync.DashboardData{
		Stats:       payload.Stats,
		Performance: payload.Performance,
		Providers:   payload.Providers,
	}
}

type providersResponse struct {
	Providers []livesync.ProviderStatus `json:"providers"`
}
