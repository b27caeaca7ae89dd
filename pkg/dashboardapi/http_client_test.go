package dashboardapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-livedash/components/livesync"
)

func TestHTTPClientFetchDashboard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/dashboard" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected auth header, got %s", got)
		}
		_, _ = w.Write([]byte(`{
			"stats": {"totalRequests": 1200, "activeModels": 4, "monthlyCost": 310.5, "systemHealth": 99},
			"performance": [{"name": "Mon", "value": 3}],
			"providers": [{"name": "OpenAI", "status": "operational", "latency": "45ms", "models": 3}]
		}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(HTTPConfig{BaseURL: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	data, err := client.FetchDashboard(context.Background())
	if err != nil {
		t.Fatalf("fetch dashboard: %v", err)
	}
	if data.Stats == nil || data.Stats.TotalRequests != 1200 {
		t.Fatalf("unexpected stats: %#v", data.Stats)
	}
	if len(data.Performance) != 1 || data.Performance[0].Label() != "Mon" {
		t.Fatalf("unexpected performance: %#v", data.Performance)
	}
	if len(data.Providers) != 1 || data.Providers[0].Latency != livesync.Latency(45*time.Millisecond) {
		t.Fatalf("unexpected providers: %#v", data.Providers)
	}
}

func TestHTTPClientUnwrapsDataEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Fatalf("expected no auth header, got %s", got)
		}
		_, _ = w.Write([]byte(`{"data": {"performance": [{"time": "10:00", "value": 7}]}}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPClientForEndpoint(server.URL+"/api/dashboard", "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	data, err := client.FetchDashboard(context.Background())
	if err != nil {
		t.Fatalf("fetch dashboard: %v", err)
	}
	if data.Stats != nil || len(data.Performance) != 1 || data.Performance[0].Time != "10:00" {
		t.Fatalf("unexpected data: %#v", data)
	}
}

func TestHTTPClientFetchProviders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/providers" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"providers": [{"name": "Anthropic", "status": "degraded", "latency": 120, "models": 2}]}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(HTTPConfig{BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	providers, err := client.FetchProviders(context.Background())
	if err != nil {
		t.Fatalf("fetch providers: %v", err)
	}
	if len(providers) != 1 || providers[0].Status != "degraded" || providers[0].Latency.Milliseconds() != 120 {
		t.Fatalf("unexpected providers: %#v", providers)
	}
}

func TestHTTPClientRemoteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(HTTPConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.FetchDashboard(context.Background())
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if remote.StatusCode != http.StatusBadGateway || remote.Body != "upstream down" {
		t.Fatalf("unexpected remote error: %#v", remote)
	}
	if remote.Code() != "HTTP_502" {
		t.Fatalf("unexpected code %s", remote.Code())
	}
}

func TestNewHTTPClientValidation(t *testing.T) {
	if _, err := NewHTTPClient(HTTPConfig{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
	if _, err := NewHTTPClientForEndpoint("/api/dashboard", "", nil); err == nil {
		t.Fatalf("expected error for relative endpoint")
	}
}

func TestMockClientFetcher(t *testing.T) {
	mock := NewMockClient(MockData{Dashboard: livesync.DashboardData{
		Performance: []livesync.PerformancePoint{{Name: "Mon", Value: 1}},
	}})
	fetch := Fetcher(mock)

	data, err := fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	data.Performance[0].Value = 99
	again, _ := fetch(context.Background())
	if again.Performance[0].Value != 1 {
		t.Fatalf("mock fixtures leaked mutation: %#v", again.Performance)
	}

	boom := errors.New("boom")
	mock.Set(MockData{Err: boom})
	if _, err := fetch(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected configured error, got %v", err)
	}
	if mock.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", mock.Calls())
	}
	if Fetcher(nil) != nil {
		t.Fatalf("expected nil fetcher for nil client")
	}
}
