// Package feed is a demo data source for the live dashboard. It serves the
// dashboard REST payload for polling and pushes topic updates over WebSocket.
package feed

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/goliatone/go-livedash/components/livesync"
)

// Weekdays labels the performance series.
var Weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// ProviderFixture describes one provider the generator reports on.
type ProviderFixture struct {
	Name        string
	Models      int
	BaseLatency int
}

// DefaultProviders are reported when a Generator is built without fixtures.
var DefaultProviders = []ProviderFixture{
	{Name: "OpenAI", Models: 5, BaseLatency: 40},
	{Name: "Anthropic", Models: 3, BaseLatency: 50},
	{Name: "Google", Models: 4, BaseLatency: 60},
	{Name: "Mistral", Models: 2, BaseLatency: 35},
}

// Generator produces randomised dashboard data.
type Generator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	providers []ProviderFixture
}

// NewGenerator builds a generator. A zero seed uses the current time.
func NewGenerator(seed int64, providers ...ProviderFixture) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if len(providers) == 0 {
		providers = DefaultProviders
	}
	return &Generator{
		rng:       rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
		providers: append([]ProviderFixture{}, providers...),
	}
}

// Dashboard returns a complete payload.
func (g *Generator) Dashboard() livesync.DashboardData {
	stats := g.Stats()
	return livesync.DashboardData{
		Stats:       &stats,
		Performance: g.Performance(),
		Providers:   g.Providers(),
	}
}

// Stats returns a statistics summary.
func (g *Generator) Stats() livesync.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return livesync.Stats{
		TotalRequests: float64(40000 + g.rng.IntN(10000)),
		ActiveModels:  float64(g.modelCount()),
		MonthlyCost:   float64(2450 + g.rng.IntN(200)),
		SystemHealth:  98.2,
	}
}

// Performance returns one point per weekday.
func (g *Generator) Performance() []livesync.PerformancePoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	points := make([]livesync.PerformancePoint, len(Weekdays))
	for i, day := range Weekdays {
		points[i] = livesync.PerformancePoint{Name: day, Value: float64(300 + g.rng.IntN(300))}
	}
	return points
}

// Providers returns the provider list; roughly one in ten is degraded.
func (g *Generator) Providers() []livesync.ProviderStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]livesync.ProviderStatus, len(g.providers))
	for i, p := range g.providers {
		status := "operational"
		if g.rng.Float64() < 0.1 {
			status = "degraded"
		}
		ms := p.BaseLatency + g.rng.IntN(10)
		latency, _ := livesync.ParseLatency(fmt.Sprintf("%dms", ms))
		out[i] = livesync.ProviderStatus{Name: p.Name, Status: status, Latency: latency, Models: p.Models}
	}
	return out
}

func (g *Generator) modelCount() int {
	total := 0
	for _, p := range g.providers {
		total += p.Models
	}
	return total
}
