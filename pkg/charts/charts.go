// Package charts renders dashboard snapshots as go-echarts HTML.
package charts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/goliatone/go-livedash/components/livesync"
)

const defaultChartHeight = "360px"

var (
	// ErrNoPerformance is returned when the snapshot has no performance series.
	ErrNoPerformance = errors.New("charts: no performance data")
	// ErrNoProviders is returned when the snapshot has no provider list.
	ErrNoProviders = errors.New("charts: no provider data")
)

// Renderer turns dashboard data into chart HTML.
type Renderer struct {
	cache      RenderCache
	theme      string
	assetsHost string
	height     string
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithCache injects a render cache. Nil disables caching.
func WithCache(cache RenderCache) Option {
	return func(r *Renderer) {
		r.cache = cache
	}
}

// WithTheme sets the ECharts theme (defaults to Westeros).
func WithTheme(theme string) Option {
	return func(r *Renderer) {
		r.theme = theme
	}
}

// WithAssetsHost rewrites the host the ECharts runtime is loaded from.
func WithAssetsHost(host string) Option {
	return func(r *Renderer) {
		r.assetsHost = host
	}
}

// WithHeight sets the chart height, e.g. "480px".
func WithHeight(height string) Option {
	return func(r *Renderer) {
		r.height = height
	}
}

// NewRenderer builds a renderer with a five minute cache unless overridden.
func NewRenderer(options ...Option) *Renderer {
	r := &Renderer{
		cache:  NewCache(5*time.Minute, nil),
		theme:  types.ThemeWesteros,
		height: defaultChartHeight,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Performance renders the performance series as a smoothed line chart.
func (r *Renderer) Performance(data livesync.DashboardData) (string, error) {
	if len(data.Performance) == 0 {
		return "", ErrNoPerformance
	}
	return r.cached("performance", data.Performance, func() (string, error) {
		return renderChart(r.performanceChart(data.Performance))
	})
}

// ProviderLatency renders provider latency in milliseconds as a bar chart.
func (r *Renderer) ProviderLatency(data livesync.DashboardData) (string, error) {
	if len(data.Providers) == 0 {
		return "", ErrNoProviders
	}
	return r.cached("providers", data.Providers, func() (string, error) {
		return renderChart(r.latencyChart(data.Providers))
	})
}

// Page renders every chart the data supports on one HTML page.
func (r *Renderer) Page(data livesync.DashboardData) (string, error) {
	if len(data.Performance) == 0 && len(data.Providers) == 0 {
		return "", ErrNoPerformance
	}
	return r.cached("page", data, func() (string, error) {
		page := components.NewPage()
		page.SetLayout(components.PageFlexLayout)
		if len(data.Performance) > 0 {
			page.AddCharts(r.performanceChart(data.Performance))
		}
		if len(data.Providers) > 0 {
			page.AddCharts(r.latencyChart(data.Providers))
		}
		return renderChart(page)
	})
}

func (r *Renderer) performanceChart(points []livesync.PerformancePoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(r.globalOptions("Performance", "requests per period")...)
	labels := make([]string, len(points))
	values := make([]opts.LineData, len(points))
	for i, p := range points {
		labels[i] = p.Label()
		values[i] = opts.LineData{Name: p.Label(), Value: p.Value}
	}
	line.SetXAxis(labels)
	line.AddSeries("value", values)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

func (r *Renderer) latencyChart(providers []livesync.ProviderStatus) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(r.globalOptions("Provider latency", "milliseconds")...)
	names := make([]string, len(providers))
	values := make([]opts.BarData, len(providers))
	for i, p := range providers {
		names[i] = p.Name
		values[i] = opts.BarData{Name: fmt.Sprintf("%s (%s)", p.Name, p.Status), Value: p.Latency.Milliseconds()}
	}
	bar.SetXAxis(names)
	bar.AddSeries("latency", values)
	return bar
}

func (r *Renderer) globalOptions(title, subtitle string) []charts.GlobalOpts {
	initOpts := opts.Initialization{
		Theme:  r.theme,
		Width:  "100%",
		Height: r.height,
	}
	if r.assetsHost != "" {
		initOpts.AssetsHost = r.assetsHost
	}
	return []charts.GlobalOpts{
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithInitializationOpts(initOpts),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	}
}

func (r *Renderer) cached(kind string, input any, render func() (string, error)) (string, error) {
	if r.cache == nil {
		return render()
	}
	key := fmt.Sprintf("%s:%s:%s:%s", kind, r.theme, r.height, dataHash(input))
	return r.cache.GetOrRender(key, render)
}

func renderChart(renderable interface{ Render(io.Writer) error }) (string, error) {
	var buf bytes.Buffer
	if err := renderable.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
