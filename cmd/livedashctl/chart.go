package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goliatone/go-livedash/pkg/charts"
	"github.com/goliatone/go-livedash/pkg/dashboardapi"
)

type chartCmd struct {
	Out        string `short:"o" type:"path" help:"Write HTML to this file instead of stdout."`
	Kind       string `enum:"page,performance,providers" default:"page" help:"Which chart to render (page, performance, providers)."`
	Theme      string `default:"westeros" help:"ECharts theme."`
	AssetsHost string `name:"assets-host" help:"Host serving the ECharts runtime."`
}

func (cmd *chartCmd) Run(ctx context.Context, g *globals) error {
	client, err := dashboardapi.NewHTTPClientForEndpoint(g.cfg.Poll.URL, g.cfg.Poll.APIKey, nil)
	if err != nil {
		return err
	}
	if g.cfg.Poll.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Poll.Timeout)
		defer cancel()
	}
	data, err := client.FetchDashboard(ctx)
	if err != nil {
		return fmt.Errorf("livedashctl: fetch dashboard: %w", err)
	}

	options := []charts.Option{charts.WithTheme(cmd.Theme), charts.WithCache(nil)}
	if cmd.AssetsHost != "" {
		options = append(options, charts.WithAssetsHost(cmd.AssetsHost))
	}
	renderer := charts.NewRenderer(options...)

	var html string
	switch cmd.Kind {
	case "performance":
		html, err = renderer.Performance(data)
	case "providers":
		html, err = renderer.ProviderLatency(data)
	default:
		html, err = renderer.Page(data)
	}
	if err != nil {
		return err
	}

	if cmd.Out == "" {
		_, err = os.Stdout.WriteString(html)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cmd.Out), 0o755); err != nil {
		return fmt.Errorf("livedashctl: create output dir: %w", err)
	}
	if err := os.WriteFile(cmd.Out, []byte(html), 0o644); err != nil {
		return fmt.Errorf("livedashctl: write chart: %w", err)
	}
	g.logger.Info().Str("file", cmd.Out).Str("kind", cmd.Kind).Msg("chart written")
	return nil
}
