package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-livedash/pkg/config"
)

type cli struct {
	Config   string `type:"path" short:"c" help:"Config file (YAML, JSON or TOML). Defaults to ./livedash.* or ./config/livedash.*."`
	LogLevel string `name:"log-level" help:"Override log.level (debug, info, warn, error)."`
	LogJSON  bool   `name:"log-json" help:"Emit JSON logs instead of console output."`

	Watch watchCmd `cmd:"" help:"Follow the live dashboard and print every snapshot."`
	Serve serveCmd `cmd:"" help:"Run the demo feed, control API and metrics endpoint."`
	Chart chartCmd `cmd:"" help:"Poll the dashboard API once and render charts as HTML."`
}

// globals is bound into every command's Run.
type globals struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var root cli
	kctx := kong.Parse(&root,
		kong.Name("livedashctl"),
		kong.Description("Live dashboard synchronizer: push with polling fallback."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	g, err := root.globals()
	kctx.FatalIfErrorf(err)
	err = kctx.Run(g)
	kctx.FatalIfErrorf(err)
}

func (c *cli) globals() (*globals, error) {
	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cfg, err := config.Load(config.LoadOptions{File: c.Config, Logger: &boot})
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogJSON {
		cfg.Log.Format = "json"
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("livedashctl: %w", err)
	}
	return &globals{cfg: cfg, logger: logger}, nil
}
