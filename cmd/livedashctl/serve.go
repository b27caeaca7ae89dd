package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	router "github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-livedash/components/feed"
	"github.com/goliatone/go-livedash/components/livesync"
	"github.com/goliatone/go-livedash/components/livesync/gorouter"
	"github.com/goliatone/go-livedash/components/livesync/httpapi"
	"github.com/goliatone/go-livedash/pkg/livedash"
)

type serveCmd struct {
	Address string        `help:"Listen address (defaults to server.address)."`
	Sync    bool          `default:"true" negatable:"" help:"Run a synchronizer against the configured endpoints and expose its control API."`
	Seed    int64         `help:"Seed for the demo feed (defaults to feed.seed)."`
	Grace   time.Duration `default:"5s" help:"Shutdown grace period."`
}

func (cmd *serveCmd) Run(ctx context.Context, g *globals) error {
	cfg := *g.cfg
	address := cmd.Address
	if address == "" {
		address = cfg.Server.Address
	}
	seed := cmd.Seed
	if seed == 0 {
		seed = cfg.Feed.Seed
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	demo := feed.New(feed.Options{
		Generator: feed.NewGenerator(seed),
		Interval:  cfg.Feed.Interval,
		Logger:    &g.logger,
	})

	server := router.NewFiberAdapter()
	routes := gorouter.Config[*fiber.App]{
		Router:   server.Router(),
		Feed:     demo,
		Gatherer: reg,
		BasePath: cfg.Server.BasePath,
	}

	var rt *livedash.Runtime
	if cmd.Sync {
		var err error
		rt, err = livedash.Build(cfg, livedash.Deps{Logger: &g.logger, Registerer: reg})
		if err != nil {
			return fmt.Errorf("livedashctl: build synchronizer: %w", err)
		}
		routes.API = httpapi.NewHandlers(rt.Sync, rt.ErrorLog, livesync.NewLogTelemetry(g.logger))
		routes.Hook = rt.Sync.Hook()
	}
	if err := gorouter.Register(routes); err != nil {
		return fmt.Errorf("livedashctl: register routes: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return demo.Run(gctx)
	})
	group.Go(func() error {
		g.logger.Info().Str("address", address).Str("base_path", cfg.Server.BasePath).Msg("serving live dashboard")
		return server.Serve(address)
	})
	if rt != nil {
		group.Go(func() error {
			if err := rt.Sync.Open(gctx); err != nil && !errors.Is(err, livesync.ErrClosed) {
				return err
			}
			<-rt.Sync.Done()
			return nil
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		demo.Hub().Close()
		if rt != nil {
			_ = rt.Sync.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cmd.Grace)
		defer cancel()
		g.logger.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
