package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goliatone/go-livedash/pkg/livedash"
)

type watchCmd struct {
	Format  string        `enum:"text,json,yaml" default:"text" help:"Output format (text, json, yaml)."`
	Once    bool          `help:"Exit after the first settled snapshot that carries data."`
	Timeout time.Duration `help:"Stop after this long; zero runs until interrupted."`
}

func (cmd *watchCmd) Run(ctx context.Context, g *globals) error {
	rt, err := livedash.Build(*g.cfg, livedash.Deps{Logger: &g.logger})
	if err != nil {
		return fmt.Errorf("livedashctl: build synchronizer: %w", err)
	}
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	snapshots, cancel := rt.Sync.Subscribe()
	defer cancel()
	if err := rt.Sync.Open(ctx); err != nil {
		return err
	}
	defer rt.Sync.Close()

	g.logger.Info().
		Str("push", g.cfg.Push.URL).
		Str("poll", g.cfg.Poll.URL).
		Msg("watching dashboard")
	err = cmd.follow(ctx, os.Stdout, snapshots)

	stats := rt.ErrorLog.Stats()
	g.logger.Debug().Int("errors", stats.Total).Int("critical", stats.Recent.Critical).Msg("watch finished")
	return err
}

func (cmd *watchCmd) follow(ctx context.Context, w io.Writer, snapshots <-chan livedash.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if err := writeSnapshot(w, cmd.Format, snap); err != nil {
				return err
			}
			if cmd.Once && !snap.Loading && !snap.Data.IsZero() {
				return nil
			}
		}
	}
}
