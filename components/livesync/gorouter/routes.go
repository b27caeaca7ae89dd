package gorouter

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	router "github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/goliatone/go-livedash/components/feed"
	"github.com/goliatone/go-livedash/components/livesync"
	"github.com/goliatone/go-livedash/components/livesync/commands"
	"github.com/goliatone/go-livedash/components/livesync/httpapi"
	"github.com/goliatone/go-livedash/components/livesync/queries"
)

const metricsContentType = "text/plain; version=0.0.4; charset=utf-8"

// Config wires go-router with the live dashboard control API, the snapshot
// stream, the demo feed and metrics. Every collaborator except Router is optional.
type Config[T any] struct {
	Router   router.Router[T]
	API      httpapi.Executor
	Hook     *livesync.SnapshotHook
	Feed     *feed.Feed
	Gatherer prometheus.Gatherer
	BasePath string
	Routes   RouteConfig
}

// RouteConfig customizes the relative paths used for endpoints. Control
// routes are relative to BasePath; feed and metrics routes are absolute.
type RouteConfig struct {
	Snapshot      string
	Refresh       string
	Retry         string
	Send          string
	Errors        string
	Stream        string
	FeedData      string
	FeedProviders string
	FeedSocket    string
	Metrics       string
}

// Register mounts the configured routes on a go-router router.
func Register[T any](cfg Config[T]) error {
	if cfg.Router == nil {
		return errors.New("gorouter: router is required")
	}
	if cfg.API == nil && cfg.Hook == nil && cfg.Feed == nil && cfg.Gatherer == nil {
		return errors.New("gorouter: nothing to register")
	}
	routes := defaultRouteConfig(cfg.Routes)
	base := cfg.BasePath
	if base == "" {
		base = "/livesync"
	}

	group := cfg.Router.Group(base)
	if cfg.API != nil {
		registerAPI(group, cfg.API, routes)
	}
	if cfg.Hook != nil {
		registerStream(group, cfg.Hook, routes.Stream)
	}
	if cfg.Feed != nil {
		registerFeed(cfg.Router, cfg.Feed, routes)
	}
	if cfg.Gatherer != nil {
		registerMetrics(cfg.Router, cfg.Gatherer, routes.Metrics)
	}
	return nil
}

func registerAPI[T any](r router.Router[T], api httpapi.Executor, routes RouteConfig) {
	r.Get(routes.Snapshot, router.WrapHandler(func(ctx router.Context) error {
		snap, err := api.Snapshot(ctx.Context(), queries.SnapshotRequest{Topic: ctx.Query("topic")})
		if err != nil {
			return respondError(ctx, httpapi.StatusFor(err), err)
		}
		return ctx.JSON(http.StatusOK, snap)
	}))

	r.Post(routes.Refresh, router.WrapHandler(func(ctx router.Context) error {
		var payload commands.RefreshInput
		if body := ctx.Body(); len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				return respondError(ctx, http.StatusBadRequest, err)
			}
		}
		if err := api.Refresh(ctx.Context(), payload); err != nil {
			return respondError(ctx, httpapi.StatusFor(err), err)
		}
		return ctx.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
	}))

	r.Post(routes.Retry, router.WrapHandler(func(ctx router.Context) error {
		if err := api.Retry(ctx.Context()); err != nil {
			return respondError(ctx, httpapi.StatusFor(err), err)
		}
		return ctx.JSON(http.StatusAccepted, map[string]string{"status": "retrying"})
	}))

	r.Post(routes.Send, router.WrapHandler(func(ctx router.Context) error {
		var payload commands.SendInput
		if err := json.Unmarshal(ctx.Body(), &payload); err != nil {
			return respondError(ctx, http.StatusBadRequest, err)
		}
		if err := api.Send(ctx.Context(), payload); err != nil {
			return respondError(ctx, httpapi.StatusFor(err), err)
		}
		return ctx.JSON(http.StatusAccepted, map[string]string{"status": "sent"})
	}))

	r.Get(routes.Errors, router.WrapHandler(func(ctx router.Context) error {
		filter, err := httpapi.ParseFilter(func(key string) string { return ctx.Query(key) })
		if err != nil {
			return respondError(ctx, http.StatusBadRequest, err)
		}
		result, err := api.Errors(ctx.Context(), filter)
		if err != nil {
			return respondError(ctx, httpapi.StatusFor(err), err)
		}
		return ctx.JSON(http.StatusOK, result)
	}))

	r.Delete(routes.Errors, router.WrapHandler(func(ctx router.Context) error {
		if err := api.ClearErrors(ctx.Context()); err != nil {
			return respondError(ctx, httpapi.StatusFor(err), err)
		}
		return ctx.JSON(http.StatusOK, map[string]string{"status": "cleared"})
	}))
}

func registerStream[T any](r router.Router[T], hook *livesync.SnapshotHook, path string) {
	cfg := router.DefaultWebSocketConfig()
	r.WebSocket(path, cfg, func(ws router.WebSocketContext) error {
		defer ws.Close()
		ctx, cancel := livesync.WatchClose(ws.Context(), ws.ReadMessage)
		defer cancel()
		return hook.Stream(ctx, func(snap livesync.Snapshot) error {
			return ws.WriteJSON(snap)
		})
	})
}

func registerFeed[T any](r router.Router[T], f *feed.Feed, routes RouteConfig) {
	r.Get(routes.FeedData, router.WrapHandler(func(ctx router.Context) error {
		ctx.SetHeader("Cache-Control", "no-store")
		return ctx.JSON(http.StatusOK, f.Current())
	}))

	r.Get(routes.FeedProviders, router.WrapHandler(func(ctx router.Context) error {
		return ctx.JSON(http.StatusOK, map[string]any{"providers": f.Current().Providers})
	}))

	cfg := router.DefaultWebSocketConfig()
	r.WebSocket(routes.FeedSocket, cfg, func(ws router.WebSocketContext) error {
		defer ws.Close()
		if err := f.Hub().Serve(ws.Context(), ws); err != nil && !errors.Is(err, feed.ErrHubClosed) {
			return err
		}
		return nil
	})
}

func registerMetrics[T any](r router.Router[T], gatherer prometheus.Gatherer, path string) {
	r.Get(path, router.WrapHandler(func(ctx router.Context) error {
		body, err := exposition(gatherer)
		if err != nil {
			return respondError(ctx, http.StatusInternalServerError, err)
		}
		ctx.SetHeader("Content-Type", metricsContentType)
		return ctx.Send(body)
	}))
}

// exposition renders every gathered family in the Prometheus text format.
func exposition(gatherer prometheus.Gatherer) ([]byte, error) {
	families, err := gatherer.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func respondError(ctx router.Context, status int, err error) error {
	return ctx.JSON(status, map[string]string{"error": err.Error()})
}

func defaultRouteConfig(routes RouteConfig) RouteConfig {
	if routes.Snapshot == "" {
		routes.Snapshot = "/snapshot"
	}
	if routes.Refresh == "" {
		routes.Refresh = "/refresh"
	}
	if routes.Retry == "" {
		routes.Retry = "/retry"
	}
	if routes.Send == "" {
		routes.Send = "/send"
	}
	if routes.Errors == "" {
		routes.Errors = "/errors"
	}
	if routes.Stream == "" {
		routes.Stream = "/stream"
	}
	if routes.FeedData == "" {
		routes.FeedData = "/api/dashboard"
	}
	if routes.FeedProviders == "" {
		routes.FeedProviders = "/api/providers"
	}
	if routes.FeedSocket == "" {
		routes.FeedSocket = "/ws"
	}
	if routes.Metrics == "" {
		routes.Metrics = "/metrics"
	}
	return routes
}
