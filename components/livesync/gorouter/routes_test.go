package gorouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	router "github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-livedash/components/feed"
	"github.com/goliatone/go-livedash/components/livesync"
	"github.com/goliatone/go-livedash/components/livesync/commands"
	"github.com/goliatone/go-livedash/components/livesync/httpapi"
	"github.com/goliatone/go-livedash/components/livesync/queries"
	"github.com/goliatone/go-livedash/pkg/errorlog"
)

func TestRegisterValidatesConfig(t *testing.T) {
	err := Register(Config[struct{}]{})
	if err == nil {
		t.Fatalf("expected error when router missing")
	}
	err = Register(Config[struct{}]{Router: newMockRouter()})
	if err == nil {
		t.Fatalf("expected error when nothing is configured")
	}
}

func TestDefaultRouteConfig(t *testing.T) {
	routes := defaultRouteConfig(RouteConfig{Snapshot: "/state"})
	if routes.Snapshot != "/state" {
		t.Fatalf("expected override to be kept, got %s", routes.Snapshot)
	}
	if routes.FeedSocket != "/ws" || routes.FeedData != "/api/dashboard" || routes.Metrics != "/metrics" {
		t.Fatalf("unexpected defaults %#v", routes)
	}
}

func TestRegisterAPIRoutes(t *testing.T) {
	mock := newMockRouter()
	svc := &stubSync{snapshot: livesync.Snapshot{
		Source:           livesync.SourcePush,
		ConnectionStatus: livesync.StateConnected,
		Data:             livesync.DashboardData{Stats: &livesync.Stats{TotalRequests: 12}},
	}}
	if err := Register(Config[struct{}]{Router: mock, API: newHandlers(svc, errorlog.New(errorlog.Options{}))}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	for _, key := range []string{
		"GET:/livesync/snapshot",
		"POST:/livesync/refresh",
		"POST:/livesync/retry",
		"POST:/livesync/send",
		"GET:/livesync/errors",
		"DELETE:/livesync/errors",
	} {
		if _, ok := mock.routes[key]; !ok {
			t.Fatalf("expected route %s to be registered", key)
		}
	}

	ctx := newMockContext()
	ctx.query["topic"] = "stats"
	if err := mock.routes["GET:/livesync/snapshot"](ctx); err != nil {
		t.Fatalf("snapshot handler returned error: %v", err)
	}
	if ctx.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.status)
	}
	doc := ctx.decode(t)
	if doc["connectionStatus"] != "connected" || doc["source"] != "push" {
		t.Fatalf("unexpected snapshot body %v", doc)
	}
}

func TestRegisterAPIUnknownTopic(t *testing.T) {
	mock := newMockRouter()
	if err := Register(Config[struct{}]{Router: mock, API: newHandlers(&stubSync{}, nil)}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	ctx := newMockContext()
	ctx.query["topic"] = "weather"
	if err := mock.routes["GET:/livesync/snapshot"](ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if ctx.status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.status)
	}
	if msg, _ := ctx.decode(t)["error"].(string); !strings.Contains(msg, "weather") {
		t.Fatalf("expected error to name the topic, got %q", msg)
	}
}

func TestRegisterAPIRefresh(t *testing.T) {
	mock := newMockRouter()
	svc := &stubSync{}
	if err := Register(Config[struct{}]{Router: mock, API: newHandlers(svc, nil)}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	refresh := mock.routes["POST:/livesync/refresh"]

	ctx := newMockContext()
	if err := refresh(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if ctx.status != http.StatusConflict {
		t.Fatalf("expected 409 while push is active, got %d", ctx.status)
	}

	svc.queued = true
	ctx = newMockContext()
	ctx.reqBody = []byte(`{"reason":"manual"}`)
	if err := refresh(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if ctx.status != http.StatusAccepted || ctx.decode(t)["status"] != "queued" {
		t.Fatalf("expected 202 queued, got %d %s", ctx.status, ctx.body)
	}
	if svc.refreshes != 2 {
		t.Fatalf("expected two refresh requests, got %d", svc.refreshes)
	}

	ctx = newMockContext()
	ctx.reqBody = []byte(`{"reason":`)
	if err := refresh(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if ctx.status != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", ctx.status)
	}
}

func TestRegisterAPIRetryAndSend(t *testing.T) {
	mock := newMockRouter()
	svc := &stubSync{}
	if err := Register(Config[struct{}]{Router: mock, API: newHandlers(svc, nil)}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	ctx := newMockContext()
	if err := mock.routes["POST:/livesync/retry"](ctx); err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if ctx.status != http.StatusAccepted || svc.retries != 1 {
		t.Fatalf("expected 202 and one retry, got %d and %d", ctx.status, svc.retries)
	}

	svc.retryErr = livesync.ErrClosed
	ctx = newMockContext()
	if err := mock.routes["POST:/livesync/retry"](ctx); err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if ctx.status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after close, got %d", ctx.status)
	}

	send := mock.routes["POST:/livesync/send"]
	ctx = newMockContext()
	ctx.reqBody = []byte(`{"message":{"type":"ping"}}`)
	if err := send(ctx); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if ctx.status != http.StatusAccepted || len(svc.sent) != 1 {
		t.Fatalf("expected 202 and one message, got %d and %d", ctx.status, len(svc.sent))
	}

	for _, body := range []string{`not json`, `{}`} {
		ctx = newMockContext()
		ctx.reqBody = []byte(body)
		if err := send(ctx); err != nil {
			t.Fatalf("send returned error: %v", err)
		}
		if ctx.status != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", body, ctx.status)
		}
	}

	svc.sendErr = livesync.ErrNotConnected
	ctx = newMockContext()
	ctx.reqBody = []byte(`{"message":"hello"}`)
	if err := send(ctx); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if ctx.status != http.StatusConflict {
		t.Fatalf("expected 409 while disconnected, got %d", ctx.status)
	}
}

func TestRegisterAPIErrorLog(t *testing.T) {
	mock := newMockRouter()
	log := errorlog.New(errorlog.Options{})
	log.Error("poll failed", errors.New("timeout"), errorlog.CategoryNetwork, errorlog.SeverityHigh, nil)
	log.Error("bad payload", errors.New("schema"), errorlog.CategoryValidation, errorlog.SeverityLow, nil)
	if err := Register(Config[struct{}]{Router: mock, API: newHandlers(&stubSync{}, log)}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	ctx := newMockContext()
	ctx.query["category"] = "network"
	if err := mock.routes["GET:/livesync/errors"](ctx); err != nil {
		t.Fatalf("errors returned error: %v", err)
	}
	if ctx.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.status)
	}
	var result queries.ErrorLogResult
	if err := json.Unmarshal(ctx.body, &result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(result.Entries) != 1 || result.Entries[0].Message != "poll failed" {
		t.Fatalf("expected the network entry only, got %+v", result.Entries)
	}

	ctx = newMockContext()
	ctx.query["limit"] = "-1"
	if err := mock.routes["GET:/livesync/errors"](ctx); err != nil {
		t.Fatalf("errors returned error: %v", err)
	}
	if ctx.status != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", ctx.status)
	}

	ctx = newMockContext()
	if err := mock.routes["DELETE:/livesync/errors"](ctx); err != nil {
		t.Fatalf("clear returned error: %v", err)
	}
	if ctx.status != http.StatusOK || log.Len() != 0 {
		t.Fatalf("expected 200 and an empty log, got %d and %d", ctx.status, log.Len())
	}
}

func TestRegisterAPIWithoutErrorLog(t *testing.T) {
	mock := newMockRouter()
	if err := Register(Config[struct{}]{Router: mock, API: newHandlers(&stubSync{}, nil)}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	ctx := newMockContext()
	if err := mock.routes["GET:/livesync/errors"](ctx); err != nil {
		t.Fatalf("errors returned error: %v", err)
	}
	if ctx.status != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", ctx.status)
	}
}

func TestRegisterStreamWritesSnapshotsUntilClientLeaves(t *testing.T) {
	mock := newMockRouter()
	hook := livesync.NewSnapshotHook()
	if err := Register(Config[struct{}]{Router: mock, Hook: hook, BasePath: "/live"}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	handler, ok := mock.ws["/live/stream"]
	if !ok {
		t.Fatalf("expected stream socket to be registered")
	}

	ws := newMockWebSocket()
	done := make(chan error, 1)
	go func() { done <- handler(ws) }()
	waitUntil(t, func() bool { return hook.Subscribers() == 1 })

	hook.Publish(livesync.Snapshot{Source: livesync.SourcePoll, ConnectionStatus: livesync.StateReconnecting})
	waitUntil(t, func() bool { return len(ws.written()) == 1 })
	var doc map[string]any
	if err := json.Unmarshal(ws.written()[0], &doc); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if doc["connectionStatus"] != "reconnecting" {
		t.Fatalf("unexpected frame %v", doc)
	}

	ws.leave()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("handler did not notice the client leaving")
	}
	if hook.Subscribers() != 0 {
		t.Fatalf("expected subscription to be released")
	}
}

func TestRegisterFeedRoutes(t *testing.T) {
	mock := newMockRouter()
	demo := feed.New(feed.Options{Generator: feed.NewGenerator(7)})
	if err := Register(Config[struct{}]{Router: mock, Feed: demo}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	ctx := newMockContext()
	if err := mock.routes["GET:/api/dashboard"](ctx); err != nil {
		t.Fatalf("feed data returned error: %v", err)
	}
	if ctx.status != http.StatusOK || ctx.headers["Cache-Control"] != "no-store" {
		t.Fatalf("expected uncached 200, got %d %v", ctx.status, ctx.headers)
	}
	doc := ctx.decode(t)
	if _, ok := doc["stats"]; !ok {
		t.Fatalf("expected stats in feed payload, got %v", doc)
	}

	ctx = newMockContext()
	if err := mock.routes["GET:/api/providers"](ctx); err != nil {
		t.Fatalf("providers returned error: %v", err)
	}
	if _, ok := ctx.decode(t)["providers"]; !ok {
		t.Fatalf("expected providers key, got %s", ctx.body)
	}
}

func TestRegisterFeedSocketAnswersPing(t *testing.T) {
	mock := newMockRouter()
	demo := feed.New(feed.Options{Generator: feed.NewGenerator(7)})
	if err := Register(Config[struct{}]{Router: mock, Feed: demo}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	handler, ok := mock.ws["/ws"]
	if !ok {
		t.Fatalf("expected feed socket to be registered")
	}

	ws := newMockWebSocket()
	done := make(chan error, 1)
	go func() { done <- handler(ws) }()
	waitUntil(t, func() bool { return demo.Hub().Subscribers() == 1 })

	ws.inbound <- []byte(`{"type":"ping"}`)
	waitUntil(t, func() bool { return ws.hasType("pong") })

	ws.leave()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("handler did not notice the client leaving")
	}
	if demo.Hub().Subscribers() != 0 {
		t.Fatalf("expected subscription to be released")
	}
}

func TestRegisterFeedSocketEndsWhenHubCloses(t *testing.T) {
	mock := newMockRouter()
	demo := feed.New(feed.Options{Generator: feed.NewGenerator(7)})
	if err := Register(Config[struct{}]{Router: mock, Feed: demo}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	ws := newMockWebSocket()
	done := make(chan error, 1)
	go func() { done <- mock.ws["/ws"](ws) }()
	waitUntil(t, func() bool { return demo.Hub().Subscribers() == 1 })

	demo.Hub().Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected hub shutdown to end the socket cleanly, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("handler did not return after hub close")
	}
	if !ws.isClosed() {
		t.Fatalf("expected socket to be closed")
	}
}

func TestRegisterMetricsRoute(t *testing.T) {
	mock := newMockRouter()
	reg := prometheus.NewRegistry()
	metrics := livesync.NewMetrics(reg)
	metrics.Record(context.Background(), "livesync.poll", map[string]any{"result": "ok"})
	if err := Register(Config[struct{}]{Router: mock, Gatherer: reg}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	ctx := newMockContext()
	if err := mock.routes["GET:/metrics"](ctx); err != nil {
		t.Fatalf("metrics returned error: %v", err)
	}
	if ctx.headers["Content-Type"] != metricsContentType {
		t.Fatalf("unexpected content type %q", ctx.headers["Content-Type"])
	}
	if !strings.Contains(string(ctx.body), "livedash_") {
		t.Fatalf("expected livedash metrics, got:\n%s", ctx.body)
	}
}

func TestExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := livesync.NewMetrics(reg)
	metrics.Record(context.Background(), "livesync.push.state", map[string]any{"from": "connecting", "to": "connected"})

	body, err := exposition(reg)
	if err != nil {
		t.Fatalf("exposition: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, `livedash_push_state_transitions_total{from="connecting",to="connected"} 1`) {
		t.Fatalf("missing transition counter:\n%s", text)
	}
	if !strings.Contains(text, "livedash_push_active 1") {
		t.Fatalf("missing active gauge:\n%s", text)
	}
}

// --- Test helpers ---

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newHandlers(s *stubSync, log *errorlog.Log) *httpapi.Handlers {
	h := &httpapi.Handlers{
		SnapshotQuery:  queries.NewSnapshotQuery(s),
		RefreshCommand: commands.NewRefreshCommand(s, nil),
		RetryCommand:   commands.NewRetryCommand(s, nil),
		SendCommand:    commands.NewSendCommand(s, nil),
	}
	if log != nil {
		h.ErrorLogQuery = queries.NewErrorLogQuery(log)
		h.ClearErrorsCommand = commands.NewClearErrorsCommand(log, nil)
	}
	return h
}

// stubSync stands in for the synchronizer. Refresh reports false unless queued
// is set, which is what the synchronizer does while push is active.
type stubSync struct {
	snapshot  livesync.Snapshot
	queued    bool
	refreshes int
	retries   int
	retryErr  error
	sent      []any
	sendErr   error
}

func (s *stubSync) Snapshot() livesync.Snapshot { return s.snapshot }

func (s *stubSync) Refresh() bool {
	s.refreshes++
	return s.queued
}

func (s *stubSync) Retry() error {
	s.retries++
	return s.retryErr
}

func (s *stubSync) Send(message any) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, message)
	return nil
}

type mockRouter struct {
	router.Router[struct{}]
	prefix string
	routes map[string]router.HandlerFunc
	ws     map[string]func(router.WebSocketContext) error
}

func newMockRouter() *mockRouter {
	return &mockRouter{
		routes: map[string]router.HandlerFunc{},
		ws:     map[string]func(router.WebSocketContext) error{},
	}
}

func (m *mockRouter) Group(prefix string) router.Router[struct{}] {
	return &mockRouter{
		prefix: m.prefix + prefix,
		routes: m.routes,
		ws:     m.ws,
	}
}

func (m *mockRouter) record(method, path string, handler router.HandlerFunc) {
	full := m.prefix + path
	m.routes[method+":"+full] = handler
}

func (m *mockRouter) Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo {
	m.record(string(router.GET), path, handler)
	return mockRouteInfo{}
}

func (m *mockRouter) Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo {
	m.record(string(router.POST), path, handler)
	return mockRouteInfo{}
}

func (m *mockRouter) Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo {
	m.record(string(router.DELETE), path, handler)
	return mockRouteInfo{}
}

func (m *mockRouter) WebSocket(path string, cfg router.WebSocketConfig, handler func(router.WebSocketContext) error) router.RouteInfo {
	full := m.prefix + path
	m.ws[full] = handler
	return mockRouteInfo{}
}

type mockRouteInfo struct {
	router.RouteInfo
}

func (mockRouteInfo) SetName(string) router.RouteInfo { return mockRouteInfo{} }

// routerContext aliases router.Context so the embedded field name does not
// collide with the Context() method below.
type routerContext = router.Context

type mockContext struct {
	routerContext
	ctx     context.Context
	headers map[string]string
	query   map[string]string
	reqBody []byte
	body    []byte
	locals  map[any]any
	params  map[string]string
	status  int
}

func newMockContext() *mockContext {
	return &mockContext{
		ctx:     context.Background(),
		headers: map[string]string{},
		query:   map[string]string{},
		locals:  map[any]any{},
		params:  map[string]string{},
	}
}

func (m *mockContext) Context() context.Context {
	return m.ctx
}

func (m *mockContext) SetHeader(k, v string) router.Context {
	m.headers[k] = v
	return m
}

func (m *mockContext) Send(b []byte) error {
	m.body = append([]byte{}, b...)
	return nil
}

func (m *mockContext) JSON(code int, v any) error {
	m.status = code
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.body = data
	return nil
}

func (m *mockContext) Body() []byte { return m.reqBody }

func (m *mockContext) Query(name string, defaultValue ...string) string {
	if v, ok := m.query[name]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (m *mockContext) Param(name string, defaultValue ...string) string {
	if v, ok := m.params[name]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (m *mockContext) Locals(key any, value ...any) any {
	if len(value) == 0 {
		return m.locals[key]
	}
	m.locals[key] = value[0]
	return value[0]
}

func (m *mockContext) decode(t *testing.T) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(m.body, &doc); err != nil {
		t.Fatalf("decode body %q: %v", m.body, err)
	}
	return doc
}

// mockWebSocket feeds inbound frames from a channel and records what the
// handler writes. leave simulates the client disconnecting.
type mockWebSocket struct {
	router.WebSocketContext
	ctx     context.Context
	inbound chan []byte
	gone    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newMockWebSocket() *mockWebSocket {
	return &mockWebSocket{
		ctx:     context.Background(),
		inbound: make(chan []byte),
		gone:    make(chan struct{}),
	}
}

func (m *mockWebSocket) Context() context.Context { return m.ctx }

func (m *mockWebSocket) ReadMessage() (int, []byte, error) {
	select {
	case payload := <-m.inbound:
		return 1, payload, nil
	case <-m.gone:
		return 0, nil, io.EOF
	}
}

func (m *mockWebSocket) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("socket closed")
	}
	m.frames = append(m.frames, data)
	return nil
}

func (m *mockWebSocket) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.leave()
	return nil
}

func (m *mockWebSocket) leave() {
	m.once.Do(func() { close(m.gone) })
}

func (m *mockWebSocket) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockWebSocket) written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.frames...)
}

func (m *mockWebSocket) hasType(kind string) bool {
	for _, frame := range m.written() {
		var msg feed.Message
		if json.Unmarshal(frame, &msg) == nil && msg.Type == kind {
			return true
		}
	}
	return false
}
