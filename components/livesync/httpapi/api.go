package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	gocommand "github.com/goliatone/go-command"

	"github.com/goliatone/go-livedash/components/livesync"
	"github.com/goliatone/go-livedash/components/livesync/commands"
	"github.com/goliatone/go-livedash/components/livesync/queries"
	"github.com/goliatone/go-livedash/pkg/errorlog"
)

// Executor is the transport-neutral control surface shared by the net/http
// handlers and the go-router adapter.
type Executor interface {
	Snapshot(ctx context.Context, req queries.SnapshotRequest) (livesync.Snapshot, error)
	Refresh(ctx context.Context, input commands.RefreshInput) error
	Retry(ctx context.Context) error
	Send(ctx context.Context, input commands.SendInput) error
	Errors(ctx context.Context, filter errorlog.Filter) (queries.ErrorLogResult, error)
	ClearErrors(ctx context.Context) error
}

// Handlers exposes HTTP endpoints backed by shared commands and queries.
type Handlers struct {
	SnapshotQuery      gocommand.Querier[queries.SnapshotRequest, livesync.Snapshot]
	ErrorLogQuery      gocommand.Querier[errorlog.Filter, queries.ErrorLogResult]
	RefreshCommand     gocommand.Commander[commands.RefreshInput]
	RetryCommand       gocommand.Commander[commands.RetryInput]
	SendCommand        gocommand.Commander[commands.SendInput]
	ClearErrorsCommand gocommand.Commander[commands.ClearErrorsInput]
}

var _ Executor = (*Handlers)(nil)

var errNotConfigured = errors.New("httpapi: endpoint not configured")

// NewHandlers wires the standard commands and queries around a synchronizer
// and an optional error log.
func NewHandlers(s *livesync.Synchronizer, log *errorlog.Log, telemetry commands.Telemetry) *Handlers {
	h := &Handlers{
		SnapshotQuery:  queries.NewSnapshotQuery(s),
		RefreshCommand: commands.NewRefreshCommand(s, telemetry),
		RetryCommand:   commands.NewRetryCommand(s, telemetry),
		SendCommand:    commands.NewSendCommand(s, telemetry),
	}
	if log != nil {
		h.ErrorLogQuery = queries.NewErrorLogQuery(log)
		h.ClearErrorsCommand = commands.NewClearErrorsCommand(log, telemetry)
	}
	return h
}

// Snapshot runs the snapshot query.
func (h *Handlers) Snapshot(ctx context.Context, req queries.SnapshotRequest) (livesync.Snapshot, error) {
	if h.SnapshotQuery == nil {
		return livesync.Snapshot{}, errNotConfigured
	}
	return h.SnapshotQuery.Query(ctx, req)
}

// Refresh runs the refresh command.
func (h *Handlers) Refresh(ctx context.Context, input commands.RefreshInput) error {
	if h.RefreshCommand == nil {
		return errNotConfigured
	}
	return h.RefreshCommand.Execute(ctx, input)
}

// Retry runs the retry command.
func (h *Handlers) Retry(ctx context.Context) error {
	if h.RetryCommand == nil {
		return errNotConfigured
	}
	return h.RetryCommand.Execute(ctx, commands.RetryInput{})
}

// Send runs the send command.
func (h *Handlers) Send(ctx context.Context, input commands.SendInput) error {
	if h.SendCommand == nil {
		return errNotConfigured
	}
	return h.SendCommand.Execute(ctx, input)
}

// Errors runs the error log query.
func (h *Handlers) Errors(ctx context.Context, filter errorlog.Filter) (queries.ErrorLogResult, error) {
	if h.ErrorLogQuery == nil {
		return queries.ErrorLogResult{}, errNotConfigured
	}
	return h.ErrorLogQuery.Query(ctx, filter)
}

// ClearErrors runs the clear errors command.
func (h *Handlers) ClearErrors(ctx context.Context) error {
	if h.ClearErrorsCommand == nil {
		return errNotConfigured
	}
	return h.ClearErrorsCommand.Execute(ctx, commands.ClearErrorsInput{})
}

func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshot(r.Context(), queries.SnapshotRequest{Topic: r.URL.Query().Get("topic")})
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var payload commands.RefreshInput
	if err := decodeOptional(r.Body, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Refresh(r.Context(), payload); err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) HandleRetry(w http.ResponseWriter, r *http.Request) {
	if err := h.Retry(r.Context()); err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	var payload commands.SendInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Send(r.Context(), payload); err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) HandleErrors(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r.URL.Query().Get)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.Errors(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleClearErrors(w http.ResponseWriter, r *http.Request) {
	if err := h.ClearErrors(r.Context()); err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ParseFilter reads an error log filter from query parameters: level,
// category, severity, search, limit and RFC 3339 start/end.
func ParseFilter(get func(string) string) (errorlog.Filter, error) {
	filter := errorlog.Filter{
		Level:    errorlog.Level(get("level")),
		Category: errorlog.Category(get("category")),
		Severity: errorlog.Severity(get("severity")),
		Search:   get("search"),
	}
	if raw := get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errors.New("httpapi: limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	for name, target := range map[string]*time.Time{"start": &filter.Start, "end": &filter.End} {
		raw := get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("httpapi: " + name + " must be an RFC 3339 timestamp")
		}
		*target = ts
	}
	return filter, nil
}

// StatusFor maps control errors to HTTP status codes.
func StatusFor(err error) int {
	var unknown *livesync.UnknownTopicError
	switch {
	case errors.Is(err, errNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, commands.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, commands.ErrRefreshSkipped), errors.Is(err, livesync.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, livesync.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &unknown):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeOptional(body io.Reader, target any) error {
	if body == nil {
		return nil
	}
	err := json.NewDecoder(body).Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
