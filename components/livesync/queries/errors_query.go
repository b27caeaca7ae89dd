package queries

import (
	"context"

	gocommand "github.com/goliatone/go-command"

	"github.com/goliatone/go-livedash/pkg/errorlog"
)

// ErrorLogResult pairs the filtered entries with overall statistics.
type ErrorLogResult struct {
	Entries []errorlog.Entry `json:"entries"`
	Stats   errorlog.Stats   `json:"stats"`
}

type errorSource interface {
	Filter(errorlog.Filter) []errorlog.Entry
	Stats() errorlog.Stats
}

// ErrorLogQuery reads the error log.
type ErrorLogQuery struct {
	log errorSource
}

// NewErrorLogQuery builds the query.
func NewErrorLogQuery(log errorSource) *ErrorLogQuery {
	return &ErrorLogQuery{log: log}
}

var _ gocommand.Querier[errorlog.Filter, ErrorLogResult] = (*ErrorLogQuery)(nil)

// Query filters the log.
func (q *ErrorLogQuery) Query(_ context.Context, filter errorlog.Filter) (ErrorLogResult, error) {
	return ErrorLogResult{Entries: q.log.Filter(filter), Stats: q.log.Stats()}, nil
}
