// Package errorlog keeps a bounded, queryable history of application errors
// and mirrors every entry to a zerolog logger.
package errorlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultCapacity is the number of entries retained before the oldest are overwritten.
const DefaultCapacity = 1000

// Level is the log level of an entry.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Severity ranks the impact of an error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups errors by the subsystem that raised them.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAPI            Category = "api"
	CategoryNetwork        Category = "network"
	CategoryConfiguration  Category = "configuration"
	CategorySecurity       Category = "security"
	CategoryPerformance    Category = "performance"
	CategoryDatabase       Category = "database"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryIntegration    Category = "integration"
	CategoryUnknown        Category = "unknown"
)

// ErrorInfo is the serialisable part of an error.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Entry is one recorded log line.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Error     *ErrorInfo     `json:"error"`
	Category  Category       `json:"category,omitempty"`
	Severity  Severity       `json:"severity,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Record is the input to Log.
type Record struct {
	Level    Level
	Message  string
	Err      error
	Category Category
	Severity Severity
	Context  map[string]any
}

// EventType distinguishes subscriber notifications.
type EventType string

const (
	EventEntry EventType = "entry"
	EventClear EventType = "clear"
)

// Event is delivered to subscribers. Entry is nil for clear events.
type Event struct {
	Type  EventType `json:"type"`
	Entry *Entry    `json:"entry,omitempty"`
}

// Options configures a Log.
type Options struct {
	Capacity int
	Clock    clockwork.Clock
	Logger   *zerolog.Logger
}

// Log is a capacity-bounded ring buffer of entries.
type Log struct {
	clock  clockwork.Clock
	logger zerolog.Logger

	mu      sync.RWMutex
	entries []Entry
	head    int
	size    int

	subMu sync.RWMutex
	subs  map[int]func(Event)
	next  int
}

// New builds an empty log.
func New(opts Options) *Log {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Log{
		clock:   opts.Clock,
		logger:  logger,
		entries: make([]Entry, opts.Capacity),
		subs:    make(map[int]func(Event)),
	}
}

// Capacity returns the maximum number of retained entries.
func (l *Log) Capacity() int {
	return len(l.entries)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Log stores rec, mirrors it to zerolog and notifies subscribers.
func (l *Log) Log(rec Record) Entry {
	if rec.Level == "" {
		rec.Level = LevelError
	}
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: l.clock.Now(),
		Level:     rec.Level,
		Message:   rec.Message,
		Error:     describe(rec.Err),
		Category:  rec.Category,
		Severity:  rec.Severity,
		Context:   cloneContext(rec.Context),
	}

	l.mu.Lock()
	l.entries[l.head] = entry
	l.head = (l.head + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
	l.mu.Unlock()

	l.mirror(entry, rec.Err)
	l.notify(Event{Type: EventEntry, Entry: &entry})
	return entry
}

// Debug logs a debug entry.
func (l *Log) Debug(message string, context map[string]any) Entry {
	return l.Log(Record{Level: LevelDebug, Message: message, Context: context})
}

// Info logs an info entry.
func (l *Log) Info(message string, context map[string]any) Entry {
	return l.Log(Record{Level: LevelInfo, Message: message, Context: context})
}

// Warn logs a warning entry.
func (l *Log) Warn(message string, context map[string]any) Entry {
	return l.Log(Record{Level: LevelWarn, Message: message, Context: context})
}

// Error logs err at error level.
func (l *Log) Error(message string, err error, category Category, severity Severity, context map[string]any) Entry {
	return l.Log(Record{Level: LevelError, Message: message, Err: err, Category: category, Severity: severity, Context: context})
}

// Critical logs err at critical level with critical severity.
func (l *Log) Critical(message string, err error, category Category, context map[string]any) Entry {
	return l.Log(Record{Level: LevelCritical, Message: message, Err: err, Category: category, Severity: SeverityCritical, Context: context})
}

// ReportError records a non-fatal component error. Network and API failures
// are warnings, validation failures low-severity errors.
func (l *Log) ReportError(_ context.Context, category string, err error, details map[string]any) {
	if err == nil {
		return
	}
	cat := Category(category)
	if cat == "" {
		cat = CategoryUnknown
	}
	rec := Record{Message: err.Error(), Err: err, Category: cat, Context: details}
	switch cat {
	case CategoryValidation:
		rec.Level, rec.Severity = LevelWarn, SeverityLow
	case CategoryNetwork, CategoryAPI:
		rec.Level, rec.Severity = LevelWarn, SeverityMedium
	default:
		rec.Level, rec.Severity = LevelError, SeverityHigh
	}
	l.Log(rec)
}

// Entries returns every retained entry, newest first.
func (l *Log) Entries() []Entry {
	return l.Filter(Filter{})
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Level    Level
	Category Category
	Severity Severity
	Start    time.Time
	End      time.Time
	Search   string
	Limit    int
}

func (f Filter) matches(e Entry, search string) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if search != "" {
		if strings.Contains(strings.ToLower(e.Message), search) {
			return true
		}
		return e.Error != nil && strings.Contains(strings.ToLower(e.Error.Message), search)
	}
	return true
}

// Filter returns the matching entries, newest first.
func (l *Log) Filter(f Filter) []Entry {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, l.size)
	l.eachLocked(func(e Entry) bool {
		if f.matches(e, search) {
			out = append(out, e)
		}
		return f.Limit <= 0 || len(out) < f.Limit
	})
	return out
}

// eachLocked walks entries newest first until fn returns false.
func (l *Log) eachLocked(fn func(Entry) bool) {
	n := len(l.entries)
	for i := 0; i < l.size; i++ {
		idx := (l.head - 1 - i + n) % n
		if !fn(l.entries[idx]) {
			return
		}
	}
}

// Stats summarises the retained entries.
type Stats struct {
	Total      int              `json:"total"`
	ByLevel    map[Level]int    `json:"byLevel"`
	ByCategory map[Category]int `json:"byCategory"`
	BySeverity map[Severity]int `json:"bySeverity"`
	Recent     RecentStats      `json:"recent"`
}

// RecentStats covers the last 24 hours.
type RecentStats struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
}

// Stats counts entries by level, category and severity.
func (l *Log) Stats() Stats {
	cutoff := l.clock.Now().Add(-24 * time.Hour)
	stats := Stats{
		ByLevel:    map[Level]int{},
		ByCategory: map[Category]int{},
		BySeverity: map[Severity]int{},
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.eachLocked(func(e Entry) bool {
		stats.Total++
		stats.ByLevel[e.Level]++
		if e.Category != "" {
			stats.ByCategory[e.Category]++
		}
		if e.Severity != "" {
			stats.BySeverity[e.Severity]++
		}
		if e.Timestamp.After(cutoff) {
			stats.Recent.Total++
			if e.Severity == SeverityCritical {
				stats.Recent.Critical++
			}
		}
		return true
	})
	return stats
}

// Clear drops every entry and notifies subscribers with a clear event.
func (l *Log) Clear() {
	l.mu.Lock()
	for i := range l.entries {
		l.entries[i] = Entry{}
	}
	l.head, l.size = 0, 0
	l.mu.Unlock()
	l.notify(Event{Type: EventClear})
}

// Subscribe registers fn for every new entry and clear. The returned func
// removes the subscription.
func (l *Log) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.next
	l.next++
	l.subs[id] = fn
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subs, id)
	}
}

func (l *Log) notify(ev Event) {
	l.subMu.RLock()
	subs := make([]func(Event), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (l *Log) mirror(entry Entry, err error) {
	var ev *zerolog.Event
	switch entry.Level {
	case LevelDebug:
		ev = l.logger.Debug()
	case LevelInfo:
		ev = l.logger.Info()
	case LevelWarn:
		ev = l.logger.Warn()
	case LevelCritical:
		ev = l.logger.Error().Bool("critical", true)
	default:
		ev = l.logger.Error()
	}
	ev = ev.Str("error_id", entry.ID)
	if entry.Category != "" {
		ev = ev.Str("category", string(entry.Category))
	}
	if entry.Severity != "" {
		ev = ev.Str("severity", string(entry.Severity))
	}
	if err != nil {
		ev = ev.Err(err)
	}
	if len(entry.Context) > 0 {
		ev = ev.Fields(entry.Context)
	}
	ev.Msg(entry.Message)
}

type coder interface {
	Code() string
}

func describe(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
	var c coder
	if errors.As(err, &c) {
		info.Code = c.Code()
	}
	return info
}

func cloneContext(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
