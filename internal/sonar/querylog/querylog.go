// Package querylog records the SQL statements a request executes. A Log is
// bound to the request context and the gorm Plugin appends to it for every
// statement run with that context.
package querylog

import (
	"context"
	"sync"
)

// Query is one executed statement. Time is elapsed seconds formatted with
// millisecond precision.
type Query struct {
	SQL   string `json:"sql"`
	Time  string `json:"time"`
	Rows  int64  `json:"rows"`
	Error string `json:"error,omitempty"`
}

// Map returns q in the shape stored under executed_queries.
func (q Query) Map() map[string]any {
	m := map[string]any{"sql": q.SQL, "time": q.Time, "rows": q.Rows}
	if q.Error != "" {
		m["error"] = q.Error
	}
	return m
}

type ctxKey struct{}

// Log accumulates queries for one request.
type Log struct {
	mu      sync.Mutex
	queries []Query
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// WithLog binds l to ctx.
func WithLog(ctx context.Context, l *Log) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the log bound to ctx, or nil.
func FromContext(ctx context.Context) *Log {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(ctxKey{}).(*Log)
	return l
}

func (l *Log) Append(q Query) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.queries = append(l.queries, q)
	l.mu.Unlock()
}

// Queries returns a copy of the recorded queries.
func (l *Log) Queries() []Query {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Query(nil), l.queries...)
}

func (l *Log) Count() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queries)
}

func (l *Log) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.queries = nil
	l.mu.Unlock()
}

// Executed returns the queries as JSON-ready maps.
func (l *Log) Executed() []any {
	queries := l.Queries()
	out := make([]any, len(queries))
	for i, q := range queries {
		out[i] = q.Map()
	}
	return out
}
