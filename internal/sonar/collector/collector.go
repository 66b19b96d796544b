// Package collector turns captured request facts into categorized data
// entries bound to one request id.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pysugar/go-sonar/internal/sonar/normalize"
	"github.com/pysugar/go-sonar/internal/sonar/scratch"
)

// Built-in categories. Storage treats categories as opaque strings, so
// callers may introduce their own.
const (
	CategoryDetails   = "details"
	CategoryPayload   = "payload"
	CategoryQueries   = "queries"
	CategoryHeaders   = "headers"
	CategorySession   = "session"
	CategoryDumps     = "dumps"
	CategoryException = "exception"
	CategoryEvents    = "events"
	CategoryLogs      = "logs"
)

// ErrNoRequestID is returned when an entry has no request to attach to.
var ErrNoRequestID = errors.New("collector: no request id")

// Store appends data entries. data is a JSON document.
type Store interface {
	CreateEntry(ctx context.Context, requestID, category string, data []byte) error
}

// Collector writes entries for one request.
type Collector struct {
	requestID string
	store     Store
	buffers   *scratch.Buffers
}

// Option configures a Collector.
type Option func(*Collector)

// WithBuffers sets the scratch buffers the drain methods read. By default
// they use the buffers bound to the context passed to each call.
func WithBuffers(b *scratch.Buffers) Option {
	return func(c *Collector) { c.buffers = b }
}

// New returns a collector bound to requestID.
func New(requestID string, s Store, opts ...Option) *Collector {
	c := &Collector{requestID: requestID, store: s}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestID returns the bound request id.
func (c *Collector) RequestID() string { return c.requestID }

type entryOptions struct {
	requestID string
	tags      []string
	meta      map[string]any
}

// EntryOption customizes a single SaveEntry call.
type EntryOption func(*entryOptions)

// WithRequestID attaches the entry to id instead of the bound request.
func WithRequestID(id string) EntryOption {
	return func(o *entryOptions) { o.requestID = id }
}

func WithTags(tags ...string) EntryOption {
	return func(o *entryOptions) { o.tags = tags }
}

func WithMeta(meta map[string]any) EntryOption {
	return func(o *entryOptions) { o.meta = meta }
}

// SaveEntry normalizes payload and appends exactly one entry. With tags or
// meta the stored document is {payload, tags?, meta?}.
func (c *Collector) SaveEntry(ctx context.Context, category string, payload any, opts ...EntryOption) error {
	o := entryOptions{requestID: c.requestID}
	for _, opt := range opts {
		opt(&o)
	}
	if o.requestID == "" {
		return ErrNoRequestID
	}

	data := payload
	if len(o.tags) > 0 || len(o.meta) > 0 {
		wrapped := map[string]any{"payload": payload}
		if len(o.tags) > 0 {
			wrapped["tags"] = o.tags
		}
		if len(o.meta) > 0 {
			wrapped["meta"] = o.meta
		}
		data = wrapped
	}

	raw, err := json.Marshal(normalize.Value(data))
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", category, err)
	}
	return c.store.CreateEntry(ctx, o.requestID, category, raw)
}

func (c *Collector) SaveDetails(ctx context.Context, d Details) error {
	return c.SaveEntry(ctx, CategoryDetails, d.Document())
}

func (c *Collector) SavePayload(ctx context.Context, p Payload) error {
	return c.SaveEntry(ctx, CategoryPayload, p.Document())
}

func (c *Collector) SaveQueries(ctx context.Context, q Queries) error {
	return c.SaveEntry(ctx, CategoryQueries, q.Document())
}

func (c *Collector) SaveHeaders(ctx context.Context, h Headers) error {
	return c.SaveEntry(ctx, CategoryHeaders, h.Document())
}

func (c *Collector) SaveSession(ctx context.Context, s Session) error {
	return c.SaveEntry(ctx, CategorySession, s.Document())
}

// SaveDumps persists each queued dump as its own entry and empties the
// queue, also when some writes fail.
func (c *Collector) SaveDumps(ctx context.Context) error {
	return c.drain(ctx, scratch.Dumps, CategoryDumps)
}

func (c *Collector) SaveExceptions(ctx context.Context) error {
	return c.drain(ctx, scratch.Exceptions, CategoryException)
}

func (c *Collector) SaveEvents(ctx context.Context) error {
	return c.drain(ctx, scratch.Events, CategoryEvents)
}

func (c *Collector) SaveLogs(ctx context.Context) error {
	return c.drain(ctx, scratch.Logs, CategoryLogs)
}

func (c *Collector) drain(ctx context.Context, kind scratch.Kind, category string) error {
	b := c.buffers
	if b == nil {
		b = scratch.FromContext(ctx)
	}
	items := b.Drain(kind)
	if len(items) == 0 {
		return nil
	}
	if c.requestID == "" {
		return ErrNoRequestID
	}

	var errs []error
	for _, item := range items {
		if err := c.SaveEntry(ctx, category, item); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot is everything captured for a request besides the scratch
// buffers.
type Snapshot struct {
	Details Details
	Payload Payload
	Queries Queries
	Headers Headers
	Session Session
}

// SaveAll writes details, payload, queries, headers and session, then
// drains dumps, exceptions, events and logs. A failing step does not stop
// the ones after it; all failures are returned joined.
func (c *Collector) SaveAll(ctx context.Context, snap Snapshot) error {
	steps := []func(context.Context) error{
		func(ctx context.Context) error { return c.SaveDetails(ctx, snap.Details) },
		func(ctx context.Context) error { return c.SavePayload(ctx, snap.Payload) },
		func(ctx context.Context) error { return c.SaveQueries(ctx, snap.Queries) },
		func(ctx context.Context) error { return c.SaveHeaders(ctx, snap.Headers) },
		func(ctx context.Context) error { return c.SaveSession(ctx, snap.Session) },
		c.SaveDumps,
		c.SaveExceptions,
		c.SaveEvents,
		c.SaveLogs,
	}
	var errs []error
	for _, step := range steps {
		if err := step(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
