// Package scratch holds the per-request buffers that arbitrary code fills
// during a request (dumps, exceptions, events and log lines) and that the
// collector drains once the response is known.
//
// Buffers travel in the request context, so two concurrent requests never
// share them and nothing has to pass a request handle around.
package scratch

import (
	"context"
	"sync"
)

// Kind names one of the four buffers.
type Kind string

const (
	Dumps      Kind = "dumps"
	Exceptions Kind = "exceptions"
	Events     Kind = "events"
	Logs       Kind = "logs"
)

// Kinds lists the buffers in drain order.
var Kinds = []Kind{Dumps, Exceptions, Events, Logs}

type ctxKey struct{}

// Buffers is the set of queues bound to one request. Appends may come from
// goroutines the handler starts with the request context, so access is
// serialized.
type Buffers struct {
	mu    sync.Mutex
	items map[Kind][]any
}

// New returns empty buffers.
func New() *Buffers {
	return &Buffers{items: make(map[Kind][]any, len(Kinds))}
}

// WithBuffers binds b to ctx.
func WithBuffers(ctx context.Context, b *Buffers) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext returns the buffers bound to ctx, or nil outside a recorded
// request.
func FromContext(ctx context.Context) *Buffers {
	if ctx == nil {
		return nil
	}
	b, _ := ctx.Value(ctxKey{}).(*Buffers)
	return b
}

// Append queues item. A nil receiver drops it.
func (b *Buffers) Append(kind Kind, item any) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.items[kind] = append(b.items[kind], item)
	b.mu.Unlock()
}

// Drain returns the queued items of kind and empties that queue in one step.
func (b *Buffers) Drain(kind Kind) []any {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	items := b.items[kind]
	delete(b.items, kind)
	b.mu.Unlock()
	return items
}

// Len reports how many items of kind are queued.
func (b *Buffers) Len(kind Kind) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items[kind])
}

// Reset empties every queue.
func (b *Buffers) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.items = make(map[Kind][]any, len(Kinds))
	b.mu.Unlock()
}
