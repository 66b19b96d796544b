package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/pysugar/go-sonar/internal/sonar/collector"
)

// UserFunc returns the authenticated principal of r, or nil.
type UserFunc func(r *http.Request) *collector.UserInfo

// SessionFunc returns the session data of r, or nil.
type SessionFunc func(r *http.Request) map[string]any

type principalKey struct{}

// principal is a per-request slot authentication code fills through SetUser.
// A context value set deeper in the chain is invisible to the recorder, so
// the recorder hands down a pointer instead.
type principal struct {
	mu   sync.Mutex
	user *collector.UserInfo
}

func withPrincipal(ctx context.Context) (context.Context, *principal) {
	p := &principal{}
	return context.WithValue(ctx, principalKey{}, p), p
}

// SetUser records the authenticated user of the request bound to ctx. It is
// a no-op outside a recorded request.
func SetUser(ctx context.Context, user *collector.UserInfo) {
	p, _ := ctx.Value(principalKey{}).(*principal)
	if p == nil {
		return
	}
	p.mu.Lock()
	p.user = user
	p.mu.Unlock()
}

func (p *principal) get() *collector.UserInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}
