package middleware

import (
	"net/http"
	"reflect"
	"runtime"
	"sync"

	"github.com/go-chi/chi/v5"
)

// RouteResolver names the handler a request will be dispatched to. The
// result is diagnostic only.
type RouteResolver interface {
	Resolve(r *http.Request) string
}

// ResolverFunc adapts a function to RouteResolver.
type ResolverFunc func(r *http.Request) string

func (f ResolverFunc) Resolve(r *http.Request) string { return f(r) }

// ChiResolver resolves requests against a chi router. It reports the
// endpoint handler's function name when it can be determined and the route
// pattern otherwise.
type ChiResolver struct {
	routes chi.Routes

	mu    sync.Mutex
	names map[string]string
}

func NewChiResolver(routes chi.Routes) *ChiResolver {
	return &ChiResolver{routes: routes}
}

func (c *ChiResolver) Resolve(r *http.Request) string {
	if c == nil || c.routes == nil {
		return ""
	}
	rctx := chi.NewRouteContext()
	if !c.routes.Match(rctx, r.Method, r.URL.Path) {
		return ""
	}
	pattern := rctx.RoutePattern()
	if name := c.handlerName(r.Method, pattern); name != "" {
		return name
	}
	return pattern
}

// handlerName looks pattern up in a table built by walking the router. The
// table is rebuilt on a miss because routes may be added after startup.
func (c *ChiResolver) handlerName(method, pattern string) string {
	key := method + " " + pattern
	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := c.names[key]; ok {
		return name
	}
	names := map[string]string{}
	_ = chi.Walk(c.routes, func(method, route string, handler http.Handler, _ ...func(http.Handler) http.Handler) error {
		names[method+" "+route] = funcName(handler)
		return nil
	})
	c.names = names
	return names[key]
}

func funcName(h http.Handler) string {
	if h == nil {
		return ""
	}
	v := reflect.ValueOf(h)
	if v.Kind() != reflect.Func {
		return v.Type().String()
	}
	if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
		return fn.Name()
	}
	return ""
}
