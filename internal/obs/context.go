package obs

import (
	"context"

	"github.com/go-chi/chi/v5"
)

type routeSlotKey struct{}

// routeSlot is shared by everything downstream of RoutePatternMiddleware.
// chi only knows the pattern once it has routed, so the slot reads it from
// the routing context on demand and pins it when the request completes.
type routeSlot struct {
	rc      *chi.Context
	pattern string
}

func (s *routeSlot) resolve() string {
	if s.pattern != "" {
		return s.pattern
	}
	if s.rc != nil {
		return s.rc.RoutePattern()
	}
	return ""
}

// WithRoutePattern pins a route pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routeSlotKey{}, &routeSlot{pattern: pattern})
}

// RoutePatternFromContext returns the matched route pattern, or "" before
// routing or outside RoutePatternMiddleware.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(routeSlotKey{}).(*routeSlot); ok {
		return s.resolve()
	}
	return ""
}
