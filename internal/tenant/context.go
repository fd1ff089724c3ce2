package tenant

import (
	"context"
	"net/http"
)

type contextKey struct{}

// WithContext stores the tenant context in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the tenant context. A request that never passed
// through the middleware reads as central mode.
func FromContext(ctx context.Context) Context {
	tc, ok := ctx.Value(contextKey{}).(Context)
	if !ok {
		return Central()
	}
	return tc
}

// Middleware resolves the tenant binding once per request and stores it in
// the request context.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := resolver.Resolve(RequestMetadata{
				Host:          r.Host,
				ForwardedHost: r.Header.Get("X-Forwarded-Host"),
			})
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
		})
	}
}
