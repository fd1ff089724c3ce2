package identityhttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/minerva-edu/minerva-edu/internal/session"
)

type claimsContextKey struct{}

// ClaimsFromContext extracts verified access-token claims, if any.
func ClaimsFromContext(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*session.Claims)
	return claims
}

// RequireAuth verifies the bearer access token statelessly and stores its
// claims in the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			h.writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := h.issuer.Verify(token)
		if err != nil {
			h.writeProblem(w, http.StatusUnauthorized, "unauthorized", "invalid access token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
