package identityhttp

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes registers auth routes on the provided router. The credential
// endpoints carry a tighter per-IP limit than the global stack.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(20, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))

	r.Group(func(r chi.Router) {
		r.Use(limiter)
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/me", h.handleMe)
	})
}
