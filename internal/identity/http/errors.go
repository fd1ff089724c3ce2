package identityhttp

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/minerva-edu/minerva-edu/internal/identity"
	"github.com/minerva-edu/minerva-edu/internal/session"
)

type problemResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps the error taxonomy onto HTTP statuses. Every expected
// failure kind has a stable code; anything unrecognized is a server fault.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		h.writeProblem(w, http.StatusUnauthorized, "invalid_credentials",
			"email or password is incorrect")
	case errors.Is(err, identity.ErrAmbiguousTenant):
		h.writeProblem(w, http.StatusBadRequest, "ambiguous_tenant",
			"this email is registered in more than one institution; sign in through your institution's subdomain")
	case errors.Is(err, identity.ErrRateLimited):
		var rle *identity.RateLimitError
		if errors.As(err, &rle) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())+1))
		}
		h.writeProblem(w, http.StatusTooManyRequests, "rate_limited",
			"too many failed attempts; try again later")
	case errors.Is(err, identity.ErrDuplicateInTenant):
		h.writeProblem(w, http.StatusConflict, "duplicate_in_tenant",
			"this email is already registered in the institution")
	case errors.Is(err, identity.ErrNoTenant):
		h.writeProblem(w, http.StatusUnprocessableEntity, "no_tenant",
			"registration requires an institution")
	case errors.Is(err, session.ErrTokenReuseDetected):
		h.writeProblem(w, http.StatusUnauthorized, "token_reuse_detected",
			"refresh token was already used; all sessions have been revoked, sign in again")
	case errors.Is(err, session.ErrMalformedToken), errors.Is(err, session.ErrSessionExpired):
		h.writeProblem(w, http.StatusUnauthorized, "invalid_refresh_token",
			"refresh token is invalid or expired")
	case errors.Is(err, identity.ErrUpstreamUnavailable), errors.Is(err, session.ErrStoreUnavailable):
		h.logger.Error("upstream unavailable", slog.Any("error", err))
		h.writeProblem(w, http.StatusServiceUnavailable, "upstream_unavailable",
			"service temporarily unavailable, retry shortly")
	default:
		// Includes identity.ErrInvariantViolation: corrupted state is a
		// server fault, never downgraded to a credential error.
		h.logger.Error("auth request failed", slog.Any("error", err))
		h.writeProblem(w, http.StatusInternalServerError, "internal_error",
			http.StatusText(http.StatusInternalServerError))
	}
}

func (h *Handler) writeProblem(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, problemResponse{Code: code, Message: message})
}
