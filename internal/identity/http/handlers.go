package identityhttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/minerva-edu/minerva-edu/internal/identity"
	"github.com/minerva-edu/minerva-edu/internal/session"
	"github.com/minerva-edu/minerva-edu/internal/tenant"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *identity.Service
	issuer    *session.Issuer
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *identity.Service, issuer *session.Issuer) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		issuer:    issuer,
		validator: validator.New(),
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required,min=8"`
	Name          string `json:"name" validate:"required"`
	InstitutionID string `json:"institution_id" validate:"omitempty,uuid4"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type principalResponse struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	Name          string   `json:"name,omitempty"`
	InstitutionID string   `json:"institution_id"`
	Roles         []string `json:"roles"`
}

type sessionResponse struct {
	AccessToken     string            `json:"access_token"`
	RefreshToken    string            `json:"refresh_token"`
	AccessExpiresAt time.Time         `json:"access_expires_at"`
	Principal       principalResponse `json:"principal"`
}

func toPrincipalResponse(p *identity.Principal) principalResponse {
	return principalResponse{
		ID:            p.ID.String(),
		Email:         p.Email,
		Name:          p.Name,
		InstitutionID: p.InstitutionID.String(),
		Roles:         p.Roles,
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	tc := tenant.FromContext(r.Context())
	principal, err := h.service.Login(r.Context(), req.Email, req.Password, tc)
	if err != nil {
		h.writeError(w, err)
		return
	}
	pair, err := h.issuer.Issue(r.Context(), principal)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		Principal:       toPrincipalResponse(principal),
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := identity.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}
	if req.InstitutionID != "" {
		id, err := uuid.Parse(req.InstitutionID)
		if err != nil {
			h.writeProblem(w, http.StatusBadRequest, "invalid_institution_id", "institution_id must be a UUID")
			return
		}
		input.InstitutionID = id
	}

	principal, err := h.service.Register(r.Context(), input, tenant.FromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"principal": toPrincipalResponse(principal),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.issuer.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"access_token":      pair.AccessToken,
		"refresh_token":     pair.RefreshToken,
		"access_expires_at": pair.AccessExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.issuer.Revoke(r.Context(), req.RefreshToken); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		h.writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing or invalid access token")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"principal_id":   claims.Subject,
		"institution_id": claims.InstitutionID,
		"roles":          claims.Roles,
	})
}

// decode parses and validates the JSON body; on failure it writes the
// response itself and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeProblem(w, http.StatusBadRequest, "malformed_body", "request body must be valid JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.writeProblem(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}
