package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/foreman-pm/foreman/internal/platform/httpx"
	"github.com/foreman-pm/foreman/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	sessions  *shared.SessionManager
	csrf      *shared.CSRFManager
	tokens    *TokenIssuer
	events    *Events
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, tokens *TokenIssuer, events *Events) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		sessions:  sessions,
		csrf:      csrf,
		tokens:    tokens,
		events:    events,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/signin", h.handleSignIn)
	r.Post("/signout", h.handleSignOut)
	r.Post("/token", h.handleToken)
	r.Get("/me", h.handleMe)
	r.Get("/csrf", h.handleCSRF)
}

type signInForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type meResponse struct {
	Identity      Identity  `json:"identity"`
	Original      *Identity `json:"original,omitempty"`
	Impersonating bool      `json:"impersonating"`
	CSRFToken     string    `json:"csrf_token,omitempty"`
}

func (h *Handler) decodeSignIn(r *http.Request) (signInForm, map[string]string, error) {
	var form signInForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		return form, nil, err
	}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return form, nil, err
		}
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		return form, fields, nil
	}
	return form, nil, nil
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	form, fields, err := h.decodeSignIn(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed body")
		return Identity{}, false
	}
	if len(fields) > 0 {
		httpx.JSON(w, http.StatusBadRequest, map[string]any{"title": "Validation Failed", "status": http.StatusBadRequest, "fields": fields})
		return Identity{}, false
	}
	ident, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
			return Identity{}, false
		}
		h.logger.Error("identity authenticate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return Identity{}, false
	}
	return ident, true
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during sign-in")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	ident, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	sess.SetUser(ident.ID)
	sess.Delete(shared.CSRFSessionKey)
	h.events.Publish(r.Context(), Event{Kind: SignedIn, IdentityID: ident.ID})
	token, _ := h.csrf.EnsureToken(sess)
	httpx.JSON(w, http.StatusOK, meResponse{Identity: ident, CSRFToken: token})
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && sess.User() != "" {
		h.events.Publish(r.Context(), Event{Kind: SignedOut, IdentityID: sess.User()})
		h.sessions.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	token, expires, err := h.tokens.Issue(ident)
	if err != nil {
		h.logger.Error("identity issue token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.events.Publish(r.Context(), Event{Kind: SignedIn, IdentityID: ident.ID})
	httpx.JSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expires})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ident := FromContext(r.Context())
	if ident == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	resp := meResponse{Identity: *ident}
	if original := OriginalFromContext(r.Context()); original != nil && original.ID != ident.ID {
		resp.Original = original
		resp.Impersonating = true
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		resp.CSRFToken, _ = h.csrf.EnsureToken(sess)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.EnsureToken(shared.SessionFromContext(r.Context()))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "session required")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}
