package state

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/notify"
	"github.com/foreman-pm/foreman/internal/platform/httpx"
)

// Handler exposes the state of the signed-in identity. Impersonation belongs
// to the authenticated identity, everything else to the effective one.
type Handler struct {
	logger    *slog.Logger
	registry  *Registry
	loader    identity.Loader
	notifier  notify.Notifier
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, registry *Registry, loader identity.Loader, notifier notify.Notifier) *Handler {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Handler{logger: logger, registry: registry, loader: loader, notifier: notifier, validator: validator.New()}
}

// MountRoutes registers state routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{name}", h.show)
	r.Post("/impersonation", h.startImpersonation)
	r.Delete("/impersonation", h.stopImpersonation)
}

func (h *Handler) bundle(w http.ResponseWriter, r *http.Request) (*Bundle, *identity.Identity, bool) {
	original := identity.OriginalFromContext(r.Context())
	if original == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return nil, nil, false
	}
	return h.registry.For(original.ID), original, true
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	b, _, ok := h.bundle(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if name != ImpersonationName {
		// Unread and loading state follow the identity being acted as.
		b = h.registry.For(identity.IDFromContext(r.Context()))
	}
	provider, found := b.Lookup(name)
	if !found {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown state provider")
		return
	}
	switch p := provider.(type) {
	case *Unread:
		httpx.JSON(w, http.StatusOK, p.Get())
	case *Impersonation:
		httpx.JSON(w, http.StatusOK, p.Get())
	case *Loading:
		httpx.JSON(w, http.StatusOK, map[string]Phase{"phase": p.Phase()})
	}
}

type impersonationForm struct {
	TargetID string `json:"target_id" validate:"required"`
}

func (h *Handler) startImpersonation(w http.ResponseWriter, r *http.Request) {
	b, original, ok := h.bundle(w, r)
	if !ok {
		return
	}
	var form impersonationForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	target, err := h.loader.Identity(r.Context(), form.TargetID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	switch err := b.Impersonation.Start(*original, target); {
	case errors.Is(err, ErrImpersonationDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
		return
	case errors.Is(err, ErrAlreadyImpersonating):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		return
	case err != nil:
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("impersonation started", slog.String("identity_id", original.ID), slog.String("target_id", target.ID))
	h.notifier.Notify(r.Context(), notify.Toast{Title: "Impersonating", Description: "You are now acting as " + target.Email + ".", Variant: notify.Info})
	httpx.JSON(w, http.StatusOK, b.Impersonation.Get())
}

func (h *Handler) stopImpersonation(w http.ResponseWriter, r *http.Request) {
	b, _, ok := h.bundle(w, r)
	if !ok {
		return
	}
	original, err := b.Impersonation.Stop()
	if errors.Is(err, ErrNotImpersonating) {
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		return
	}
	h.logger.Info("impersonation stopped", slog.String("identity_id", original.ID))
	httpx.JSON(w, http.StatusOK, b.Impersonation.Get())
}
