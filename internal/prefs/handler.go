package prefs

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/platform/httpx"
)

const maxValueBytes = 64 << 10

// Handler exposes the preferences of the current identity.
type Handler struct {
	logger *slog.Logger
	store  *Store
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, store *Store) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, store: store}
}

// MountRoutes registers preference routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{entity}/{instance}/{key}", h.handleGet)
	r.Put("/{entity}/{instance}/{key}", h.handlePut)
	r.Delete("/{entity}/{instance}/{key}", h.handleDelete)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (Scope, string, bool) {
	id := identity.IDFromContext(r.Context())
	if id == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return Scope{}, "", false
	}
	return Scope{Entity: chi.URLParam(r, "entity"), Instance: chi.URLParam(r, "instance"), Owner: id}, chi.URLParam(r, "key"), true
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, key, ok := h.scope(w, r)
	if !ok {
		return
	}
	raw, err := h.store.Get(r.Context(), scope, key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	scope, key, ok := h.scope(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "could not read body")
		return
	}
	if len(raw) > maxValueBytes {
		httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "preference value too large")
		return
	}
	if !json.Valid(raw) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "value must be JSON")
		return
	}
	if err := h.store.Set(r.Context(), scope, key, raw); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	scope, key, ok := h.scope(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), scope, key); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidScope):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		h.logger.Error("prefs store", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
