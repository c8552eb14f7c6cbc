package capability

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/platform/httpx"
)

// Handler exposes the capabilities of the current identity.
type Handler struct {
	resolver *Resolver
}

// NewHandler constructs a Handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// MountRoutes registers capability routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{area}", h.show)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	out := make(map[Area]State, len(Areas()))
	for _, area := range Areas() {
		out[area] = h.resolver.Resolve(r.Context(), ident, area)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	area := Area(chi.URLParam(r, "area"))
	if Scopes(area) == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown feature area")
		return
	}
	httpx.JSON(w, http.StatusOK, h.resolver.Resolve(r.Context(), ident, area))
}
