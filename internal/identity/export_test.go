package identity_test

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foreman-pm/foreman/internal/identity"
)

func newRouter(h *identity.Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", h.MountRoutes)
	return r
}
