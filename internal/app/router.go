package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/foreman-pm/foreman/internal/accounting"
	"github.com/foreman-pm/foreman/internal/capability"
	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/messaging"
	"github.com/foreman-pm/foreman/internal/observability"
	"github.com/foreman-pm/foreman/internal/platform/httpx"
	"github.com/foreman-pm/foreman/internal/prefs"
	"github.com/foreman-pm/foreman/internal/shared"
	"github.com/foreman-pm/foreman/internal/state"
	"github.com/foreman-pm/foreman/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Identity       identity.Middleware

	AuthHandler       *identity.Handler
	CapabilityHandler *capability.Handler
	StateHandler      *state.Handler
	AccountingHandler *accounting.Handler
	MessagingHandler  *messaging.Handler
	PrefsHandler      *prefs.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Foreman defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
		Identity:       params.Identity.Handler,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Landing target of guard redirects; drains pending flash toasts.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		var flashes []shared.FlashMessage
		if sess != nil {
			flashes = sess.Flashes()
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"identity": identity.FromContext(r.Context()),
			"toasts":   flashes,
		})
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.CapabilityHandler != nil {
		r.Route("/capabilities", params.CapabilityHandler.MountRoutes)
	}
	if params.StateHandler != nil {
		r.Route("/state", params.StateHandler.MountRoutes)
	}
	if params.AccountingHandler != nil {
		r.Route("/accounting", params.AccountingHandler.MountAccounting)
		r.Route("/bills", params.AccountingHandler.MountBills)
	}
	if params.MessagingHandler != nil {
		r.Route("/messaging", params.MessagingHandler.MountRoutes)
	}
	if params.PrefsHandler != nil {
		r.Route("/prefs", params.PrefsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
