package guard

import (
	"context"
	"net/http"
	"time"

	"github.com/foreman-pm/foreman/internal/capability"
	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/notify"
	"github.com/foreman-pm/foreman/internal/platform/httpx"
)

// Resolver resolves capability states. *capability.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, ident *identity.Identity, area capability.Area) capability.State
}

// Metrics records guard outcomes.
type Metrics interface {
	GuardDecision(area, outcome string)
}

// Gate applies guards to HTTP routes. Every request is one mount.
type Gate struct {
	Resolver Resolver
	Notifier notify.Notifier
	// PendingWait bounds how long a request waits for capabilities before
	// it is answered with a resolving placeholder.
	PendingWait time.Duration
	Metrics     Metrics
}

type resolvingResponse struct {
	Status string `json:"status"`
}

// Require returns middleware admitting only requests that hold req.
func (g Gate) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			guard := New(req, g.Notifier, nil)

			rctx := ctx
			if g.PendingWait > 0 {
				var cancel context.CancelFunc
				rctx, cancel = context.WithTimeout(ctx, g.PendingWait)
				defer cancel()
			}
			state := g.Resolver.Resolve(rctx, identity.FromContext(ctx), req.Area)
			d := guard.Observe(ctx, state)
			if g.Metrics != nil {
				g.Metrics.GuardDecision(string(req.Area), string(d.Outcome))
			}

			switch d.Outcome {
			case Granted:
				next.ServeHTTP(w, r)
			case Resolving:
				w.Header().Set("Retry-After", "1")
				httpx.JSON(w, http.StatusAccepted, resolvingResponse{Status: string(Resolving)})
			default:
				if httpx.WantsJSON(r) {
					httpx.WriteProblem(w, httpx.ProblemDetail{
						Title:    DeniedTitle,
						Status:   http.StatusForbidden,
						Detail:   d.Reason,
						Redirect: d.Redirect,
					})
					return
				}
				http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			}
		})
	}
}

// Accounting gates the accounting area.
func (g Gate) Accounting() func(http.Handler) http.Handler { return g.Require(AccountingAccess) }

// Bills gates the bills area.
func (g Gate) Bills() func(http.Handler) http.Handler { return g.Require(BillsAccess) }

// Marketplace gates the marketplace area.
func (g Gate) Marketplace() func(http.Handler) http.Handler { return g.Require(MarketplaceAccess) }

// Reports gates the reports area.
func (g Gate) Reports() func(http.Handler) http.Handler { return g.Require(ReportsAccess) }

// Transactions gates the transactions area.
func (g Gate) Transactions() func(http.Handler) http.Handler {
	return g.Require(TransactionsAccess)
}
