package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-pm/foreman/internal/capability"
	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/notify"
)

type recorder struct {
	mu        sync.Mutex
	toasts    []notify.Toast
	redirects []string
}

func (r *recorder) Notify(_ context.Context, t notify.Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *recorder) Navigate(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects = append(r.redirects, path)
}

var (
	loading = capability.Pending()
	denied  = capability.Settled(capability.Set{capability.AccountingEdit: true})
	granted = capability.Settled(capability.Set{capability.AccountingView: true})
)

func TestCheckIsPure(t *testing.T) {
	assert.Equal(t, Resolving, Check(AccountingAccess, loading).Outcome)
	assert.Equal(t, Granted, Check(AccountingAccess, granted).Outcome)

	d := Check(AccountingAccess, denied)
	assert.Equal(t, Denied, d.Outcome)
	assert.Contains(t, d.Reason, "Accounting")
	assert.Empty(t, d.Redirect)
}

func TestLoadingShowsPlaceholderOnceWithoutEffects(t *testing.T) {
	rec := &recorder{}
	g := AccountingGuard(rec, rec)

	first := g.Observe(context.Background(), loading)
	second := g.Observe(context.Background(), loading)

	assert.Equal(t, Resolving, first.Outcome)
	assert.True(t, first.Placeholder)
	assert.Equal(t, Resolving, second.Outcome)
	assert.False(t, second.Placeholder)
	assert.Empty(t, rec.toasts)
	assert.Empty(t, rec.redirects)
}

func TestDeniedNotifiesAndRedirectsOncePerMount(t *testing.T) {
	rec := &recorder{}
	g := AccountingGuard(rec, rec)

	g.Observe(context.Background(), loading)
	d := g.Observe(context.Background(), denied)
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, HomePath, d.Redirect)

	again := g.Observe(context.Background(), denied)
	assert.Equal(t, Denied, again.Outcome)
	assert.Empty(t, again.Redirect)

	require.Len(t, rec.toasts, 1)
	assert.Equal(t, DeniedTitle, rec.toasts[0].Title)
	assert.Equal(t, notify.Destructive, rec.toasts[0].Variant)
	assert.Contains(t, rec.toasts[0].Description, "Accounting")
	assert.Equal(t, []string{HomePath}, rec.redirects)
}

func TestGrantedHasNoEffectsUntilRevoked(t *testing.T) {
	rec := &recorder{}
	g := TransactionsGuard(rec, rec)
	view := capability.Settled(capability.Set{capability.TransactionsView: true})

	assert.Equal(t, Granted, g.Observe(context.Background(), view).Outcome)
	assert.Equal(t, Granted, g.Observe(context.Background(), view).Outcome)
	assert.Empty(t, rec.toasts)

	d := g.Observe(context.Background(), capability.Settled(nil))
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, HomePath, d.Redirect)
	assert.Len(t, rec.toasts, 1)
	assert.Len(t, rec.redirects, 1)
}

func TestDeniedIsTerminalPerMount(t *testing.T) {
	rec := &recorder{}
	g := AccountingGuard(rec, rec)

	assert.Equal(t, Denied, g.Observe(context.Background(), denied).Outcome)
	for _, state := range []capability.State{granted, loading, denied} {
		d := g.Observe(context.Background(), state)
		assert.Equal(t, Denied, d.Outcome)
		assert.Empty(t, d.Redirect)
		assert.False(t, d.Placeholder)
	}
	assert.Equal(t, Denied, g.Outcome())
	assert.Len(t, rec.toasts, 1)
	assert.Equal(t, []string{HomePath}, rec.redirects)
}

func TestGuardsAreIndependent(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	a := BillsGuard(first, first)
	b := BillsGuard(second, second)

	a.Observe(context.Background(), capability.Settled(nil))
	d := b.Observe(context.Background(), capability.Settled(capability.Set{capability.BillsView: true}))

	assert.Equal(t, Denied, a.Outcome())
	assert.Equal(t, Granted, d.Outcome)
	assert.Len(t, first.toasts, 1)
	assert.Empty(t, second.toasts)
}

type stubResolver struct {
	state func(ctx context.Context) capability.State
}

func (s stubResolver) Resolve(ctx context.Context, _ *identity.Identity, _ capability.Area) capability.State {
	return s.state(ctx)
}

func fixed(state capability.State) stubResolver {
	return stubResolver{state: func(context.Context) capability.State { return state }}
}

func protected(gate Gate) (http.Handler, *bool) {
	reached := false
	return gate.Accounting()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})), &reached
}

func TestGateGrantedReachesHandler(t *testing.T) {
	h, reached := protected(Gate{Resolver: fixed(granted)})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounting", nil))

	assert.True(t, *reached)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateDeniedRedirectsBrowsers(t *testing.T) {
	notes := &recorder{}
	h, reached := protected(Gate{Resolver: fixed(denied), Notifier: notes})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounting", nil))

	assert.False(t, *reached)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, HomePath, rec.Header().Get("Location"))
	assert.Len(t, notes.toasts, 1)
}

func TestGateDeniedAnswersJSONClientsWithProblem(t *testing.T) {
	h, reached := protected(Gate{Resolver: fixed(denied)})
	req := httptest.NewRequest(http.MethodGet, "/accounting", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, *reached)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, DeniedTitle, body["title"])
	assert.Equal(t, HomePath, body["redirect"])
}

func TestGatePendingAnswersResolving(t *testing.T) {
	slow := stubResolver{state: func(ctx context.Context) capability.State {
		<-ctx.Done()
		return capability.Pending()
	}}
	notes := &recorder{}
	h, reached := protected(Gate{Resolver: slow, Notifier: notes, PendingWait: 10 * time.Millisecond})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounting", nil))

	assert.False(t, *reached)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"status":"resolving"}`, rec.Body.String())
	assert.Empty(t, notes.toasts)
}

type decisions struct {
	mu   sync.Mutex
	seen []string
}

func (d *decisions) GuardDecision(area, outcome string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, area+":"+outcome)
}

func TestGateRecordsDecisions(t *testing.T) {
	m := &decisions{}
	h, _ := protected(Gate{Resolver: fixed(granted), Metrics: m})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/accounting", nil))

	assert.Equal(t, []string{"accounting:granted"}, m.seen)
}
