package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/foreman-pm/foreman/internal/accounting"
	"github.com/foreman-pm/foreman/internal/app"
	"github.com/foreman-pm/foreman/internal/capability"
	"github.com/foreman-pm/foreman/internal/guard"
	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/notify"
	"github.com/foreman-pm/foreman/internal/prefs"
	"github.com/foreman-pm/foreman/internal/query"
	"github.com/foreman-pm/foreman/internal/shared"
	"github.com/foreman-pm/foreman/internal/state"
	_ "github.com/foreman-pm/foreman/testing"
)

const password = "correct-horse"

type identities map[string]identity.Credentials

func (s identities) FindByEmail(_ context.Context, email string) (identity.Credentials, error) {
	c, ok := s[email]
	if !ok {
		return identity.Credentials{}, shared.ErrNotFound
	}
	return c, nil
}

func (s identities) Get(_ context.Context, id string) (identity.Identity, error) {
	for _, c := range s {
		if c.ID == id {
			return c.Identity, nil
		}
	}
	return identity.Identity{}, shared.ErrNotFound
}

type ledger struct {
	closed map[string]*time.Time
}

func (l *ledger) BillCounts(_ context.Context, ids []string) (accounting.BillCounts, error) {
	out := accounting.BillCounts{}
	for _, id := range ids {
		out[id] = 2
	}
	return out, nil
}

func (l *ledger) IsTransactionLocked(context.Context, accounting.LockQuery) (bool, error) {
	return false, nil
}

func (l *ledger) ClosedBooks(_ context.Context, projectID string) (accounting.ClosedBooks, error) {
	return accounting.ClosedBooks{ProjectID: projectID, Date: l.closed[projectID]}, nil
}

func (l *ledger) Bills(context.Context, string, accounting.BillStatus) ([]accounting.Bill, error) {
	return nil, nil
}

func (l *ledger) SetClosedBooksDate(_ context.Context, in accounting.ClosedBooksInput) error {
	l.closed[in.ProjectID] = in.Date
	return nil
}

func (l *ledger) ApproveBill(context.Context, string, string, time.Time) (accounting.Bill, error) {
	return accounting.Bill{}, nil
}

func (l *ledger) DeleteBill(context.Context, string) error { return nil }

type harness struct {
	server *httptest.Server
	t      *testing.T
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	repo := identities{
		"owner@example.com": {
			Identity:     identity.Identity{ID: "owner-1", Email: "owner@example.com", Type: identity.BuilderOwner, Approved: true},
			PasswordHash: string(hash),
		},
		"crew@example.com": {
			Identity:     identity.Identity{ID: "crew-1", Email: "crew@example.com", Type: identity.Employee, Approved: true},
			PasswordHash: string(hash),
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &app.Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second}
	sessions := shared.NewSessionManager(rdb, "foreman_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	tokens := identity.NewTokenIssuer("token-secret", time.Hour)
	events := identity.NewEvents()
	notifier := notify.Multi{notify.SessionNotifier{}}
	cache := query.NewClient(query.Options{Notifier: notifier, Logger: logger})

	service := identity.NewService(repo)
	loader := app.CachedLoader{Source: identity.LoaderFunc(service.Get), Cache: cache}
	loader.Watch(events)
	registry := state.NewRegistry(logger)
	registry.Watch(events)
	resolver := capability.NewResolver(capability.RoleStoreFunc(func(context.Context, string) ([]string, error) {
		return []string{capability.AccountingView}, nil
	}), cache, logger)
	resolver.Watch(events)
	gate := guard.Gate{Resolver: resolver, Notifier: notifier, PendingWait: time.Second}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		CSRFManager:    csrf,
		Identity:       identity.Middleware{Loader: loader, Tokens: tokens, Overrides: registry, Logger: logger},

		AuthHandler:       identity.NewHandler(logger, service, sessions, csrf, tokens, events),
		CapabilityHandler: capability.NewHandler(resolver),
		StateHandler:      state.NewHandler(logger, registry, loader, notifier),
		AccountingHandler: accounting.NewHandler(logger, accounting.NewService(&ledger{closed: map[string]*time.Time{}}, cache), gate),
		PrefsHandler:      prefs.NewHandler(logger, prefs.NewStore(rdb, 0)),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &harness{server: srv, t: t}
}

type browser struct {
	h      *harness
	client *http.Client
	csrf   string
}

func (h *harness) browser() *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(h.t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &browser{h: h, client: client}
}

func (b *browser) do(method, path string, body any) *http.Response {
	b.h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.h.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, b.h.server.URL+path, reader)
	require.NoError(b.h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.csrf != "" {
		req.Header.Set(shared.CSRFHeader, b.csrf)
	}
	res, err := b.client.Do(req)
	require.NoError(b.h.t, err)
	b.h.t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(into))
}

func (b *browser) signIn(email string) {
	b.h.t.Helper()
	res := b.do(http.MethodGet, "/auth/csrf", nil)
	require.Equal(b.h.t, http.StatusOK, res.StatusCode)
	var token map[string]string
	decode(b.h.t, res, &token)
	b.csrf = token["csrf_token"]

	res = b.do(http.MethodPost, "/auth/signin", map[string]string{"email": email, "password": password})
	require.Equal(b.h.t, http.StatusOK, res.StatusCode)
	var me struct {
		CSRFToken string `json:"csrf_token"`
	}
	decode(b.h.t, res, &me)
	b.csrf = me.CSRFToken
}

func TestEmployeeWithoutBillsCapabilityIsRedirectedWithToast(t *testing.T) {
	h := newHarness(t)
	b := h.browser()
	b.signIn("crew@example.com")

	res := b.do(http.MethodGet, "/accounting/projects/p1/closed-books", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = b.do(http.MethodGet, "/bills/counts?project_id=p1", nil)
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, guard.HomePath, res.Header.Get("Location"))

	res = b.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var home struct {
		Toasts []shared.FlashMessage `json:"toasts"`
	}
	decode(t, res, &home)
	require.Len(t, home.Toasts, 1)
	assert.Equal(t, guard.DeniedTitle, home.Toasts[0].Title)
	assert.Equal(t, string(notify.Destructive), home.Toasts[0].Kind)

	res = b.do(http.MethodGet, "/", nil)
	decode(t, res, &home)
	assert.Empty(t, home.Toasts)
}

func TestOwnerReadsAndWritesAccounting(t *testing.T) {
	h := newHarness(t)
	b := h.browser()
	b.signIn("owner@example.com")

	res := b.do(http.MethodGet, "/bills/counts?project_id=p2&project_id=p1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var counts query.View[accounting.BillCounts]
	decode(t, res, &counts)
	assert.Equal(t, accounting.BillCounts{"p1": 2, "p2": 2}, counts.Data)

	res = b.do(http.MethodPut, "/accounting/projects/p1/closed-books", map[string]string{"date": "2024-03-31"})
	require.Less(t, res.StatusCode, 300)

	res = b.do(http.MethodGet, "/accounting/projects/p1/closed-books", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var closed query.View[accounting.ClosedBooks]
	decode(t, res, &closed)
	require.NotNil(t, closed.Data.Date)
	assert.Equal(t, "2024-03-31", closed.Data.Date.Format(accounting.DateLayout))
}

func TestUnsafeRequestWithoutCSRFTokenIsRejected(t *testing.T) {
	h := newHarness(t)
	b := h.browser()
	b.signIn("owner@example.com")
	b.csrf = ""

	res := b.do(http.MethodPut, "/prefs/table/bills/columns", []string{"vendor"})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestBearerTokenSkipsSessionAndCSRF(t *testing.T) {
	h := newHarness(t)
	api := h.browser()
	api.client.Jar = nil

	res := api.do(http.MethodPost, "/auth/token", map[string]string{"email": "crew@example.com", "password": password})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var tok struct {
		Token string `json:"token"`
	}
	decode(t, res, &tok)
	require.NotEmpty(t, tok.Token)

	put, err := http.NewRequest(http.MethodPut, h.server.URL+"/prefs/table/bills/columns", bytes.NewReader([]byte(`["vendor","amount"]`)))
	require.NoError(t, err)
	put.Header.Set("Authorization", "Bearer "+tok.Token)
	res, err = api.client.Do(put)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	get, err := http.NewRequest(http.MethodGet, h.server.URL+"/prefs/table/bills/columns", nil)
	require.NoError(t, err)
	get.Header.Set("Authorization", "Bearer "+tok.Token)
	res, err = api.client.Do(get)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var cols []string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&cols))
	assert.Equal(t, []string{"vendor", "amount"}, cols)
}

func TestCapabilitiesEndpointReflectsRole(t *testing.T) {
	h := newHarness(t)
	b := h.browser()
	b.signIn("crew@example.com")

	res := b.do(http.MethodGet, "/capabilities/accounting", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var st capability.State
	decode(t, res, &st)
	assert.False(t, st.Loading)
	assert.True(t, st.Capabilities[capability.AccountingView])
	assert.False(t, st.Capabilities[capability.AccountingCloseBooks])
}
