package identity_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/shared"
	_ "github.com/foreman-pm/foreman/testing"
)

type stubRepo struct {
	creds map[string]identity.Credentials
	err   error
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (identity.Credentials, error) {
	if s.err != nil {
		return identity.Credentials{}, s.err
	}
	c, ok := s.creds[email]
	if !ok {
		return identity.Credentials{}, shared.ErrNotFound
	}
	return c, nil
}

func (s *stubRepo) Get(ctx context.Context, id string) (identity.Identity, error) {
	for _, c := range s.creds {
		if c.ID == id {
			return c.Identity, nil
		}
	}
	return identity.Identity{}, shared.ErrNotFound
}

func newRepo(t *testing.T) *stubRepo {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	return &stubRepo{creds: map[string]identity.Credentials{
		"owner@example.com": {
			Identity:     identity.Identity{ID: "u-1", Email: "owner@example.com", Type: identity.BuilderOwner, Approved: true},
			PasswordHash: string(hash),
		},
	}}
}

func TestAuthenticate(t *testing.T) {
	svc := identity.NewService(newRepo(t))
	ctx := context.Background()

	ident, err := svc.Authenticate(ctx, "owner@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "u-1", ident.ID)

	_, err = svc.Authenticate(ctx, "owner@example.com", "wrong-password")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	outage := errors.New("connection refused")
	_, err = identity.NewService(&stubRepo{err: outage}).Authenticate(ctx, "owner@example.com", "x")
	assert.ErrorIs(t, err, outage)
}

func TestEventsDeliverInOrder(t *testing.T) {
	events := identity.NewEvents()
	var got []string
	events.Subscribe(func(_ context.Context, ev identity.Event) { got = append(got, "a:"+string(ev.Kind)) })
	events.Subscribe(func(_ context.Context, ev identity.Event) { got = append(got, "b:"+ev.IdentityID) })
	events.Publish(context.Background(), identity.Event{Kind: identity.SignedOut, IdentityID: "u-1"})
	assert.Equal(t, []string{"a:signed_out", "b:u-1"}, got)
}

type impersonating struct {
	target identity.Identity
}

func (i impersonating) Effective(ctx context.Context, authenticated identity.Identity) (identity.Identity, bool) {
	return i.target, true
}

func TestMiddlewareBearerToken(t *testing.T) {
	tokens := identity.NewTokenIssuer("secret", time.Hour)
	token, _, err := tokens.Issue(identity.Identity{ID: "u-9", Type: identity.Employee})
	require.NoError(t, err)

	var seen *identity.Identity
	h := identity.Middleware{Tokens: tokens}.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = identity.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, "u-9", seen.ID)

	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, seen)
}

func TestMiddlewareSessionWithImpersonation(t *testing.T) {
	repo := newRepo(t)
	target := identity.Identity{ID: "u-2", Type: identity.Employee, Approved: true}
	mw := identity.Middleware{
		Loader:    identity.LoaderFunc(identity.NewService(repo).Get),
		Overrides: impersonating{target: target},
	}

	sm := shared.NewSessionManager(nil, "s", time.Hour, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	sess.SetUser("u-1")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	var effective, original *identity.Identity
	mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		effective = identity.FromContext(r.Context())
		original = identity.OriginalFromContext(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, effective)
	require.NotNil(t, original)
	assert.Equal(t, "u-2", effective.ID)
	assert.Equal(t, "u-1", original.ID)
}

func TestRequire(t *testing.T) {
	_, err := identity.Require(context.Background())
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)

	ctx := identity.ContextWithIdentity(context.Background(), identity.Identity{ID: "u-1"})
	ident, err := identity.Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-1", ident.ID)
	assert.Equal(t, "u-1", identity.IDFromContext(ctx))
}

func TestSignInPublishesEventAndBindsSession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sm := shared.NewSessionManager(client, "s", time.Hour, false)
	events := identity.NewEvents()
	var published []identity.Event
	events.Subscribe(func(_ context.Context, ev identity.Event) { published = append(published, ev) })

	router := newRouter(identity.NewHandler(nil, identity.NewService(newRepo(t)), sm, shared.NewCSRFManager("x"), identity.NewTokenIssuer("secret", time.Hour), events))

	body, _ := json.Marshal(map[string]string{"email": "owner@example.com", "password": "correct-horse"})
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", bytes.NewReader(body))
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, "u-1", sess.User())
	require.Len(t, published, 1)
	assert.Equal(t, identity.SignedIn, published[0].Kind)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["csrf_token"])
}

func TestSignInValidation(t *testing.T) {
	router := newRouter(identity.NewHandler(nil, identity.NewService(newRepo(t)), nil, shared.NewCSRFManager("x"), nil, identity.NewEvents()))
	body, _ := json.Marshal(map[string]string{"email": "not-an-email", "password": "short"})
	req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), `"Email":"email"`)
	assert.Contains(t, res.Body.String(), `"Password":"min"`)
}
