package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("TOKEN_SECRET", "t")
	t.Setenv("QUERY_SHARED_CACHE", "true")
	t.Setenv("ALLOWED_ORIGINS", "app.foreman.local,*.foreman.dev")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 30*time.Second, cfg.QueryFetchTimeout)
	assert.Equal(t, 2*time.Second, cfg.GuardPendingWait)
	assert.Equal(t, time.Minute, cfg.AccessStaleTime)
	assert.Equal(t, 5*time.Minute, cfg.QueryGCTime)
	assert.Equal(t, 30*time.Minute, cfg.StateIdleTime)
	assert.Equal(t, "0 7 * * *", cfg.DigestCron)
	assert.True(t, cfg.QuerySharedCache)
	assert.Equal(t, []string{"app.foreman.local", "*.foreman.dev"}, cfg.AllowedOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("TOKEN_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestCSRFExemptions(t *testing.T) {
	req := httptestRequest("Bearer abc", "")
	assert.True(t, csrfExempt(req, "foreman_session"))

	req = httptestRequest("", "")
	assert.True(t, csrfExempt(req, "foreman_session"))

	req = httptestRequest("", "foreman_session=id")
	assert.False(t, csrfExempt(req, "foreman_session"))
}

func httptestRequest(authorization, cookie string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/prefs/a/b/c", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	return req
}
