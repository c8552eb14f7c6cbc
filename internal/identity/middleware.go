package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/foreman-pm/foreman/internal/shared"
)

// Loader resolves an identity id stored in a session.
type Loader interface {
	Identity(ctx context.Context, id string) (Identity, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, id string) (Identity, error)

// Identity implements Loader.
func (f LoaderFunc) Identity(ctx context.Context, id string) (Identity, error) { return f(ctx, id) }

// Overrides substitutes the effective identity for an authenticated one, as
// impersonation does.
type Overrides interface {
	Effective(ctx context.Context, authenticated Identity) (Identity, bool)
}

// Middleware attaches the current identity to the request context. A bearer
// token takes precedence over the session. It never rejects a request; the
// capability guard and mutations decide what anonymous callers may do.
type Middleware struct {
	Loader    Loader
	Tokens    *TokenIssuer
	Overrides Overrides
	Logger    *slog.Logger
}

// Handler wraps next.
func (m Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := m.authenticate(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		if m.Overrides != nil {
			if effective, active := m.Overrides.Effective(ctx, ident); active {
				ctx = ContextWithOriginal(ctx, ident)
				ident = effective
			}
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, ident)))
	})
}

func (m Middleware) authenticate(r *http.Request) (Identity, bool) {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		if m.Tokens == nil {
			return Identity{}, false
		}
		ident, err := m.Tokens.Parse(token)
		if err != nil {
			m.logger().Debug("identity bearer token rejected", slog.String("path", r.URL.Path))
			return Identity{}, false
		}
		return ident, true
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" || m.Loader == nil {
		return Identity{}, false
	}
	ident, err := m.Loader.Identity(r.Context(), sess.User())
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			m.logger().Error("identity load", slog.String("identity_id", sess.User()), slog.Any("error", err))
		}
		return Identity{}, false
	}
	return ident, true
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
