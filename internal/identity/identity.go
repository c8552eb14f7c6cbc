// Package identity is the authentication provider: who the current actor is,
// how they sign in, and the change events other components react to.
package identity

import (
	"context"
	"errors"
)

// ErrUnauthenticated indicates an operation that needs a signed-in identity
// was attempted without one.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Type is the account kind of an identity.
type Type string

const (
	BuilderOwner Type = "builder_owner"
	Employee     Type = "employee"
	Admin        Type = "admin"
)

// Identity is the authenticated actor.
type Identity struct {
	ID       string `json:"id" db:"id"`
	Email    string `json:"email" db:"email"`
	Type     Type   `json:"type" db:"type"`
	Approved bool   `json:"approved" db:"approved"`
}

// IsOwner reports whether the identity owns the builder account.
func (i Identity) IsOwner() bool {
	return i.Type == BuilderOwner
}

// CanImpersonate reports whether the identity may act as another identity.
func (i Identity) CanImpersonate() bool {
	return i.Type == Admin && i.Approved
}

type (
	identityKey struct{}
	originalKey struct{}
)

// ContextWithIdentity stores the effective identity in ctx.
func ContextWithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// ContextWithOriginal stores the authenticated identity while another one is
// being impersonated.
func ContextWithOriginal(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, originalKey{}, ident)
}

// FromContext returns the effective identity, or nil when nobody is signed in.
func FromContext(ctx context.Context) *Identity {
	ident, ok := ctx.Value(identityKey{}).(Identity)
	if !ok {
		return nil
	}
	return &ident
}

// OriginalFromContext returns the authenticated identity. It differs from
// FromContext only while impersonating.
func OriginalFromContext(ctx context.Context) *Identity {
	if ident, ok := ctx.Value(originalKey{}).(Identity); ok {
		return &ident
	}
	return FromContext(ctx)
}

// Require returns the effective identity or ErrUnauthenticated.
func Require(ctx context.Context) (Identity, error) {
	ident := FromContext(ctx)
	if ident == nil {
		return Identity{}, ErrUnauthenticated
	}
	return *ident, nil
}

// IDFromContext returns the effective identity id, or "".
func IDFromContext(ctx context.Context) string {
	if ident := FromContext(ctx); ident != nil {
		return ident.ID
	}
	return ""
}
