package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/foreman-pm/foreman/internal/backend"
	"github.com/foreman-pm/foreman/internal/shared"
)

// Credentials pairs an identity with its password hash.
type Credentials struct {
	Identity
	PasswordHash string `db:"password_hash"`
}

// Repository defines persistence operations for identities.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (Credentials, error)
	Get(ctx context.Context, id string) (Identity, error)
}

// BackendRepository reads identities through the backend client.
type BackendRepository struct {
	client *backend.Client
}

// NewRepository constructs a backend repository.
func NewRepository(client *backend.Client) *BackendRepository {
	return &BackendRepository{client: client}
}

var identityColumns = []string{"id", "email", "type", "approved"}

// FindByEmail fetches credentials by normalised email.
func (r *BackendRepository) FindByEmail(ctx context.Context, email string) (Credentials, error) {
	creds, err := backend.One[Credentials](ctx, r.client, backend.Select{
		Table:   "identities",
		Columns: append(append([]string{}, identityColumns...), "password_hash"),
		Filters: []backend.Filter{backend.Eq("email", strings.ToLower(strings.TrimSpace(email)))},
	})
	if errors.Is(err, backend.ErrNotFound) {
		return Credentials{}, shared.ErrNotFound
	}
	return creds, err
}

// Get fetches an identity by id.
func (r *BackendRepository) Get(ctx context.Context, id string) (Identity, error) {
	ident, err := backend.One[Identity](ctx, r.client, backend.Select{
		Table:   "identities",
		Columns: identityColumns,
		Filters: []backend.Filter{backend.Eq("id", id)},
	})
	if errors.Is(err, backend.ErrNotFound) {
		return Identity{}, shared.ErrNotFound
	}
	return ident, err
}

var _ Repository = (*BackendRepository)(nil)
