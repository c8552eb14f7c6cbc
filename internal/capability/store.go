package capability

import (
	"context"

	"github.com/foreman-pm/foreman/internal/backend"
)

// RoleStore looks up the permission names granted to an identity through its
// role assignments.
type RoleStore interface {
	Permissions(ctx context.Context, identityID string) ([]string, error)
}

// BackendRoleStore reads role assignments through the backend client. The
// identity_permissions view joins identity_roles with role_permissions.
type BackendRoleStore struct {
	client *backend.Client
}

// NewRoleStore constructs a BackendRoleStore.
func NewRoleStore(client *backend.Client) *BackendRoleStore {
	return &BackendRoleStore{client: client}
}

type permissionRow struct {
	Permission string `db:"permission"`
}

// Permissions implements RoleStore.
func (s *BackendRoleStore) Permissions(ctx context.Context, identityID string) ([]string, error) {
	rows, err := backend.Rows[permissionRow](ctx, s.client, backend.Select{
		Table:   "identity_permissions",
		Columns: []string{"permission"},
		Filters: []backend.Filter{backend.Eq("identity_id", identityID)},
		Order:   []backend.Order{backend.Asc("permission")},
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Permission)
	}
	return names, nil
}

// RoleStoreFunc adapts a function to RoleStore.
type RoleStoreFunc func(ctx context.Context, identityID string) ([]string, error)

// Permissions implements RoleStore.
func (f RoleStoreFunc) Permissions(ctx context.Context, identityID string) ([]string, error) {
	return f(ctx, identityID)
}
