package accounting

import (
	"context"
	"time"

	"github.com/foreman-pm/foreman/internal/backend"
)

// Repository is the backend surface used by the accounting service.
type Repository interface {
	BillCounts(ctx context.Context, projectIDs []string) (BillCounts, error)
	IsTransactionLocked(ctx context.Context, q LockQuery) (bool, error)
	ClosedBooks(ctx context.Context, projectID string) (ClosedBooks, error)
	Bills(ctx context.Context, projectID string, status BillStatus) ([]Bill, error)
	SetClosedBooksDate(ctx context.Context, in ClosedBooksInput) error
	ApproveBill(ctx context.Context, billID, approverID string, at time.Time) (Bill, error)
	DeleteBill(ctx context.Context, billID string) error
}

// BackendRepository implements Repository with the backend client.
type BackendRepository struct {
	client *backend.Client
}

// NewRepository constructs a BackendRepository.
func NewRepository(client *backend.Client) *BackendRepository {
	return &BackendRepository{client: client}
}

var billColumns = []string{"id", "project_id", "vendor", "amount_cents", "status", "due_date", "approved_by", "approved_at", "created_at"}

type billCountRow struct {
	ProjectID string `db:"project_id"`
	Count     int    `db:"count"`
}

// BillCounts calls get_bill_counts for the given projects.
func (r *BackendRepository) BillCounts(ctx context.Context, projectIDs []string) (BillCounts, error) {
	rows, err := backend.Rows[billCountRow](ctx, r.client, backend.Call{
		Function: "get_bill_counts",
		Args:     []backend.Arg{{Name: "p_project_ids", Value: projectIDs}},
	})
	if err != nil {
		return nil, err
	}
	counts := make(BillCounts, len(rows))
	for _, row := range rows {
		counts[row.ProjectID] = row.Count
	}
	return counts, nil
}

// IsTransactionLocked calls is_transaction_locked.
func (r *BackendRepository) IsTransactionLocked(ctx context.Context, q LockQuery) (bool, error) {
	return backend.Scalar[bool](ctx, r.client, backend.Call{
		Function: "is_transaction_locked",
		Args: []backend.Arg{
			{Name: "p_date", Value: q.Date},
			{Name: "p_project_id", Value: q.ProjectID},
			{Name: "p_owner_id", Value: q.OwnerID},
		},
	})
}

// ClosedBooks reads the closed-books date of a project.
func (r *BackendRepository) ClosedBooks(ctx context.Context, projectID string) (ClosedBooks, error) {
	return backend.One[ClosedBooks](ctx, r.client, backend.Select{
		Table:   "projects",
		Columns: []string{"id", "closed_books_date"},
		Filters: []backend.Filter{backend.Eq("id", projectID)},
	})
}

// Bills lists the bills of a project, optionally filtered by status.
func (r *BackendRepository) Bills(ctx context.Context, projectID string, status BillStatus) ([]Bill, error) {
	filters := []backend.Filter{backend.Eq("project_id", projectID)}
	if status != "" {
		filters = append(filters, backend.Eq("status", string(status)))
	}
	return backend.Rows[Bill](ctx, r.client, backend.Select{
		Table:   "bills",
		Columns: billColumns,
		Filters: filters,
		Order:   []backend.Order{backend.Desc("created_at")},
	})
}

// SetClosedBooksDate calls set_project_closed_books_date so the backend
// validates the change.
func (r *BackendRepository) SetClosedBooksDate(ctx context.Context, in ClosedBooksInput) error {
	var date any
	if in.Date != nil {
		date = in.Date.Format(DateLayout)
	}
	_, err := r.client.Exec(ctx, backend.Call{
		Function: "set_project_closed_books_date",
		Args: []backend.Arg{
			{Name: "p_project_id", Value: in.ProjectID},
			{Name: "p_date", Value: date},
		},
	})
	return err
}

// ApproveBill marks a bill approved.
func (r *BackendRepository) ApproveBill(ctx context.Context, billID, approverID string, at time.Time) (Bill, error) {
	return backend.One[Bill](ctx, r.client, backend.Update{
		Table: "bills",
		ID:    billID,
		Set: map[string]any{
			"status":      string(BillApproved),
			"approved_by": approverID,
			"approved_at": at,
		},
		Returning: billColumns,
	})
}

// DeleteBill removes a bill.
func (r *BackendRepository) DeleteBill(ctx context.Context, billID string) error {
	n, err := r.client.Exec(ctx, backend.Delete{Table: "bills", ID: billID})
	if err != nil {
		return err
	}
	if n == 0 {
		return backend.ErrNotFound
	}
	return nil
}
