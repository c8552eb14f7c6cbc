package accounting

import (
	"context"
	"slices"
	"time"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/notify"
	"github.com/foreman-pm/foreman/internal/query"
)

// Resource kinds cached by the service.
const (
	KindBillCounts        = "bill-counts"
	KindTransactionLocked = "transaction-locked"
	KindClosedBooks       = "project-closed-books"
	KindBills             = "bills"
)

// Service binds accounting reads and writes to the query cache.
type Service struct {
	repo  Repository
	cache *query.Client
	now   func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, cache *query.Client) *Service {
	return &Service{repo: repo, cache: cache, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BillCountsKey returns the cache key of the counts of projectIDs.
func BillCountsKey(projectIDs []string) query.Key {
	ids := normalizeIDs(projectIDs)
	params := make([]any, len(ids))
	for i, id := range ids {
		params[i] = id
	}
	return query.K(KindBillCounts, params...)
}

// BillCounts returns pending bill counts per project. Without projects the
// query is disabled and yields an empty map.
func (s *Service) BillCounts(ctx context.Context, projectIDs []string) query.Result[BillCounts] {
	ids := normalizeIDs(projectIDs)
	return query.Get(ctx, s.cache, query.Query[BillCounts]{
		Key:         BillCountsKey(ids),
		Enabled:     len(ids) > 0,
		Placeholder: BillCounts{},
		Fetch: func(ctx context.Context) (BillCounts, error) {
			return s.repo.BillCounts(ctx, ids)
		},
	})
}

// TransactionLocked reports whether q.Date falls inside a locked period of
// the project. Incomplete queries are disabled.
func (s *Service) TransactionLocked(ctx context.Context, q LockQuery) query.Result[bool] {
	return query.Get(ctx, s.cache, query.Query[bool]{
		Key:     query.K(KindTransactionLocked, q.Date, q.ProjectID, q.OwnerID),
		Enabled: q.Complete(),
		Fetch: func(ctx context.Context) (bool, error) {
			return s.repo.IsTransactionLocked(ctx, q)
		},
	})
}

// ClosedBooksDate returns the closed-books date of a project.
func (s *Service) ClosedBooksDate(ctx context.Context, projectID string) query.Result[ClosedBooks] {
	return query.Get(ctx, s.cache, query.Query[ClosedBooks]{
		Key:         query.K(KindClosedBooks, projectID),
		Enabled:     projectID != "",
		Placeholder: ClosedBooks{ProjectID: projectID},
		Fetch: func(ctx context.Context) (ClosedBooks, error) {
			return s.repo.ClosedBooks(ctx, projectID)
		},
	})
}

// Bills lists the bills of a project.
func (s *Service) Bills(ctx context.Context, projectID string, status BillStatus) query.Result[[]Bill] {
	return query.Get(ctx, s.cache, query.Query[[]Bill]{
		Key:         query.K(KindBills, projectID, string(status)),
		Enabled:     projectID != "",
		Placeholder: []Bill{},
		Fetch: func(ctx context.Context) ([]Bill, error) {
			return s.repo.Bills(ctx, projectID, status)
		},
	})
}

// UpdateClosedBooksDate changes the closed-books date of a project. Cached
// closed-books dates and transaction locks are refreshed afterwards.
func (s *Service) UpdateClosedBooksDate(ctx context.Context, in ClosedBooksInput) error {
	_, err := query.Run(ctx, s.cache, query.Mutation[ClosedBooksInput, struct{}]{
		Name: "update-closed-books-date",
		Do: func(ctx context.Context, in ClosedBooksInput) (struct{}, error) {
			return struct{}{}, s.repo.SetClosedBooksDate(ctx, in)
		},
		Invalidates:  []query.Key{query.K(KindClosedBooks), query.K(KindTransactionLocked)},
		FailureTitle: "Could not update closed books date",
		Success: func(in ClosedBooksInput, _ struct{}) *notify.Toast {
			desc := "Books are now open."
			if in.Date != nil {
				desc = "Books are closed through " + in.Date.Format("Jan 2, 2006") + "."
			}
			return &notify.Toast{Title: "Closed books date updated", Description: desc}
		},
	}, in)
	return err
}

// ApproveBill approves a bill on behalf of the current identity.
func (s *Service) ApproveBill(ctx context.Context, billID string) (Bill, error) {
	return query.Run(ctx, s.cache, query.Mutation[string, Bill]{
		Name: "approve-bill",
		Do: func(ctx context.Context, billID string) (Bill, error) {
			return s.repo.ApproveBill(ctx, billID, identity.IDFromContext(ctx), s.now().UTC())
		},
		Invalidates:  []query.Key{query.K(KindBills), query.K(KindBillCounts)},
		FailureTitle: "Could not approve bill",
		Success: func(_ string, bill Bill) *notify.Toast {
			return &notify.Toast{Title: "Bill approved", Description: "The bill from " + bill.Vendor + " was approved."}
		},
	}, billID)
}

// DeleteBill deletes a bill.
func (s *Service) DeleteBill(ctx context.Context, billID string) error {
	_, err := query.Run(ctx, s.cache, query.Mutation[string, struct{}]{
		Name: "delete-bill",
		Do: func(ctx context.Context, billID string) (struct{}, error) {
			return struct{}{}, s.repo.DeleteBill(ctx, billID)
		},
		Invalidates:  []query.Key{query.K(KindBills), query.K(KindBillCounts)},
		FailureTitle: "Could not delete bill",
		Success: func(string, struct{}) *notify.Toast {
			return &notify.Toast{Title: "Bill deleted"}
		},
	}, billID)
	return err
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
