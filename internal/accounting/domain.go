// Package accounting exposes project bookkeeping to the builder: bills
// awaiting approval, the closed-books date of each project and whether a
// transaction date is locked.
package accounting

import (
	"errors"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// BillStatus enumerates the bill lifecycle.
type BillStatus string

const (
	BillPending  BillStatus = "pending"
	BillApproved BillStatus = "approved"
	BillPaid     BillStatus = "paid"
)

// Valid reports whether s is a known status.
func (s BillStatus) Valid() bool {
	switch s {
	case BillPending, BillApproved, BillPaid:
		return true
	}
	return false
}

// ErrInvalidStatus indicates an unknown bill status filter.
var ErrInvalidStatus = errors.New("accounting: invalid bill status")

// Bill is a vendor bill recorded against a project.
type Bill struct {
	ID          string     `json:"id" db:"id"`
	ProjectID   string     `json:"project_id" db:"project_id"`
	Vendor      string     `json:"vendor" db:"vendor"`
	AmountCents int64      `json:"amount_cents" db:"amount_cents"`
	Status      BillStatus `json:"status" db:"status"`
	DueDate     *time.Time `json:"due_date,omitempty" db:"due_date"`
	ApprovedBy  *string    `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// BillCounts maps project ids to their number of pending bills.
type BillCounts map[string]int

// ClosedBooks carries the date up to which a project's books are closed.
// A nil Date means the books are open.
type ClosedBooks struct {
	ProjectID string     `json:"project_id" db:"id"`
	Date      *time.Time `json:"date" db:"closed_books_date"`
}

// ClosedBooksInput changes the closed-books date of a project.
type ClosedBooksInput struct {
	ProjectID string
	Date      *time.Time
}

// LockQuery addresses the lock state of a transaction date.
type LockQuery struct {
	Date      string
	ProjectID string
	OwnerID   string
}

// Complete reports whether every part of the query is present.
func (q LockQuery) Complete() bool {
	return q.Date != "" && q.ProjectID != "" && q.OwnerID != ""
}
