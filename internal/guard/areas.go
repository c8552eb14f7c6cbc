package guard

import (
	"github.com/foreman-pm/foreman/internal/capability"
	"github.com/foreman-pm/foreman/internal/notify"
)

var (
	AccountingAccess   = Requirement{Area: capability.Accounting, Capability: capability.AccountingView, Feature: "Accounting"}
	BillsAccess        = Requirement{Area: capability.Bills, Capability: capability.BillsView, Feature: "Bills"}
	MarketplaceAccess  = Requirement{Area: capability.Marketplace, Capability: capability.MarketplaceView, Feature: "the Marketplace"}
	ReportsAccess      = Requirement{Area: capability.Reports, Capability: capability.ReportsView, Feature: "Reports"}
	TransactionsAccess = Requirement{Area: capability.Transactions, Capability: capability.TransactionsView, Feature: "Transactions"}
)

// AccountingGuard gates the accounting area.
func AccountingGuard(n notify.Notifier, nav Navigator) *Guard { return New(AccountingAccess, n, nav) }

// BillsGuard gates the bills area.
func BillsGuard(n notify.Notifier, nav Navigator) *Guard { return New(BillsAccess, n, nav) }

// MarketplaceGuard gates the marketplace area.
func MarketplaceGuard(n notify.Notifier, nav Navigator) *Guard { return New(MarketplaceAccess, n, nav) }

// ReportsGuard gates the reports area.
func ReportsGuard(n notify.Notifier, nav Navigator) *Guard { return New(ReportsAccess, n, nav) }

// TransactionsGuard gates the transactions area.
func TransactionsGuard(n notify.Notifier, nav Navigator) *Guard {
	return New(TransactionsAccess, n, nav)
}
