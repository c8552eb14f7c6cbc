package capability

// Area is a feature area gated by capabilities.
type Area string

const (
	Accounting   Area = "accounting"
	Bills        Area = "bills"
	Marketplace  Area = "marketplace"
	Reports      Area = "reports"
	Transactions Area = "transactions"
)

// Accounting capabilities.
const (
	AccountingView       = "accounting.view"
	AccountingEdit       = "accounting.edit"
	AccountingCloseBooks = "accounting.close_books"
)

// Bill capabilities.
const (
	BillsView    = "bills.view"
	BillsCreate  = "bills.create"
	BillsApprove = "bills.approve"
)

// Marketplace capabilities.
const (
	MarketplaceView    = "marketplace.view"
	MarketplacePublish = "marketplace.publish"
)

// Report capabilities.
const (
	ReportsView   = "reports.view"
	ReportsExport = "reports.export"
)

// Transaction capabilities.
const (
	TransactionsView = "transactions.view"
	TransactionsEdit = "transactions.edit"
	TransactionsLock = "transactions.lock"
)

// Areas lists every feature area.
func Areas() []Area {
	return []Area{Accounting, Bills, Marketplace, Reports, Transactions}
}

// Scopes lists the capabilities declared by area.
func Scopes(area Area) []string {
	switch area {
	case Accounting:
		return []string{AccountingView, AccountingEdit, AccountingCloseBooks}
	case Bills:
		return []string{BillsView, BillsCreate, BillsApprove}
	case Marketplace:
		return []string{MarketplaceView, MarketplacePublish}
	case Reports:
		return []string{ReportsView, ReportsExport}
	case Transactions:
		return []string{TransactionsView, TransactionsEdit, TransactionsLock}
	default:
		return nil
	}
}

// ViewScope returns the capability required to enter area at all.
func ViewScope(area Area) string {
	return string(area) + ".view"
}
