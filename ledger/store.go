/*
store.go - Persistence interface for the ledger and its event logs

PURPOSE:
  Defines the interface between the domain logic and the database.
  Reads are available both outside and inside a transaction; writes only
  inside one, so every mutation and the events it emits commit together.

KEY INTERFACES:
  Reader: Entity lookups, cycle-scoped listings, event log pages
  Tx:     Reader + writes, event appends, checkpoint moves, pruning
  Store:  Reader + WithTx

ATOMICITY:
  A mutating request runs exactly one WithTx. If fn returns an error the
  transaction is rolled back, including any events already appended.

CHECKPOINTS:
  GetCheckpoint creates the row lazily with LastID 0. AdvanceCheckpoint is a
  compare-and-swap: it fails with ErrConcurrentModification when the stored
  value is no longer the one the caller validated against.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite

SEE ALSO:
  - billing/feed.go: Sync protocol over Reader/Tx
  - billing/writer.go: Mutations with event emission
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/movimientos/events"
)

// TransactionFilter selects transactions of one account.
// Zero values leave a bound open.
type TransactionFilter struct {
	AccountID int64

	// CreatedSince keeps rows with created_at >= CreatedSince (cycle window).
	CreatedSince time.Time
	// CreatedBefore keeps rows with created_at < CreatedBefore.
	CreatedBefore time.Time

	// From and To bound the calendar date, both inclusive.
	From *time.Time
	To   *time.Time
}

// =============================================================================
// READER
// =============================================================================

type Reader interface {
	GetAccount(ctx context.Context, id int64) (*Account, error)
	// GetBillingAccount returns ErrBillingAccountNotConfigured when no account is flagged.
	GetBillingAccount(ctx context.Context) (*Account, error)
	ListAccounts(ctx context.Context, includeInactive bool) ([]Account, error)
	AccountNameTaken(ctx context.Context, name string, exceptID int64) (bool, error)

	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	ListTransactions(ctx context.Context, limit, offset int) ([]Transaction, error)
	// QueryTransactions returns matches ordered by date, then id.
	QueryTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)

	GetMovement(ctx context.Context, id int64) (*ExportableMovement, error)
	ListMovements(ctx context.Context) ([]ExportableMovement, error)

	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, accountID *int64) ([]Invoice, error)
	// InvoicesCreatedIn returns invoices of an account with created_at in
	// [since, before). A zero before leaves the range open.
	InvoicesCreatedIn(ctx context.Context, accountID int64, since, before time.Time) ([]Invoice, error)

	// LastCycle returns the most recently closed cycle, or nil if none.
	LastCycle(ctx context.Context, accountID int64) (*AccountCycle, error)
	// CycleClosedIn returns a cycle with closed_at in [from, to), or nil.
	CycleClosedIn(ctx context.Context, accountID int64, from, to time.Time) (*AccountCycle, error)
	// ListCycles returns cycles ordered by closed_at desc, then id desc.
	ListCycles(ctx context.Context, accountID int64) ([]AccountCycle, error)

	// TransactionEventsAfter returns up to limit events of an account with id > afterID, ascending.
	TransactionEventsAfter(ctx context.Context, accountID, afterID int64, limit int) ([]events.TransactionEvent, error)
	MaxTransactionEventID(ctx context.Context, accountID int64) (int64, error)
	// ChangesAfter returns up to limit changes with id > afterID, ascending.
	ChangesAfter(ctx context.Context, afterID int64, limit int) ([]events.Change, error)
	MaxChangeID(ctx context.Context) (int64, error)

	GetCheckpoint(ctx context.Context, log events.LogName) (events.Checkpoint, error)
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Tx interface {
	Reader

	// CreateAccount assigns the new id to a.ID.
	CreateAccount(ctx context.Context, a *Account) error
	UpdateAccount(ctx context.Context, a Account) error
	SetOpeningBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	// ClearBillingFlag removes the billing flag from any account but exceptID.
	ClearBillingFlag(ctx context.Context, exceptID int64) error

	CreateTransaction(ctx context.Context, t *Transaction) error
	UpdateTransaction(ctx context.Context, t Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error

	CreateMovement(ctx context.Context, m *ExportableMovement) error
	UpdateMovement(ctx context.Context, m ExportableMovement) error
	DeleteMovement(ctx context.Context, id int64) error

	CreateInvoice(ctx context.Context, inv *Invoice) error
	UpdateInvoice(ctx context.Context, inv Invoice) error
	DeleteInvoice(ctx context.Context, id int64) error

	CreateCycle(ctx context.Context, c *AccountCycle) error

	// AppendTransactionEvent assigns the new, strictly increasing id to e.ID.
	AppendTransactionEvent(ctx context.Context, e *events.TransactionEvent) error
	// AppendChange assigns the new, strictly increasing id to c.ID.
	AppendChange(ctx context.Context, c *events.Change) error

	AdvanceCheckpoint(ctx context.Context, log events.LogName, from, to int64, at time.Time) error
	// PruneChanges deletes changes with id <= upTo and reports how many went.
	PruneChanges(ctx context.Context, upTo int64) (int64, error)
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
