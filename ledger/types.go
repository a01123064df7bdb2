/*
types.go - Core entities of the ledger

PURPOSE:
  Accounts hold an opening balance and a stream of dated transactions.
  Exactly one account may be flagged as the billing account; its
  transactions are mirrored to Inkwell through the event logs.

MONEY:
  All amounts are shopspring/decimal values. They are stored as TEXT and
  summed in Go, never as floats. Derived tax amounts are rounded half away
  from zero to two fraction digits (Round2).

TIME:
  Timestamps are UTC. Calendar dates (transaction and invoice dates) are
  UTC midnights rendered with DateLayout.

SEE ALSO:
  - aggregation.go: Balances and cycle summaries
  - cycles.go: Cycle closing
  - events/: Payloads derived from these types
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// Currency of an account.
type Currency string

const (
	CurrencyARS Currency = "ARS"
	CurrencyUSD Currency = "USD"
)

// DefaultColor is used when an account is created without one.
const DefaultColor = "#000000"

// =============================================================================
// ENTITIES
// =============================================================================

// Account is a ledger account. OpeningBalance is rebased on every cycle close.
type Account struct {
	ID             int64
	Name           string
	OpeningBalance decimal.Decimal
	Currency       Currency
	Color          string
	IsActive       bool
	IsBilling      bool
	CreatedAt      time.Time
}

// Transaction is one dated movement of money on an account.
// ExportableMovementID and IsCustomInkwell are mutually exclusive.
type Transaction struct {
	ID                   int64
	AccountID            int64
	Date                 time.Time
	Description          string
	Amount               decimal.Decimal
	Notes                string
	ExportableMovementID *int64
	IsCustomInkwell      bool
	CreatedAt            time.Time
}

// IsInkwell reports whether the transaction is classified for export.
func (t Transaction) IsInkwell() bool {
	return t.ExportableMovementID != nil || t.IsCustomInkwell
}

// ExportableMovement is a classification tag for billing transactions.
type ExportableMovement struct {
	ID          int64
	Description string
	CreatedAt   time.Time
}

// InvoiceType distinguishes purchase from sale invoices.
type InvoiceType string

const (
	InvoicePurchase InvoiceType = "purchase"
	InvoiceSale     InvoiceType = "sale"
)

// Invoice carries the tax amounts computed at write time.
type Invoice struct {
	ID          int64
	AccountID   int64
	Date        time.Time
	Description string
	Number      string
	Amount      decimal.Decimal
	IVAPercent  decimal.Decimal
	IVAAmount   decimal.Decimal
	IIBBPercent decimal.Decimal
	IIBBAmount  decimal.Decimal
	Type        InvoiceType
	CreatedAt   time.Time
}

// AccountCycle is an immutable snapshot taken when a cycle is closed.
type AccountCycle struct {
	ID                       int64
	AccountID                int64
	ClosedAt                 time.Time
	OpeningBalanceSnapshot   decimal.Decimal
	IncomeSnapshot           decimal.Decimal
	ExpenseSnapshot          decimal.Decimal
	BalanceSnapshot          decimal.Decimal
	InkwellIncomeSnapshot    decimal.Decimal
	InkwellExpenseSnapshot   decimal.Decimal
	InkwellAvailableSnapshot decimal.Decimal
	IVAPurchasesSnapshot     decimal.Decimal
	IVASalesSnapshot         decimal.Decimal
	IIBBSnapshot             decimal.Decimal
	CreatedAt                time.Time
}

// =============================================================================
// HELPERS
// =============================================================================

// Round2 rounds half away from zero to two fraction digits.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatMoney renders an amount with exactly two fraction digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// CheckCents rejects amounts with more than two fraction digits.
func CheckCents(field string, d decimal.Decimal) error {
	if !d.Equal(Round2(d)) {
		return Invalid(field, "must have at most two decimal places")
	}
	return nil
}

// ParseMoney parses a decimal amount.
func ParseMoney(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, Invalid(field, "must be a decimal number")
	}
	return d, nil
}

// ParseDate parses a YYYY-MM-DD calendar date as a UTC midnight.
func ParseDate(field, s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, Invalid(field, "must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

// DateOf truncates a timestamp to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
