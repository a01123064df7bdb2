/*
aggregation.go - Balances and cycle-scoped summaries

PURPOSE:
  Computes point-in-time balances and "current cycle" figures from raw
  transactions and invoices. Nothing here is cached; every call reads the
  rows and sums decimals in Go.

TWO NOTIONS OF TIME:
  Balance queries filter on the transaction DATE (what day the money moved).
  Cycle scoping filters on CREATED_AT (when the row was recorded) against
  the last cycle's closed_at. A transaction back-dated into an old month but
  recorded after the last close belongs to the current cycle.

SUMMARY FORMULA:
  income   = sum of positive amounts in the window
  expense  = sum of |negative amounts| in the window
  balance  = opening_balance + income - expense

  Billing account only:
  iva_purchases, iva_sales, iibb  from invoices created in the window
  inkwell_income/expense          from transactions tied to a movement
  inkwell_available               = inkwell_income - inkwell_expense

SEE ALSO:
  - cycles.go: Persists a Summary as an AccountCycle
  - store.go: TransactionFilter
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Epoch is the window start of an account that never closed a cycle.
var Epoch = time.Unix(0, 0).UTC()

// Summary holds the figures of the current cycle of one account.
type Summary struct {
	AccountID      int64
	IsBilling      bool
	WindowStart    time.Time
	LastCycle      *AccountCycle
	OpeningBalance decimal.Decimal
	Income         decimal.Decimal
	Expense        decimal.Decimal
	Balance        decimal.Decimal

	IVAPurchases     decimal.Decimal
	IVASales         decimal.Decimal
	IIBB             decimal.Decimal
	InkwellIncome    decimal.Decimal
	InkwellExpense   decimal.Decimal
	InkwellAvailable decimal.Decimal
}

// AccountBalance is one row of the all-accounts balance report.
type AccountBalance struct {
	Account Account
	Balance decimal.Decimal
}

// RunningTransaction pairs a transaction with the balance right after it.
type RunningTransaction struct {
	Transaction
	RunningBalance decimal.Decimal
}

// =============================================================================
// BALANCES (unscoped by cycle)
// =============================================================================

// Balance returns opening_balance plus every amount dated on or before asOf.
// A nil asOf includes all transactions.
func Balance(ctx context.Context, r Reader, accountID int64, asOf *time.Time) (decimal.Decimal, error) {
	acc, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	txs, err := r.QueryTransactions(ctx, TransactionFilter{AccountID: accountID, To: asOf})
	if err != nil {
		return decimal.Zero, err
	}
	return acc.OpeningBalance.Add(sumAmounts(txs)), nil
}

// Balances reports every active account, ordered by name. The billing
// account is shown net of taxes: balance - iva_sales - iibb + iva_purchases.
func Balances(ctx context.Context, r Reader, asOf *time.Time) ([]AccountBalance, error) {
	accounts, err := r.ListAccounts(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make([]AccountBalance, 0, len(accounts))
	for _, acc := range accounts {
		txs, err := r.QueryTransactions(ctx, TransactionFilter{AccountID: acc.ID, To: asOf})
		if err != nil {
			return nil, err
		}
		balance := acc.OpeningBalance.Add(sumAmounts(txs))

		if acc.IsBilling {
			accountID := acc.ID
			invoices, err := r.ListInvoices(ctx, &accountID)
			if err != nil {
				return nil, err
			}
			taxes := sumTaxes(invoices)
			balance = balance.Sub(taxes.ivaSales).Sub(taxes.iibb).Add(taxes.ivaPurchases)
		}
		out = append(out, AccountBalance{Account: acc, Balance: balance})
	}
	return out, nil
}

// =============================================================================
// CYCLE-SCOPED AGGREGATION
// =============================================================================

// CycleWindow returns the start of the current cycle and the cycle that
// opened it (nil if the account never closed one).
func CycleWindow(ctx context.Context, r Reader, accountID int64) (time.Time, *AccountCycle, error) {
	last, err := r.LastCycle(ctx, accountID)
	if err != nil {
		return time.Time{}, nil, err
	}
	if last == nil {
		return Epoch, nil, nil
	}
	return last.ClosedAt, last, nil
}

// Summarize computes the current-cycle summary of an account.
func Summarize(ctx context.Context, r Reader, accountID int64) (Summary, error) {
	return summarize(ctx, r, accountID, time.Time{})
}

// summarize counts rows created in [window start, until). A zero until
// leaves the window open.
func summarize(ctx context.Context, r Reader, accountID int64, until time.Time) (Summary, error) {
	acc, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}
	start, last, err := CycleWindow(ctx, r, accountID)
	if err != nil {
		return Summary{}, err
	}
	txs, err := r.QueryTransactions(ctx, TransactionFilter{
		AccountID:     accountID,
		CreatedSince:  start,
		CreatedBefore: until,
	})
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		AccountID:        acc.ID,
		IsBilling:        acc.IsBilling,
		WindowStart:      start,
		LastCycle:        last,
		OpeningBalance:   acc.OpeningBalance,
		Income:           decimal.Zero,
		Expense:          decimal.Zero,
		IVAPurchases:     decimal.Zero,
		IVASales:         decimal.Zero,
		IIBB:             decimal.Zero,
		InkwellIncome:    decimal.Zero,
		InkwellExpense:   decimal.Zero,
		InkwellAvailable: decimal.Zero,
	}
	for _, t := range txs {
		income, expense := split(t.Amount)
		s.Income = s.Income.Add(income)
		s.Expense = s.Expense.Add(expense)
		if acc.IsBilling && t.ExportableMovementID != nil {
			s.InkwellIncome = s.InkwellIncome.Add(income)
			s.InkwellExpense = s.InkwellExpense.Add(expense)
		}
	}
	s.Balance = s.OpeningBalance.Add(s.Income).Sub(s.Expense)

	if acc.IsBilling {
		invoices, err := r.InvoicesCreatedIn(ctx, accountID, start, until)
		if err != nil {
			return Summary{}, err
		}
		taxes := sumTaxes(invoices)
		s.IVAPurchases = taxes.ivaPurchases
		s.IVASales = taxes.ivaSales
		s.IIBB = taxes.iibb
		s.InkwellAvailable = s.InkwellIncome.Sub(s.InkwellExpense)
	}
	return s, nil
}

// CycleTransactions lists the current-cycle transactions of an account,
// optionally bounded by date, with a running balance starting from the
// opening balance.
func CycleTransactions(ctx context.Context, r Reader, accountID int64, from, to *time.Time) ([]RunningTransaction, error) {
	acc, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	start, _, err := CycleWindow(ctx, r, accountID)
	if err != nil {
		return nil, err
	}
	txs, err := r.QueryTransactions(ctx, TransactionFilter{
		AccountID:    accountID,
		CreatedSince: start,
		From:         from,
		To:           to,
	})
	if err != nil {
		return nil, err
	}

	running := acc.OpeningBalance
	out := make([]RunningTransaction, len(txs))
	for i, t := range txs {
		running = running.Add(t.Amount)
		out[i] = RunningTransaction{Transaction: t, RunningBalance: running}
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type taxTotals struct {
	ivaPurchases decimal.Decimal
	ivaSales     decimal.Decimal
	iibb         decimal.Decimal
}

func sumTaxes(invoices []Invoice) taxTotals {
	t := taxTotals{ivaPurchases: decimal.Zero, ivaSales: decimal.Zero, iibb: decimal.Zero}
	for _, inv := range invoices {
		switch inv.Type {
		case InvoicePurchase:
			t.ivaPurchases = t.ivaPurchases.Add(inv.IVAAmount)
		case InvoiceSale:
			t.ivaSales = t.ivaSales.Add(inv.IVAAmount)
			t.iibb = t.iibb.Add(inv.IIBBAmount)
		}
	}
	return t
}

func sumAmounts(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Amount)
	}
	return total
}

// split returns (income, expense) contributions of one amount; expense is positive.
func split(amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if amount.IsPositive() {
		return amount, decimal.Zero
	}
	return decimal.Zero, amount.Neg()
}
