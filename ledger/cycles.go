package ledger

import (
	"context"
	"time"
)

// CycleManager closes account cycles.
//
// Closing snapshots the current Summary into an immutable AccountCycle and
// rebases the account's opening balance to the summary balance, so the next
// cycle starts where this one ended. A second close within the same clock
// hour returns the cycle already recorded for that hour.
type CycleManager struct {
	store Store
	clock Clock
}

func NewCycleManager(store Store, clock Clock) *CycleManager {
	if clock == nil {
		clock = SystemClock{}
	}
	return &CycleManager{store: store, clock: clock}
}

// Close closes the current cycle of an account. The bool reports whether a
// new cycle was recorded.
func (m *CycleManager) Close(ctx context.Context, accountID int64) (AccountCycle, bool, error) {
	var (
		cycle   AccountCycle
		created bool
	)
	err := m.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}

		now := m.clock.Now().UTC()
		hourStart := now.Truncate(time.Hour)
		existing, err := tx.CycleClosedIn(ctx, accountID, hourStart, hourStart.Add(time.Hour))
		if err != nil {
			return err
		}
		if existing != nil {
			cycle = *existing
			return nil
		}

		// Rows stamped at now belong to the next cycle.
		s, err := summarize(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		cycle = AccountCycle{
			AccountID:                accountID,
			ClosedAt:                 now,
			OpeningBalanceSnapshot:   s.OpeningBalance,
			IncomeSnapshot:           s.Income,
			ExpenseSnapshot:          s.Expense,
			BalanceSnapshot:          s.Balance,
			InkwellIncomeSnapshot:    s.InkwellIncome,
			InkwellExpenseSnapshot:   s.InkwellExpense,
			InkwellAvailableSnapshot: s.InkwellAvailable,
			IVAPurchasesSnapshot:     s.IVAPurchases,
			IVASalesSnapshot:         s.IVASales,
			IIBBSnapshot:             s.IIBB,
			CreatedAt:                now,
		}
		if err := tx.CreateCycle(ctx, &cycle); err != nil {
			return err
		}
		created = true
		return tx.SetOpeningBalance(ctx, accountID, s.Balance)
	})
	if err != nil {
		return AccountCycle{}, false, err
	}
	return cycle, created, nil
}

// List returns the closed cycles of an account, newest first.
func (m *CycleManager) List(ctx context.Context, accountID int64) ([]AccountCycle, error) {
	if _, err := m.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return m.store.ListCycles(ctx, accountID)
}
