package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// AccountInput carries the writable fields of an account.
// OpeningBalance is only honoured on create; afterwards cycle closes own it.
type AccountInput struct {
	Name           string
	OpeningBalance decimal.Decimal
	Currency       Currency
	Color          string
	IsActive       bool
	IsBilling      bool
}

// Accounts manages account records and the single-billing-account rule.
type Accounts struct {
	store Store
	clock Clock
}

func NewAccounts(store Store, clock Clock) *Accounts {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Accounts{store: store, clock: clock}
}

// Create adds an account. Flagging it as billing while another billing
// account exists fails unless replaceBilling demotes the current one.
func (s *Accounts) Create(ctx context.Context, in AccountInput, replaceBilling bool) (Account, error) {
	if err := in.validate(); err != nil {
		return Account{}, err
	}
	acc := Account{
		Name:           strings.TrimSpace(in.Name),
		OpeningBalance: in.OpeningBalance,
		Currency:       in.Currency,
		Color:          colorOrDefault(in.Color),
		IsActive:       in.IsActive,
		IsBilling:      in.IsBilling,
		CreatedAt:      s.clock.Now(),
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := checkName(ctx, tx, acc.Name, 0); err != nil {
			return err
		}
		if acc.IsBilling {
			if err := claimBilling(ctx, tx, 0, replaceBilling); err != nil {
				return err
			}
		}
		return tx.CreateAccount(ctx, &acc)
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

// Update rewrites an account's descriptive fields and flags.
func (s *Accounts) Update(ctx context.Context, id int64, in AccountInput, replaceBilling bool) (Account, error) {
	if err := in.validate(); err != nil {
		return Account{}, err
	}

	var acc Account
	err := s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		name := strings.TrimSpace(in.Name)
		if err := checkName(ctx, tx, name, id); err != nil {
			return err
		}
		if in.IsBilling && !current.IsBilling {
			if err := claimBilling(ctx, tx, id, replaceBilling); err != nil {
				return err
			}
		}

		acc = *current
		acc.Name = name
		acc.Currency = in.Currency
		acc.Color = colorOrDefault(in.Color)
		acc.IsActive = in.IsActive
		acc.IsBilling = in.IsBilling
		return tx.UpdateAccount(ctx, acc)
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

// Deactivate soft-deletes an account.
func (s *Accounts) Deactivate(ctx context.Context, id int64) error {
	return s.store.WithTx(ctx, func(tx Tx) error {
		acc, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		acc.IsActive = false
		return tx.UpdateAccount(ctx, *acc)
	})
}

func (s *Accounts) List(ctx context.Context, includeInactive bool) ([]Account, error) {
	return s.store.ListAccounts(ctx, includeInactive)
}

func (in AccountInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return Invalid("name", "is required")
	}
	switch in.Currency {
	case CurrencyARS, CurrencyUSD:
	default:
		return Invalid("currency", "must be ARS or USD")
	}
	return CheckCents("opening_balance", in.OpeningBalance)
}

func checkName(ctx context.Context, tx Tx, name string, exceptID int64) error {
	taken, err := tx.AccountNameTaken(ctx, name, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateName
	}
	return nil
}

func claimBilling(ctx context.Context, tx Tx, accountID int64, replace bool) error {
	current, err := tx.GetBillingAccount(ctx)
	switch {
	case errors.Is(err, ErrBillingAccountNotConfigured):
		return nil
	case err != nil:
		return err
	case current.ID == accountID:
		return nil
	case !replace:
		return ErrBillingAccountExists
	}
	return tx.ClearBillingFlag(ctx, accountID)
}

func colorOrDefault(c string) string {
	if strings.TrimSpace(c) == "" {
		return DefaultColor
	}
	return c
}
