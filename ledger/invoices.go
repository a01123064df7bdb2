package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	DefaultIVAPercent  = decimal.NewFromInt(21)
	DefaultIIBBPercent = decimal.NewFromInt(3)

	hundred = decimal.NewFromInt(100)
)

// InvoiceInput carries the writable fields of an invoice. Nil percents
// take the defaults (21% IVA, 3% IIBB).
type InvoiceInput struct {
	AccountID   int64
	Date        time.Time
	Description string
	Number      string
	Amount      decimal.Decimal
	IVAPercent  *decimal.Decimal
	IIBBPercent *decimal.Decimal
	Type        InvoiceType
}

// ApplyTaxes fills the derived tax amounts of an invoice.
//
//	iva  = round2(amount * iva% / 100)
//	iibb = round2((amount + iva) * iibb% / 100)   sales only
//
// Purchases carry neither IIBB percent nor amount.
func ApplyTaxes(inv *Invoice) {
	inv.IVAAmount = Round2(inv.Amount.Mul(inv.IVAPercent).Div(hundred))
	if inv.Type == InvoiceSale {
		inv.IIBBAmount = Round2(inv.Amount.Add(inv.IVAAmount).Mul(inv.IIBBPercent).Div(hundred))
		return
	}
	inv.IIBBPercent = decimal.Zero
	inv.IIBBAmount = decimal.Zero
}

// Invoices manages invoice records.
type Invoices struct {
	store Store
	clock Clock
}

func NewInvoices(store Store, clock Clock) *Invoices {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Invoices{store: store, clock: clock}
}

func (s *Invoices) Create(ctx context.Context, in InvoiceInput) (Invoice, error) {
	inv, err := in.build()
	if err != nil {
		return Invoice{}, err
	}
	inv.CreatedAt = s.clock.Now()

	err = s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetAccount(ctx, inv.AccountID); err != nil {
			return err
		}
		return tx.CreateInvoice(ctx, &inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// Update recomputes the tax amounts from the new input. created_at is kept,
// so the invoice stays in the cycle it was recorded in.
func (s *Invoices) Update(ctx context.Context, id int64, in InvoiceInput) (Invoice, error) {
	inv, err := in.build()
	if err != nil {
		return Invoice{}, err
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.GetAccount(ctx, inv.AccountID); err != nil {
			return err
		}
		inv.ID = current.ID
		inv.CreatedAt = current.CreatedAt
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (s *Invoices) Delete(ctx context.Context, id int64) error {
	return s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetInvoice(ctx, id); err != nil {
			return err
		}
		return tx.DeleteInvoice(ctx, id)
	})
}

func (s *Invoices) List(ctx context.Context, accountID *int64) ([]Invoice, error) {
	return s.store.ListInvoices(ctx, accountID)
}

func (in InvoiceInput) build() (Invoice, error) {
	switch in.Type {
	case InvoicePurchase, InvoiceSale:
	default:
		return Invoice{}, Invalid("type", "must be purchase or sale")
	}
	if in.Amount.IsNegative() {
		return Invoice{}, Invalid("amount", "must not be negative")
	}
	if err := CheckCents("amount", in.Amount); err != nil {
		return Invoice{}, err
	}
	inv := Invoice{
		AccountID:   in.AccountID,
		Date:        DateOf(in.Date),
		Description: strings.TrimSpace(in.Description),
		Number:      strings.TrimSpace(in.Number),
		Amount:      in.Amount,
		IVAPercent:  DefaultIVAPercent,
		IIBBPercent: DefaultIIBBPercent,
		Type:        in.Type,
	}
	if in.IVAPercent != nil {
		if err := CheckCents("iva_percent", *in.IVAPercent); err != nil {
			return Invoice{}, err
		}
		inv.IVAPercent = *in.IVAPercent
	}
	if in.IIBBPercent != nil {
		if err := CheckCents("iibb_percent", *in.IIBBPercent); err != nil {
			return Invoice{}, err
		}
		inv.IIBBPercent = *in.IIBBPercent
	}
	ApplyTaxes(&inv)
	return inv, nil
}
