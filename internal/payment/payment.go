// Package payment adapts external payment providers to a single
// initialize/verify capability so order settlement stays provider-agnostic.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

type Gateway interface {
	// Name identifies the provider; it is stored on the order.
	Name() string
	Initialize(ctx context.Context, req InitRequest) (*Session, error)
	Verify(ctx context.Context, handle string, amount decimal.Decimal) (*Verification, error)
}

type Contact struct {
	Email  string
	Mobile string
}

type InitRequest struct {
	OrderID     int64
	Amount      decimal.Decimal
	Description string
	Contact     Contact
	CallbackURL string
}

// Session is the correlation handle plus the hosted payment page the payer is
// redirected to.
type Session struct {
	Handle      string
	RedirectURL string
}

type Verification struct {
	Reference string
	CardPAN   string
}

// MinorUnits converts a major-unit amount into the integer unit a provider
// expects, e.g. factor 10 for Toman to Rial.
func MinorUnits(amount decimal.Decimal, factor int64) int64 {
	return amount.Mul(decimal.NewFromInt(factor)).Round(0).IntPart()
}
