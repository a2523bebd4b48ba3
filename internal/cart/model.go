package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Line is one stored cart row.
type Line struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AddItemParams struct {
	UserID    int64
	ProductID int64
	Quantity  int
}

// SnapshotLine is a cart line priced against the catalog at snapshot time.
type SnapshotLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l SnapshotLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Snapshot struct {
	UserID int64          `json:"user_id"`
	Lines  []SnapshotLine `json:"lines"`
}

func (s *Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
