package order

import (
	"strings"
	"time"

	"storefront-checkout/internal/payment"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// SettlementState tracks where an order is in the payment handshake. It is
// persisted so an interrupted settlement can be resumed from the order row.
type SettlementState string

const (
	SettlementInitiated      SettlementState = "initiated"
	SettlementReserved       SettlementState = "reserved"
	SettlementGatewayPending SettlementState = "gateway_pending"
	SettlementVerifying      SettlementState = "verifying"
	SettlementSettled        SettlementState = "settled"
	SettlementFailed         SettlementState = "failed"
	SettlementCancelled      SettlementState = "cancelled"
)

type Order struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          Status          `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	TransactionID   *string         `json:"transaction_id,omitempty"`
	Gateway         string          `json:"gateway"`
	GatewayHandle   *string         `json:"-"`
	SettlementState SettlementState `json:"settlement_state"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	VerifyingSince  *time.Time      `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []Item          `json:"items,omitempty"`
}

// Flagged reports an order parked for manual reconciliation: settlement
// halted while the payment leg is still unresolved.
func (o *Order) Flagged() bool {
	return o.SettlementState == SettlementFailed && o.PaymentStatus == PaymentPending
}

type Item struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ReserveLine struct {
	ProductID int64
	Quantity  int
}

type ReserveParams struct {
	UserID          int64
	Lines           []ReserveLine
	ShippingAddress string
	PaymentMethod   string
	Gateway         string
}

type CheckoutInput struct {
	UserID          int64
	ShippingAddress string
	PaymentMethod   string
	Contact         payment.Contact
}

type CheckoutResult struct {
	Order       *Order `json:"order"`
	RedirectURL string `json:"redirect_url"`
}

// Callback is what the payer's browser (or the provider) brings back from
// the hosted payment page.
type Callback struct {
	OrderID int64
	Handle  string
	Amount  decimal.Decimal
	// Status is the provider's own outcome flag, "OK" or "NOK" when known.
	Status string
}

func (c Callback) PayerAbandoned() bool {
	return strings.EqualFold(strings.TrimSpace(c.Status), "NOK")
}

// Confirmed reports whether the provider explicitly marked the payment as
// made. A missing or unknown status is not a confirmation.
func (c Callback) Confirmed() bool {
	return strings.EqualFold(strings.TrimSpace(c.Status), "OK")
}

type SettlementResult struct {
	Order          *Order `json:"order"`
	Reference      string `json:"reference"`
	AlreadySettled bool   `json:"already_settled"`
}

type ListOptions struct {
	Limit int32
	Page  int32
}
