// Package events publishes order lifecycle notifications for downstream
// consumers (fulfilment, notifications, analytics).
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	OrderPlaced        Type = "order.placed"
	OrderSettled       Type = "order.settled"
	OrderPaymentFailed Type = "order.payment_failed"
	OrderFlagged       Type = "order.flagged"
	OrderCancelled     Type = "order.cancelled"
	OrderStatusChanged Type = "order.status_changed"
)

type Event struct {
	Type          Type            `json:"type"`
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	Reference     string          `json:"reference,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                        { return nil }
