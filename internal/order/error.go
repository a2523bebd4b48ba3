package order

import (
	"errors"
	"fmt"

	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/payment"
)

var (
	// -- Validation & Input --
	ErrInvalidInput = errors.New("invalid order input")

	// -- Cart snapshot --
	ErrEmptyCart          = cart.ErrEmptyCart
	ErrProductUnavailable = cart.ErrProductUnavailable

	// -- Reservation --
	ErrInsufficientStock = errors.New("insufficient stock")

	// -- Gateway --
	ErrGatewayUnavailable = payment.ErrGatewayUnavailable
	ErrGatewayRejected    = payment.ErrGatewayRejected

	// -- Settlement --
	ErrAmountMismatch         = errors.New("callback amount does not match order total")
	ErrHandleMismatch         = errors.New("callback handle does not match order")
	ErrVerificationFailed     = errors.New("payment verification failed")
	ErrVerificationInProgress = errors.New("payment verification already in progress")
	ErrNotPending             = errors.New("order payment is not pending")
	ErrAlreadySettled         = errors.New("order already settled")

	// -- Resource State --
	ErrOrderNotFound       = errors.New("order not found")
	ErrAlreadyCancelled    = errors.New("order already cancelled")
	ErrNotCancellable      = errors.New("order can no longer be cancelled")
	ErrPaymentNotCompleted = errors.New("order payment not completed")
	ErrUnconfirmedCallback = errors.New("callback does not confirm payment")
	ErrInvalidTransition   = errors.New("invalid order status transition")

	// -- Database --
	ErrOrderStoreUnavailable = errors.New("order store unavailable")
)

// InsufficientStockError names the product that could not be reserved.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrOrderStoreUnavailable, err)
}
