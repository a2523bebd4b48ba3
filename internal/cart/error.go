package cart

import "errors"

var (
	// -- Validation & Input --
	ErrInvalidQuantity = errors.New("invalid cart quantity")

	// -- Resource State --
	ErrCartItemNotFound   = errors.New("cart item not found")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrProductUnavailable = errors.New("product unavailable")

	// -- Database & Operation Failures --
	ErrFailedGetCartLines = errors.New("failed to get cart lines")
	ErrFailedUpsertCart   = errors.New("failed to save cart item")
	ErrFailedRemoveCart   = errors.New("failed to remove cart item")
	ErrFailedClearCart    = errors.New("failed to clear cart")
)
