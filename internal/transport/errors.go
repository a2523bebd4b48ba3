package transport

import (
	"errors"
	"net/http"

	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/logger"
	"storefront-checkout/internal/order"
	"storefront-checkout/internal/product"
	"storefront-checkout/internal/utils"

	"go.uber.org/zap"
)

// writeError maps domain errors onto HTTP statuses. Anything unrecognised is
// logged and reported as a 500 without leaking the cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *order.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		utils.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "insufficient stock",
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.Is(err, errSchema),
		errors.Is(err, order.ErrInvalidInput),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, cart.ErrProductUnavailable):
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, cart.ErrCartItemNotFound):
		utils.WriteJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, order.ErrNotCancellable),
		errors.Is(err, order.ErrAlreadyCancelled),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrPaymentNotCompleted):
		utils.WriteJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, order.ErrGatewayUnavailable):
		utils.WriteJSONError(w, "payment provider unavailable, please retry", http.StatusBadGateway)
	case errors.Is(err, order.ErrGatewayRejected):
		utils.WriteJSONError(w, "payment provider declined the request", http.StatusBadGateway)
	case errors.Is(err, order.ErrOrderStoreUnavailable):
		utils.WriteJSONError(w, "service temporarily unavailable", http.StatusServiceUnavailable)
	default:
		logger.FromCtx(r.Context()).Error("unhandled request error",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		utils.WriteJSONError(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
