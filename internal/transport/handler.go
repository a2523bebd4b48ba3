package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/logger"
	"storefront-checkout/internal/order"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/product"
	"storefront-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	orders   order.Service
	carts    cart.Service
	products product.Service
}

func NewHandler(orders order.Service, carts cart.Service, products product.Service) *Handler {
	return &Handler{orders: orders, carts: carts, products: products}
}

type checkoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
	Email           string `json:"email"`
	Mobile          string `json:"mobile"`
}

type cartItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type fulfillmentRequest struct {
	Status order.Status `json:"status"`
}

type checkoutResponse struct {
	Order       *order.Order `json:"order"`
	RedirectURL string       `json:"redirect_url"`
}

type cartResponse struct {
	Lines []cart.SnapshotLine `json:"lines"`
	Total decimal.Decimal     `json:"total"`
}

// decode reads the body, checks it against schema and unmarshals into dst.
func decode(r *http.Request, schema gojsonschema.JSONLoader, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if err := validateJSONSchema(schema, body); err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

func currentUser(r *http.Request) int64 {
	id, _ := utils.GetUserIDFromContext(r.Context())
	return id
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, ok := utils.ParseID(chi.URLParam(r, name))
	if !ok {
		utils.WriteJSONError(w, "invalid "+name, http.StatusBadRequest)
	}
	return id, ok
}

func queryInt32(r *http.Request, key string) int32 {
	n, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 32)
	if err != nil {
		return 0
	}
	return int32(n)
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(r, checkoutLoader, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orders.Checkout(r.Context(), order.CheckoutInput{
		UserID:          currentUser(r),
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Contact:         payment.Contact{Email: req.Email, Mobile: req.Mobile},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.FromCtx(r.Context()).Info("checkout started",
		zap.Int64("order_id", res.Order.ID),
		zap.String("total", res.Order.TotalAmount.StringFixed(2)),
	)
	utils.WriteJSON(w, http.StatusCreated, checkoutResponse{Order: res.Order, RedirectURL: res.RedirectURL})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(r.Context(), currentUser(r), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), currentUser(r), order.ListOptions{
		Limit: queryInt32(r, "limit"),
		Page:  queryInt32(r, "page"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	o, err := h.orders.Cancel(r.Context(), currentUser(r), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) UpdateFulfillment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var req fulfillmentRequest
	if err := decode(r, fulfillmentLoader, &req); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.UpdateFulfillment(r.Context(), orderID, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	snap, err := h.carts.Snapshot(r.Context(), currentUser(r))
	if err != nil {
		if errors.Is(err, cart.ErrEmptyCart) {
			utils.WriteJSON(w, http.StatusOK, cartResponse{Lines: []cart.SnapshotLine{}, Total: decimal.Zero})
			return
		}
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, cartResponse{Lines: snap.Lines, Total: snap.Total()})
}

func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decode(r, cartItemLoader, &req); err != nil {
		writeError(w, r, err)
		return
	}

	line, err := h.carts.AddItem(r.Context(), cart.AddItemParams{
		UserID:    currentUser(r),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, line)
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	var req cartItemRequest
	if err := decode(r, cartQuantityLoader, &req); err != nil {
		writeError(w, r, err)
		return
	}

	line, err := h.carts.UpdateQuantity(r.Context(), currentUser(r), productID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, line)
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(r.Context(), currentUser(r), productID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := product.ListOptions{
		Limit: queryInt32(r, "limit"),
		Page:  queryInt32(r, "page"),
	}
	if s := q.Get("search"); s != "" {
		opts.Search = &s
	}
	if v, err := strconv.ParseBool(q.Get("in_stock")); err == nil {
		opts.InStock = &v
	}

	res, err := h.products.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	p, err := h.products.GetByID(r.Context(), productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, p)
}
