package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"storefront-checkout/internal/logger"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/order"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxCallbackBody = 64 << 10

type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomePaymentFailed  Outcome = "payment_failed"
	OutcomeUnconfirmed    Outcome = "unconfirmed"
	OutcomeAmountMismatch Outcome = "amount_mismatch"
	OutcomeHandleMismatch Outcome = "handle_mismatch"
	OutcomeInProgress     Outcome = "in_progress"
	OutcomeRetryLater     Outcome = "retry_later"
	OutcomeNotPending     Outcome = "not_pending"
	OutcomeUnknownOrder   Outcome = "unknown_order"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeError          Outcome = "error"
)

type Response struct {
	Received  bool    `json:"received"`
	OrderID   int64   `json:"order_id,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Reference string  `json:"reference,omitempty"`
}

// Handler receives the payer's return from the hosted payment page (or a
// provider server-to-server notification) and hands it to the settlement
// coordinator.
type Handler struct {
	orderSvc order.Service
	repo     payment.Repository
	gateway  string
	metrics  *metrics.Registry
}

func NewCallbackHandler(orderSvc order.Service, repo payment.Repository, gateway string, reg *metrics.Registry) *Handler {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Handler{
		orderSvc: orderSvc,
		repo:     repo,
		gateway:  gateway,
		metrics:  reg,
	}
}

// PaymentCallbackHandler always answers 200 once the request is parsed; the
// outcome is reported in the body and journaled, so providers never retry on
// a business rejection.
func (h *Handler) PaymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	timer := metrics.StartTimer()
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "handler"),
		zap.String("method", "PaymentCallback"),
		zap.String("gateway", h.gateway),
	)

	fields, err := readFields(r)
	if err != nil {
		log.Warn("unreadable payment callback", zap.Error(err))
		utils.WriteJSONError(w, "invalid callback payload", http.StatusBadRequest)
		return
	}

	orderID, _ := utils.ParseID(fields["order_id"])
	cb := order.Callback{
		OrderID: orderID,
		Handle:  pick(fields, "Authority", "authority", "RefId", "refid", "handle"),
		Status:  providerStatus(fields),
	}

	payload, _ := json.Marshal(fields)
	callbackID, err := h.repo.SaveCallback(ctx, payment.CallbackRecord{
		OrderID:        orderID,
		Gateway:        h.gateway,
		Handle:         cb.Handle,
		ClaimedAmount:  fields["amount"],
		ProviderStatus: cb.Status,
		Payload:        payload,
	})
	if err != nil {
		// The settlement itself is recorded on the order row.
		log.Error("failed to journal payment callback", zap.Error(err))
	}

	log = log.With(zap.Int64("order_id", orderID), zap.Int64("callback_id", callbackID))

	amount, amountErr := decimal.NewFromString(fields["amount"])
	if orderID == 0 || cb.Handle == "" || amountErr != nil {
		log.Warn("payment callback missing required fields")
		h.finish(r, log, callbackID, OutcomeInvalid, nil)
		utils.WriteJSON(w, http.StatusOK, Response{Received: true, OrderID: orderID, Outcome: OutcomeInvalid})
		return
	}
	cb.Amount = amount

	res, err := h.orderSvc.HandleCallback(ctx, cb)
	outcome := classify(res, err)

	resp := Response{Received: true, OrderID: orderID, Outcome: outcome}
	if res != nil {
		resp.Reference = res.Reference
	}

	if outcome == OutcomeError {
		log.Error("payment callback processing failed", zap.Error(err))
	} else {
		log.Info("payment callback processed",
			zap.String("outcome", string(outcome)),
			zap.Duration("duration", timer.Duration()),
		)
	}

	h.finish(r, log, callbackID, outcome, err)
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) finish(r *http.Request, log *zap.Logger, callbackID int64, outcome Outcome, cause error) {
	h.metrics.Counter("payment_callback_" + string(outcome)).Inc()
	if callbackID == 0 {
		return
	}

	var err error
	if outcome == OutcomeError && cause != nil {
		err = h.repo.MarkCallbackFailed(r.Context(), callbackID, cause.Error())
	} else {
		err = h.repo.MarkCallbackProcessed(r.Context(), callbackID, string(outcome))
	}
	if err != nil {
		log.Error("failed to record callback outcome", zap.Error(err))
	}
}

func classify(res *order.SettlementResult, err error) Outcome {
	switch {
	case err == nil && res != nil && res.AlreadySettled:
		return OutcomeAlreadySettled
	case err == nil:
		return OutcomeSettled
	case errors.Is(err, order.ErrInvalidInput):
		return OutcomeInvalid
	case errors.Is(err, order.ErrOrderNotFound):
		return OutcomeUnknownOrder
	case errors.Is(err, order.ErrAmountMismatch):
		return OutcomeAmountMismatch
	case errors.Is(err, order.ErrHandleMismatch):
		return OutcomeHandleMismatch
	case errors.Is(err, order.ErrVerificationInProgress):
		return OutcomeInProgress
	case errors.Is(err, order.ErrUnconfirmedCallback):
		return OutcomeUnconfirmed
	case errors.Is(err, order.ErrVerificationFailed):
		return OutcomePaymentFailed
	case errors.Is(err, order.ErrGatewayUnavailable):
		return OutcomeRetryLater
	case errors.Is(err, order.ErrNotPending):
		return OutcomeNotPending
	default:
		return OutcomeError
	}
}

// readFields merges query parameters with a form or JSON body. Providers
// differ in where they put the same values.
func readFields(r *http.Request) (map[string]string, error) {
	fields := map[string]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			fields[k] = strings.TrimSpace(v[0])
		}
	}

	if r.Body == nil || r.Method == http.MethodGet {
		return fields, nil
	}
	defer r.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			return fields, nil
		}
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			if _, exists := fields[k]; exists {
				continue
			}
			switch val := v.(type) {
			case string:
				fields[k] = strings.TrimSpace(val)
			case float64:
				fields[k] = decimal.NewFromFloat(val).String()
			}
		}
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(nil, r.Body, maxCallbackBody)
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k, v := range r.PostForm {
			if _, exists := fields[k]; !exists && len(v) > 0 {
				fields[k] = strings.TrimSpace(v[0])
			}
		}
	}
	return fields, nil
}

func pick(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := fields[k]; v != "" {
			return v
		}
	}
	return ""
}

// providerStatus normalises the provider's outcome flag to OK or NOK.
// ZarinPal sends Status=OK|NOK; Mellat sends ResCode where 0 means paid.
func providerStatus(fields map[string]string) string {
	if s := pick(fields, "Status", "status"); s != "" {
		return strings.ToUpper(s)
	}
	if code, ok := fields["ResCode"]; ok {
		if code == "0" {
			return "OK"
		}
		return "NOK"
	}
	return ""
}
