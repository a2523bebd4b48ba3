package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/order"
	"storefront-checkout/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Checkout(ctx context.Context, in order.CheckoutInput) (*order.CheckoutResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.CheckoutResult), args.Error(1)
}

func (m *MockOrderService) HandleCallback(ctx context.Context, cb order.Callback) (*order.SettlementResult, error) {
	args := m.Called(ctx, cb)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.SettlementResult), args.Error(1)
}

func (m *MockOrderService) Cancel(ctx context.Context, userID, orderID int64) (*order.Order, error) {
	args := m.Called(ctx, userID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, userID, orderID int64) (*order.Order, error) {
	args := m.Called(ctx, userID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, userID int64, opts order.ListOptions) ([]*order.Order, error) {
	args := m.Called(ctx, userID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

func (m *MockOrderService) UpdateFulfillment(ctx context.Context, orderID int64, status order.Status) (*order.Order, error) {
	args := m.Called(ctx, orderID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) SaveCallback(ctx context.Context, rec payment.CallbackRecord) (int64, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPaymentRepository) MarkCallbackProcessed(ctx context.Context, callbackID int64, outcome string) error {
	return m.Called(ctx, callbackID, outcome).Error(0)
}

func (m *MockPaymentRepository) MarkCallbackFailed(ctx context.Context, callbackID int64, reason string) error {
	return m.Called(ctx, callbackID, reason).Error(0)
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func matchCallback(orderID int64, handle, amount, status string) any {
	want := decimal.RequireFromString(amount)
	return mock.MatchedBy(func(cb order.Callback) bool {
		return cb.OrderID == orderID && cb.Handle == handle && cb.Status == status && cb.Amount.Equal(want)
	})
}

func TestHandler_PaymentCallbackHandler(t *testing.T) {
	t.Run("Success_ZarinpalReturn", func(t *testing.T) {
		orders := new(MockOrderService)
		repo := new(MockPaymentRepository)
		h := NewCallbackHandler(orders, repo, "zarinpal", nil)

		repo.On("SaveCallback", mock.Anything, mock.MatchedBy(func(rec payment.CallbackRecord) bool {
			return rec.OrderID == 42 && rec.Gateway == "zarinpal" && rec.Handle == "A0001" &&
				rec.ClaimedAmount == "20.00" && rec.ProviderStatus == "OK"
		})).Return(int64(7), nil)
		orders.On("HandleCallback", mock.Anything, matchCallback(42, "A0001", "20.00", "OK")).
			Return(&order.SettlementResult{Reference: "REF-1"}, nil)
		repo.On("MarkCallbackProcessed", mock.Anything, int64(7), "settled").Return(nil)

		req := httptest.NewRequest(http.MethodGet, "/orders/payment/callback?order_id=42&amount=20.00&Authority=A0001&Status=OK", nil)
		w := httptest.NewRecorder()

		h.PaymentCallbackHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.True(t, resp.Received)
		assert.Equal(t, OutcomeSettled, resp.Outcome)
		assert.Equal(t, "REF-1", resp.Reference)
		assert.Equal(t, int64(42), resp.OrderID)
		orders.AssertExpectations(t)
		repo.AssertExpectations(t)
	})

	t.Run("Success_MellatFormPost", func(t *testing.T) {
		orders := new(MockOrderService)
		repo := new(MockPaymentRepository)
		h := NewCallbackHandler(orders, repo, "mellat", nil)

		repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(3), nil)
		orders.On("HandleCallback", mock.Anything, matchCallback(9, "RID-9", "150.5", "NOK")).
			Return(nil, order.ErrVerificationFailed)
		repo.On("MarkCallbackProcessed", mock.Anything, int64(3), "payment_failed").Return(nil)

		form := url.Values{"RefId": {"RID-9"}, "ResCode": {"17"}}
		req := httptest.NewRequest(http.MethodPost, "/orders/payment/callback?order_id=9&amount=150.5", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()

		h.PaymentCallbackHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, OutcomePaymentFailed, decodeResponse(t, w).Outcome)
		orders.AssertExpectations(t)
		repo.AssertExpectations(t)
	})

	t.Run("MellatWithoutResCodeIsUnconfirmed", func(t *testing.T) {
		orders := new(MockOrderService)
		repo := new(MockPaymentRepository)
		h := NewCallbackHandler(orders, repo, "mellat", nil)

		unconfirmed := fmt.Errorf("%w: %w", order.ErrVerificationFailed, order.ErrUnconfirmedCallback)
		repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(4), nil)
		orders.On("HandleCallback", mock.Anything, matchCallback(9, "RID-9", "150.5", "")).
			Return(nil, unconfirmed)
		repo.On("MarkCallbackProcessed", mock.Anything, int64(4), "unconfirmed").Return(nil)

		form := url.Values{"RefId": {"RID-9"}}
		req := httptest.NewRequest(http.MethodPost, "/orders/payment/callback?order_id=9&amount=150.5", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()

		h.PaymentCallbackHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, OutcomeUnconfirmed, resp.Outcome)
		assert.Empty(t, resp.Reference)
		orders.AssertExpectations(t)
		repo.AssertExpectations(t)
	})

	t.Run("Success_JSONBodyAlreadySettled", func(t *testing.T) {
		orders := new(MockOrderService)
		repo := new(MockPaymentRepository)
		h := NewCallbackHandler(orders, repo, "zarinpal", nil)

		repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(11), nil)
		orders.On("HandleCallback", mock.Anything, matchCallback(5, "A5", "10", "OK")).
			Return(&order.SettlementResult{Reference: "R5", AlreadySettled: true}, nil)
		repo.On("MarkCallbackProcessed", mock.Anything, int64(11), "already_settled").Return(nil)

		body, _ := json.Marshal(map[string]any{"order_id": "5", "amount": 10, "handle": "A5", "status": "ok"})
		req := httptest.NewRequest(http.MethodPost, "/orders/payment/callback", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		h.PaymentCallbackHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, OutcomeAlreadySettled, decodeResponse(t, w).Outcome)
		orders.AssertExpectations(t)
		repo.AssertExpectations(t)
	})

	t.Run("Rejected_BusinessOutcomes", func(t *testing.T) {
		cases := []struct {
			err  error
			want Outcome
		}{
			{order.ErrAmountMismatch, OutcomeAmountMismatch},
			{order.ErrHandleMismatch, OutcomeHandleMismatch},
			{order.ErrVerificationInProgress, OutcomeInProgress},
			{order.ErrNotPending, OutcomeNotPending},
			{order.ErrOrderNotFound, OutcomeUnknownOrder},
			{order.ErrGatewayUnavailable, OutcomeRetryLater},
		}
		for _, tc := range cases {
			t.Run(string(tc.want), func(t *testing.T) {
				orders := new(MockOrderService)
				repo := new(MockPaymentRepository)
				h := NewCallbackHandler(orders, repo, "zarinpal", nil)

				repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(1), nil)
				orders.On("HandleCallback", mock.Anything, mock.Anything).Return(nil, tc.err)
				repo.On("MarkCallbackProcessed", mock.Anything, int64(1), string(tc.want)).Return(nil)

				req := httptest.NewRequest(http.MethodGet, "/orders/payment/callback?order_id=1&amount=5&Authority=A1&Status=OK", nil)
				w := httptest.NewRecorder()

				h.PaymentCallbackHandler(w, req)

				assert.Equal(t, http.StatusOK, w.Code)
				assert.Equal(t, tc.want, decodeResponse(t, w).Outcome)
				repo.AssertExpectations(t)
			})
		}
	})

	t.Run("InternalError_MarkedFailed", func(t *testing.T) {
		orders := new(MockOrderService)
		repo := new(MockPaymentRepository)
		h := NewCallbackHandler(orders, repo, "zarinpal", nil)

		repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(2), nil)
		orders.On("HandleCallback", mock.Anything, mock.Anything).Return(nil, errors.New("db gone"))
		repo.On("MarkCallbackFailed", mock.Anything, int64(2), "db gone").Return(nil)

		req := httptest.NewRequest(http.MethodGet, "/orders/payment/callback?order_id=1&amount=5&Authority=A1&Status=OK", nil)
		w := httptest.NewRecorder()

		h.PaymentCallbackHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, OutcomeError, decodeResponse(t, w).Outcome)
		repo.AssertExpectations(t)
		repo.AssertNotCalled(t, "MarkCallbackProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Invalid_MissingFields", func(t *testing.T) {
		orders := new(MockOrderService)
		repo := new(MockPaymentRepository)
		h := NewCallbackHandler(orders, repo, "zarinpal", nil)

		repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(4), nil)
		repo.On("MarkCallbackProcessed", mock.Anything, int64(4), "invalid").Return(nil)

		req := httptest.NewRequest(http.MethodGet, "/orders/payment/callback?order_id=abc&Status=OK", nil)
		w := httptest.NewRecorder()

		h.PaymentCallbackHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, OutcomeInvalid, decodeResponse(t, w).Outcome)
		orders.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
	})

	t.Run("JournalFailure_StillProcesses", func(t *testing.T) {
		orders := new(MockOrderService)
		repo := new(MockPaymentRepository)
		h := NewCallbackHandler(orders, repo, "zarinpal", nil)

		repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(0), errors.New("insert failed"))
		orders.On("HandleCallback", mock.Anything, mock.Anything).Return(&order.SettlementResult{Reference: "R"}, nil)

		req := httptest.NewRequest(http.MethodGet, "/orders/payment/callback?order_id=1&amount=5&Authority=A1&Status=OK", nil)
		w := httptest.NewRecorder()

		h.PaymentCallbackHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, OutcomeSettled, decodeResponse(t, w).Outcome)
		orders.AssertExpectations(t)
		repo.AssertNotCalled(t, "MarkCallbackProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		orders := new(MockOrderService)
		repo := new(MockPaymentRepository)
		h := NewCallbackHandler(orders, repo, "zarinpal", nil)

		req := httptest.NewRequest(http.MethodPost, "/orders/payment/callback", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		h.PaymentCallbackHandler(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		repo.AssertNotCalled(t, "SaveCallback", mock.Anything, mock.Anything)
	})
}

func TestHandler_CountsOutcomes(t *testing.T) {
	orders := new(MockOrderService)
	repo := new(MockPaymentRepository)
	reg := metrics.NewRegistry()
	h := NewCallbackHandler(orders, repo, "zarinpal", reg)

	repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(1), nil)
	orders.On("HandleCallback", mock.Anything, mock.Anything).Return(nil, order.ErrHandleMismatch)
	repo.On("MarkCallbackProcessed", mock.Anything, int64(1), "handle_mismatch").Return(nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/orders/payment/callback?order_id=1&amount=5&Authority=A1&Status=OK", nil)
		h.PaymentCallbackHandler(httptest.NewRecorder(), req)
	}

	assert.Equal(t, uint64(2), reg.Counter("payment_callback_handle_mismatch").Load())
}

func TestProviderStatus(t *testing.T) {
	assert.Equal(t, "OK", providerStatus(map[string]string{"Status": "ok"}))
	assert.Equal(t, "NOK", providerStatus(map[string]string{"Status": "NOK"}))
	assert.Equal(t, "OK", providerStatus(map[string]string{"ResCode": "0"}))
	assert.Equal(t, "NOK", providerStatus(map[string]string{"ResCode": "43"}))
	assert.Equal(t, "", providerStatus(map[string]string{}))
}
