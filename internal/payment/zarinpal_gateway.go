package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	zarinpalProvider     = "zarinpal"
	zarinpalStartPayURL  = "https://www.zarinpal.com/pg/StartPay/"
	zarinpalCodeSuccess  = 100
	zarinpalCodeVerified = 101
)

type ZarinpalConfig struct {
	MerchantID string
	BaseURL    string
	Timeout    time.Duration
}

// zarinpalGateway is the redirect-token variant: the authority issued on
// request must be verified with a second round trip after the payer returns.
type zarinpalGateway struct {
	merchantID string
	baseURL    string
	httpClient *http.Client
}

func NewZarinpalGateway(cfg ZarinpalConfig) Gateway {
	if cfg.MerchantID == "" {
		logger.L().Warn("zarinpal merchant id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &zarinpalGateway{
		merchantID: cfg.MerchantID,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (z *zarinpalGateway) Name() string { return zarinpalProvider }

type zarinpalEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type zarinpalData struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Authority string      `json:"authority"`
	RefID     json.Number `json:"ref_id"`
	CardPAN   string      `json:"card_pan"`
}

type zarinpalError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (z *zarinpalGateway) Initialize(ctx context.Context, req InitRequest) (*Session, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("provider", zarinpalProvider),
		zap.Int64("order_id", req.OrderID),
		zap.String("amount", req.Amount.String()),
	)

	body := map[string]any{
		"merchant_id":  z.merchantID,
		"amount":       MinorUnits(req.Amount, 1),
		"currency":     "IRT",
		"description":  req.Description,
		"callback_url": req.CallbackURL,
		"metadata": map[string]any{
			"email":    req.Contact.Email,
			"mobile":   req.Contact.Mobile,
			"order_id": strconv.FormatInt(req.OrderID, 10),
		},
	}

	log.Info("sending payment request to zarinpal")

	data, err := z.post(ctx, "/pg/v4/payment/request.json", "initialize", body)
	if err != nil {
		log.Error("zarinpal payment request failed", zap.Error(err))
		return nil, err
	}
	if data.Code != zarinpalCodeSuccess || data.Authority == "" {
		log.Warn("zarinpal refused payment request", zap.Int("code", data.Code))
		return nil, rejected(zarinpalProvider, "initialize", strconv.Itoa(data.Code))
	}

	log.Info("zarinpal payment created", zap.String("authority", data.Authority))

	return &Session{
		Handle:      data.Authority,
		RedirectURL: zarinpalStartPayURL + data.Authority,
	}, nil
}

func (z *zarinpalGateway) Verify(ctx context.Context, handle string, amount decimal.Decimal) (*Verification, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("provider", zarinpalProvider),
		zap.String("authority", handle),
		zap.String("amount", amount.String()),
	)

	body := map[string]any{
		"merchant_id": z.merchantID,
		"amount":      MinorUnits(amount, 1),
		"authority":   handle,
	}

	start := time.Now()
	data, err := z.post(ctx, "/pg/v4/payment/verify.json", "verify", body)
	if err != nil {
		log.Error("zarinpal verification failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, err
	}
	if data.Code != zarinpalCodeSuccess && data.Code != zarinpalCodeVerified {
		log.Warn("zarinpal refused verification", zap.Int("code", data.Code))
		return nil, rejected(zarinpalProvider, "verify", strconv.Itoa(data.Code))
	}
	if data.RefID == "" {
		return nil, rejected(zarinpalProvider, "verify", "missing_ref_id")
	}

	log.Info("zarinpal payment verified",
		zap.String("ref_id", data.RefID.String()),
		zap.Int("code", data.Code),
		zap.Duration("duration", time.Since(start)),
	)

	return &Verification{Reference: data.RefID.String(), CardPAN: data.CardPAN}, nil
}

// post sends one request and decodes ZarinPal's envelope. "data" and "errors"
// are each either an object or an empty array depending on the outcome.
func (z *zarinpalGateway) post(ctx context.Context, path, op string, body any) (*zarinpalData, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("zarinpal %s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("zarinpal %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(zarinpalProvider, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(zarinpalProvider, op, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, unavailable(zarinpalProvider, op, fmt.Errorf("http status %d", resp.StatusCode))
	}

	var env zarinpalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, unavailable(zarinpalProvider, op, fmt.Errorf("decode response: %w", err))
	}

	var apiErr zarinpalError
	if isJSONObject(env.Errors) && json.Unmarshal(env.Errors, &apiErr) == nil && apiErr.Code != 0 {
		return nil, rejected(zarinpalProvider, op, strconv.Itoa(apiErr.Code))
	}

	var data zarinpalData
	if !isJSONObject(env.Data) || json.Unmarshal(env.Data, &data) != nil {
		return nil, rejected(zarinpalProvider, op, strconv.Itoa(resp.StatusCode))
	}
	return &data, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
