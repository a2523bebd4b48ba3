package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	mellatProvider    = "mellat"
	mellatStartPayURL = "https://bpm.shaparak.ir/pgwchannel/startpay.mellat?RefId="
	// Mellat bills in Rial while catalog prices are kept in Toman.
	mellatAmountFactor = 10
)

type MellatConfig struct {
	TerminalID string
	Username   string
	Password   string
	BaseURL    string
	Timeout    time.Duration
}

// mellatGateway is the direct-reference variant: the RefId returned by the
// pay request is the final reference, so Verify needs no round trip. The
// payment itself is confirmed only by ResCode 0 on the callback.
type mellatGateway struct {
	cfg        MellatConfig
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewMellatGateway(cfg MellatConfig) Gateway {
	if cfg.TerminalID == "" {
		logger.L().Warn("mellat terminal id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &mellatGateway{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

func (m *mellatGateway) Name() string { return mellatProvider }

func (m *mellatGateway) Initialize(ctx context.Context, req InitRequest) (*Session, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("provider", mellatProvider),
		zap.Int64("order_id", req.OrderID),
		zap.String("amount", req.Amount.String()),
	)

	now := m.now()
	form := url.Values{
		"terminalId":     {m.cfg.TerminalID},
		"userName":       {m.cfg.Username},
		"userPassword":   {m.cfg.Password},
		"orderId":        {strconv.FormatInt(req.OrderID, 10)},
		"amount":         {strconv.FormatInt(MinorUnits(req.Amount, mellatAmountFactor), 10)},
		"localDate":      {now.Format("20060102")},
		"localTime":      {now.Format("150405")},
		"additionalData": {req.Description},
		"callBackUrl":    {req.CallbackURL},
		"payerId":        {"0"},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/bpPayRequest", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("mellat initialize: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Info("sending pay request to mellat")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		log.Error("mellat request failed", zap.Error(err))
		return nil, unavailable(mellatProvider, "initialize", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(mellatProvider, "initialize", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		log.Error("mellat returned server error", zap.Int("status", resp.StatusCode))
		return nil, unavailable(mellatProvider, "initialize", fmt.Errorf("http status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, rejected(mellatProvider, "initialize", strconv.Itoa(resp.StatusCode))
	}

	// The body is "ResCode,RefId"; any ResCode other than 0 is a refusal.
	resCode, refID, _ := strings.Cut(strings.TrimSpace(string(raw)), ",")
	if resCode != "0" || refID == "" {
		log.Warn("mellat refused pay request", zap.String("res_code", resCode))
		return nil, rejected(mellatProvider, "initialize", resCode)
	}

	log.Info("mellat payment created", zap.String("ref_id", refID))

	return &Session{
		Handle:      refID,
		RedirectURL: mellatStartPayURL + url.QueryEscape(refID),
	}, nil
}

func (m *mellatGateway) Verify(ctx context.Context, handle string, amount decimal.Decimal) (*Verification, error) {
	if handle == "" {
		return nil, rejected(mellatProvider, "verify", "missing_ref_id")
	}
	logger.FromCtx(ctx).Info("mellat payment confirmed by reference",
		zap.String("ref_id", handle),
		zap.String("amount", amount.String()),
	)
	return &Verification{Reference: handle}, nil
}
