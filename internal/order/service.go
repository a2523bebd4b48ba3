package order

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/events"
	"storefront-checkout/internal/logger"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/utils"

	"go.uber.org/zap"
)

// compensationTimeout bounds store writes that must run even after the
// request context is gone.
const compensationTimeout = 10 * time.Second

type Service interface {
	Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error)
	HandleCallback(ctx context.Context, cb Callback) (*SettlementResult, error)
	Cancel(ctx context.Context, userID, orderID int64) (*Order, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*Order, error)
	ListOrders(ctx context.Context, userID int64, opts ListOptions) ([]*Order, error)
	UpdateFulfillment(ctx context.Context, orderID int64, status Status) (*Order, error)
}

type Settings struct {
	CallbackBaseURL  string
	VerifyStaleAfter time.Duration
}

// service is the settlement coordinator. It is the only place that decides
// compensation; the store and the gateway only report what happened.
type service struct {
	repo      Repository
	carts     cart.Service
	gateway   payment.Gateway
	publisher events.Publisher
	settings  Settings
}

func NewService(
	repo Repository,
	carts cart.Service,
	gateway payment.Gateway,
	publisher events.Publisher,
	settings Settings,
) Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if settings.VerifyStaleAfter <= 0 {
		settings.VerifyStaleAfter = 2 * time.Minute
	}
	return &service{
		repo:      repo,
		carts:     carts,
		gateway:   gateway,
		publisher: publisher,
		settings:  settings,
	}
}

func (s *service) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Checkout"),
		zap.Int64("user_id", in.UserID),
	)

	start := time.Now()

	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	switch {
	case in.UserID <= 0:
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	case in.ShippingAddress == "":
		return nil, fmt.Errorf("%w: shipping address is required", ErrInvalidInput)
	case in.PaymentMethod == "":
		return nil, fmt.Errorf("%w: payment method is required", ErrInvalidInput)
	}

	snap, err := s.carts.Snapshot(ctx, in.UserID)
	if err != nil {
		log.Warn("cart snapshot failed", zap.Error(err))
		return nil, err
	}

	lines := make([]ReserveLine, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		lines = append(lines, ReserveLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	o, err := s.repo.ReserveAndCreate(ctx, ReserveParams{
		UserID:          in.UserID,
		Lines:           lines,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		Gateway:         s.gateway.Name(),
	})
	if err != nil {
		return nil, err
	}

	log = log.With(zap.Int64("order_id", o.ID))

	callbackURL, err := s.callbackURL(o)
	if err != nil {
		s.compensate(ctx, o, "invalid callback url")
		return nil, err
	}

	// No row locks are held past this point.
	sess, err := s.gateway.Initialize(ctx, payment.InitRequest{
		OrderID:     o.ID,
		Amount:      o.TotalAmount,
		Description: "Order #" + strconv.FormatInt(o.ID, 10),
		Contact:     in.Contact,
		CallbackURL: callbackURL,
	})
	if err != nil {
		log.Error("gateway initialization failed", zap.Error(err))
		s.compensate(ctx, o, "gateway initialization failed: "+err.Error())
		return nil, err
	}

	if err := s.repo.AttachGatewaySession(ctx, o.ID, sess.Handle); err != nil {
		log.Error("failed to record gateway session", zap.Error(err))
		s.compensate(ctx, o, "failed to record gateway session")
		return nil, err
	}
	o.GatewayHandle = &sess.Handle
	o.SettlementState = SettlementGatewayPending

	if err := s.carts.Clear(ctx, in.UserID); err != nil {
		log.Warn("failed to clear cart after checkout", zap.Error(err))
	}

	s.publish(ctx, events.OrderPlaced, o, "")

	log.Info("checkout completed",
		zap.String("total", o.TotalAmount.String()),
		zap.String("gateway", o.Gateway),
		zap.Duration("duration", time.Since(start)),
	)

	return &CheckoutResult{Order: o, RedirectURL: sess.RedirectURL}, nil
}

func (s *service) callbackURL(o *Order) (string, error) {
	u, err := url.Parse(s.settings.CallbackBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse callback base url: %w", err)
	}
	q := u.Query()
	q.Set("order_id", strconv.FormatInt(o.ID, 10))
	q.Set("amount", o.TotalAmount.StringFixed(2))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// compensate releases a reservation that never reached gateway_pending. It
// runs detached from the request so a timed-out request still restores stock.
func (s *service) compensate(ctx context.Context, o *Order, reason string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "compensate"),
		zap.Int64("order_id", o.ID),
	)

	if _, err := s.repo.Release(cctx, o.ID, reason); err != nil {
		log.Error("failed to release reservation", zap.Error(err))
		return
	}
	log.Info("reservation released", zap.String("reason", reason))
}

func (s *service) HandleCallback(ctx context.Context, cb Callback) (*SettlementResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "HandleCallback"),
		zap.Int64("order_id", cb.OrderID),
	)

	if cb.OrderID <= 0 || cb.Handle == "" {
		return nil, fmt.Errorf("%w: order id and payment handle are required", ErrInvalidInput)
	}

	o, err := s.repo.Get(ctx, cb.OrderID)
	if err != nil {
		return nil, err
	}

	if o.PaymentStatus == PaymentCompleted {
		log.Info("duplicate callback for settled order")
		return settled(o, true), nil
	}
	if !awaitingPayment(o) {
		return nil, ErrNotPending
	}

	if o.GatewayHandle == nil || *o.GatewayHandle != cb.Handle {
		log.Warn("callback handle does not match order", zap.String("handle", cb.Handle))
		return nil, ErrHandleMismatch
	}

	if !cb.Amount.Equal(o.TotalAmount) {
		reason := fmt.Sprintf("callback amount %s does not match order total %s",
			cb.Amount.String(), o.TotalAmount.String())
		log.Warn("amount mismatch on callback", zap.String("reason", reason))

		flagged, err := s.repo.FlagIntegrity(ctx, o.ID, reason)
		if err != nil {
			log.Error("failed to flag order", zap.Error(err))
		} else {
			s.publish(ctx, events.OrderFlagged, flagged, reason)
		}
		return nil, fmt.Errorf("%w: %s", ErrAmountMismatch, reason)
	}

	if !cb.PayerAbandoned() && !cb.Confirmed() {
		log.Warn("callback carries no payment confirmation", zap.String("status", cb.Status))
		return nil, fmt.Errorf("%w: %w: provider status %q", ErrVerificationFailed, ErrUnconfirmedCallback, cb.Status)
	}

	claimed, won, err := s.repo.ClaimVerification(ctx, o.ID, s.settings.VerifyStaleAfter)
	if err != nil {
		return nil, err
	}
	if !won {
		if claimed.PaymentStatus == PaymentCompleted {
			return settled(claimed, true), nil
		}
		if !awaitingPayment(claimed) {
			return nil, ErrNotPending
		}
		log.Info("verification already claimed by another callback")
		return nil, ErrVerificationInProgress
	}

	if cb.PayerAbandoned() {
		return nil, s.fail(ctx, o.ID, "payer did not complete payment at gateway", nil)
	}

	v, err := s.gateway.Verify(ctx, cb.Handle, o.TotalAmount)
	if err != nil {
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			log.Warn("gateway unavailable during verification, claim released", zap.Error(err))
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
			defer cancel()
			if relErr := s.repo.ReleaseVerification(cctx, o.ID); relErr != nil {
				log.Error("failed to release verification claim", zap.Error(relErr))
			}
			return nil, err
		}
		return nil, s.fail(ctx, o.ID, "gateway refused verification: "+err.Error(), err)
	}

	final, err := s.repo.FinalizePayment(ctx, o.ID, v.Reference)
	if errors.Is(err, ErrAlreadySettled) {
		return settled(final, true), nil
	}
	if err != nil {
		// The provider has captured the payment; the claim stays in verifying
		// and a later callback takes it over once it goes stale.
		log.Error("verified payment could not be recorded",
			zap.String("reference", v.Reference),
			zap.Error(err),
		)
		return nil, err
	}

	s.publish(ctx, events.OrderSettled, final, "")

	log.Info("payment settled", zap.String("reference", v.Reference))
	return settled(final, false), nil
}

func awaitingPayment(o *Order) bool {
	return o.PaymentStatus == PaymentPending &&
		o.SettlementState != SettlementFailed &&
		o.SettlementState != SettlementCancelled
}

func settled(o *Order, already bool) *SettlementResult {
	return &SettlementResult{
		Order:          o,
		Reference:      utils.PtrString(o.TransactionID),
		AlreadySettled: already,
	}
}

// fail records a terminal payment failure and returns the error the caller
// should surface.
func (s *service) fail(ctx context.Context, orderID int64, reason string, cause error) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.Int64("order_id", orderID),
	)

	o, err := s.repo.MarkPaymentFailed(ctx, orderID, reason)
	switch {
	case errors.Is(err, ErrAlreadySettled):
		log.Warn("payment failure reported for settled order")
	case err != nil:
		log.Error("failed to record payment failure", zap.Error(err))
	default:
		s.publish(ctx, events.OrderPaymentFailed, o, reason)
	}

	log.Info("payment failed", zap.String("reason", reason))
	if cause != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, cause)
	}
	return fmt.Errorf("%w: %s", ErrVerificationFailed, reason)
}

func (s *service) Cancel(ctx context.Context, userID, orderID int64) (*Order, error) {
	if _, err := s.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}

	o, err := s.repo.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.OrderCancelled, o, "")
	return o, nil
}

// GetOrder scopes lookups to the owner unless the caller is an admin.
func (s *service) GetOrder(ctx context.Context, userID, orderID int64) (*Order, error) {
	if utils.IsAdmin(ctx) {
		return s.repo.Get(ctx, orderID)
	}
	return s.repo.GetForUser(ctx, orderID, userID)
}

func (s *service) ListOrders(ctx context.Context, userID int64, opts ListOptions) ([]*Order, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	} else if opts.Limit > 100 {
		opts.Limit = 100
	}

	return s.repo.ListByUser(ctx, userID, opts.Limit, (opts.Page-1)*opts.Limit)
}

func (s *service) UpdateFulfillment(ctx context.Context, orderID int64, status Status) (*Order, error) {
	if status != StatusShipped && status != StatusDelivered {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransition, status)
	}

	o, err := s.repo.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.OrderStatusChanged, o, "")
	return o, nil
}

// publish never fails the caller; the order row is the source of truth.
func (s *service) publish(ctx context.Context, t events.Type, o *Order, reason string) {
	if o == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.Event{
		Type:          t,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Amount:        o.TotalAmount,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Reference:     utils.PtrString(o.TransactionID),
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		logger.FromCtx(ctx).Warn("failed to publish order event",
			zap.String("type", string(t)),
			zap.Int64("order_id", o.ID),
			zap.Error(err),
		)
	}
}
