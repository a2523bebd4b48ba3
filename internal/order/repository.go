package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"storefront-checkout/internal/logger"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const pgCheckViolation = "23514"

// Repository is the order store. Every mutation that reads state before
// writing it does so under a row lock on the order.
type Repository interface {
	ReserveAndCreate(ctx context.Context, params ReserveParams) (*Order, error)
	AttachGatewaySession(ctx context.Context, orderID int64, handle string) error

	Get(ctx context.Context, orderID int64) (*Order, error)
	GetForUser(ctx context.Context, orderID, userID int64) (*Order, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int32) ([]*Order, error)

	ClaimVerification(ctx context.Context, orderID int64, staleAfter time.Duration) (*Order, bool, error)
	ReleaseVerification(ctx context.Context, orderID int64) error
	FinalizePayment(ctx context.Context, orderID int64, reference string) (*Order, error)
	MarkPaymentFailed(ctx context.Context, orderID int64, reason string) (*Order, error)
	FlagIntegrity(ctx context.Context, orderID int64, reason string) (*Order, error)

	Cancel(ctx context.Context, orderID int64) (*Order, error)
	Release(ctx context.Context, orderID int64, reason string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status Status) (*Order, error)
}

type repository struct {
	db      *sql.DB
	now     func() time.Time
	timeout time.Duration
}

// NewRepository bounds every store call, including the wait for row locks,
// by timeout. A non-positive timeout falls back to defaultStoreTimeout.
func NewRepository(db *sql.DB, timeout time.Duration) Repository {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &repository{db: db, now: time.Now, timeout: timeout}
}

const defaultStoreTimeout = 5 * time.Second

func (r *repository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

const orderColumns = `id, user_id, total_amount, status, shipping_address, payment_method,
	payment_status, transaction_id, gateway, gateway_handle, settlement_state,
	failure_reason, verifying_since, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.TotalAmount,
		&o.Status,
		&o.ShippingAddress,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&o.TransactionID,
		&o.Gateway,
		&o.GatewayHandle,
		&o.SettlementState,
		&o.FailureReason,
		&o.VerifyingSince,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// withTx runs fn in a transaction and commits only if fn succeeds.
func (r *repository) withTx(ctx context.Context, method string, fn func(tx *sql.Tx) error) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", method),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return storeUnavailable(method, err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit transaction", zap.Error(err))
		return storeUnavailable(method, err)
	}
	committed = true
	return nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, orderID int64) (*Order, error) {
	o, err := scanOrder(tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, storeUnavailable("lock order", err)
	}
	return o, nil
}

// ReserveAndCreate decrements stock for every line and creates the order in
// one transaction. Product rows are locked in ascending id order so two
// checkouts over overlapping products can never deadlock.
func (r *repository) ReserveAndCreate(ctx context.Context, params ReserveParams) (*Order, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ReserveAndCreate"),
		zap.Int64("user_id", params.UserID),
		zap.Int("line_count", len(params.Lines)),
	)

	if len(params.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	qty := make(map[int64]int, len(params.Lines))
	ids := make([]int64, 0, len(params.Lines))
	for _, l := range params.Lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %d must be positive", ErrInvalidInput, l.ProductID)
		}
		if _, seen := qty[l.ProductID]; !seen {
			ids = append(ids, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}
	slices.Sort(ids)

	log.Debug("starting reservation transaction")

	var created *Order
	err := r.withTx(ctx, "ReserveAndCreate", func(tx *sql.Tx) error {
		items := make([]Item, 0, len(ids))
		total := decimal.Zero

		for _, id := range ids {
			var (
				name   string
				price  decimal.Decimal
				stock  int
				active bool
			)
			err := tx.QueryRowContext(ctx, `
				SELECT name, price, stock_quantity, is_active
				FROM products
				WHERE id = $1
				FOR UPDATE
			`, id).Scan(&name, &price, &stock, &active)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: product %d", ErrProductUnavailable, id)
			}
			if err != nil {
				return storeUnavailable("lock product", err)
			}
			if !active {
				return fmt.Errorf("%w: product %d", ErrProductUnavailable, id)
			}
			if stock < qty[id] {
				return &InsufficientStockError{ProductID: id, Requested: qty[id], Available: stock}
			}

			if _, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock_quantity = stock_quantity - $1, updated_at = NOW()
				WHERE id = $2
			`, qty[id], id); err != nil {
				var pqErr *pq.Error
				if errors.As(err, &pqErr) && pqErr.Code == pgCheckViolation {
					return &InsufficientStockError{ProductID: id, Requested: qty[id], Available: stock}
				}
				return storeUnavailable("decrement stock", err)
			}

			item := Item{ProductID: id, ProductName: name, Quantity: qty[id], Price: price}
			total = total.Add(item.Subtotal())
			items = append(items, item)
		}

		o := &Order{
			UserID:          params.UserID,
			TotalAmount:     total,
			Status:          StatusPending,
			ShippingAddress: params.ShippingAddress,
			PaymentMethod:   params.PaymentMethod,
			PaymentStatus:   PaymentPending,
			Gateway:         params.Gateway,
			SettlementState: SettlementReserved,
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO orders (
				user_id, total_amount, status, shipping_address,
				payment_method, payment_status, gateway, settlement_state
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id, created_at, updated_at
		`,
			o.UserID,
			o.TotalAmount,
			o.Status,
			o.ShippingAddress,
			o.PaymentMethod,
			o.PaymentStatus,
			o.Gateway,
			o.SettlementState,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return storeUnavailable("insert order", err)
		}

		for i := range items {
			items[i].OrderID = o.ID
			err := tx.QueryRowContext(ctx, `
				INSERT INTO order_items (order_id, product_id, product_name, quantity, price)
				VALUES ($1,$2,$3,$4,$5)
				RETURNING id
			`,
				o.ID,
				items[i].ProductID,
				items[i].ProductName,
				items[i].Quantity,
				items[i].Price,
			).Scan(&items[i].ID)
			if err != nil {
				return storeUnavailable("insert order item", err)
			}
		}

		o.Items = items
		created = o
		return nil
	})
	if err != nil {
		log.Warn("reservation aborted", zap.Error(err))
		return nil, err
	}

	log.Info("order reserved",
		zap.Int64("order_id", created.ID),
		zap.String("total", created.TotalAmount.String()),
	)
	return created, nil
}

func (r *repository) AttachGatewaySession(ctx context.Context, orderID int64, handle string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET gateway_handle = $1, settlement_state = $2, updated_at = NOW()
		WHERE id = $3 AND settlement_state = $4
	`, handle, SettlementGatewayPending, orderID, SettlementReserved)
	if err != nil {
		return storeUnavailable("attach gateway session", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storeUnavailable("attach gateway session", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: order %d is not awaiting a gateway session", ErrNotPending, orderID)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, orderID int64) (*Order, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	o, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, storeUnavailable("get order", err)
	}

	if o.Items, err = r.loadItems(ctx, orderID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) GetForUser(ctx context.Context, orderID, userID int64) (*Order, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	o, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND user_id = $2
	`, orderID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, storeUnavailable("get order", err)
	}

	if o.Items, err = r.loadItems(ctx, orderID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) loadItems(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, storeUnavailable("load order items", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price); err != nil {
			return nil, storeUnavailable("scan order item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("load order items", err)
	}
	return items, nil
}

func (r *repository) ListByUser(ctx context.Context, userID int64, limit, offset int32) ([]*Order, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ListByUser"),
		zap.Int32("limit", limit),
		zap.Int32("offset", offset),
	)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		log.Error("failed to query orders", zap.Error(err))
		return nil, storeUnavailable("list orders", err)
	}
	defer rows.Close()

	orders := []*Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			log.Error("failed to scan order row", zap.Error(err))
			return nil, storeUnavailable("list orders", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		log.Error("rows iteration error", zap.Error(err))
		return nil, storeUnavailable("list orders", err)
	}

	log.Debug("list orders success", zap.Int("count", len(orders)))
	return orders, nil
}

func claimable(o *Order, now time.Time, staleAfter time.Duration) bool {
	if o.PaymentStatus != PaymentPending {
		return false
	}
	switch o.SettlementState {
	case SettlementGatewayPending:
		return true
	case SettlementVerifying:
		// A claim older than staleAfter belongs to a verification that died.
		return o.VerifyingSince == nil || now.Sub(*o.VerifyingSince) >= staleAfter
	default:
		return false
	}
}

// ClaimVerification moves the order into verifying under its row lock. The
// returned bool reports whether this caller won the claim; the order is the
// state observed under the lock either way.
func (r *repository) ClaimVerification(ctx context.Context, orderID int64, staleAfter time.Duration) (*Order, bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var (
		current *Order
		claimed bool
	)

	err := r.withTx(ctx, "ClaimVerification", func(tx *sql.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		current = o

		now := r.now()
		if !claimable(o, now, staleAfter) {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET settlement_state = $1, verifying_since = $2, updated_at = NOW()
			WHERE id = $3
		`, SettlementVerifying, now, orderID); err != nil {
			return storeUnavailable("claim verification", err)
		}

		o.SettlementState = SettlementVerifying
		o.VerifyingSince = &now
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return current, claimed, nil
}

func (r *repository) ReleaseVerification(ctx context.Context, orderID int64) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET settlement_state = $1, verifying_since = NULL, updated_at = NOW()
		WHERE id = $2 AND settlement_state = $3 AND payment_status = $4
	`, SettlementGatewayPending, orderID, SettlementVerifying, PaymentPending)
	if err != nil {
		return storeUnavailable("release verification", err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		logger.FromCtx(ctx).Warn("verification claim already released",
			zap.String("layer", "repository"),
			zap.Int64("order_id", orderID),
		)
	}
	return nil
}

// FinalizePayment records a verified payment. A second call for an order that
// is already completed returns the stored order together with
// ErrAlreadySettled.
func (r *repository) FinalizePayment(ctx context.Context, orderID int64, reference string) (*Order, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var current *Order

	err := r.withTx(ctx, "FinalizePayment", func(tx *sql.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		current = o

		if o.PaymentStatus == PaymentCompleted {
			return ErrAlreadySettled
		}
		if o.PaymentStatus != PaymentPending {
			return ErrNotPending
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET payment_status = $1,
			    transaction_id = $2,
			    status = $3,
			    settlement_state = $4,
			    verifying_since = NULL,
			    failure_reason = NULL,
			    updated_at = NOW()
			WHERE id = $5
		`, PaymentCompleted, reference, StatusProcessing, SettlementSettled, orderID); err != nil {
			return storeUnavailable("finalize payment", err)
		}

		o.PaymentStatus = PaymentCompleted
		o.TransactionID = &reference
		o.Status = StatusProcessing
		o.SettlementState = SettlementSettled
		o.VerifyingSince = nil
		o.FailureReason = nil
		return nil
	})
	if errors.Is(err, ErrAlreadySettled) {
		return current, err
	}
	if err != nil {
		return nil, err
	}

	logger.FromCtx(ctx).Info("payment finalized",
		zap.String("layer", "repository"),
		zap.Int64("order_id", orderID),
		zap.String("reference", reference),
	)
	return current, nil
}

// MarkPaymentFailed is terminal for this order's payment. Stock stays
// reserved until the order is cancelled.
func (r *repository) MarkPaymentFailed(ctx context.Context, orderID int64, reason string) (*Order, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var current *Order

	err := r.withTx(ctx, "MarkPaymentFailed", func(tx *sql.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		current = o

		if o.PaymentStatus == PaymentCompleted {
			return ErrAlreadySettled
		}
		if o.PaymentStatus != PaymentPending {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET payment_status = $1,
			    settlement_state = $2,
			    failure_reason = $3,
			    verifying_since = NULL,
			    updated_at = NOW()
			WHERE id = $4
		`, PaymentFailed, SettlementFailed, reason, orderID); err != nil {
			return storeUnavailable("mark payment failed", err)
		}

		o.PaymentStatus = PaymentFailed
		o.SettlementState = SettlementFailed
		o.FailureReason = &reason
		o.VerifyingSince = nil
		return nil
	})
	if err != nil {
		return current, err
	}
	return current, nil
}

// FlagIntegrity parks an order for manual reconciliation. The payment leg
// stays pending because money may have moved.
func (r *repository) FlagIntegrity(ctx context.Context, orderID int64, reason string) (*Order, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var current *Order

	err := r.withTx(ctx, "FlagIntegrity", func(tx *sql.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		current = o

		if o.PaymentStatus != PaymentPending {
			return ErrNotPending
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET settlement_state = $1, failure_reason = $2, updated_at = NOW()
			WHERE id = $3
		`, SettlementFailed, reason, orderID); err != nil {
			return storeUnavailable("flag integrity", err)
		}

		o.SettlementState = SettlementFailed
		o.FailureReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromCtx(ctx).Warn("order flagged for reconciliation",
		zap.String("layer", "repository"),
		zap.Int64("order_id", orderID),
		zap.String("reason", reason),
	)
	return current, nil
}

// Cancel is the user-initiated cancellation.
func (r *repository) Cancel(ctx context.Context, orderID int64) (*Order, error) {
	return r.restock(ctx, "Cancel", orderID, SettlementCancelled, nil)
}

// Release undoes a reservation whose gateway handshake never completed.
func (r *repository) Release(ctx context.Context, orderID int64, reason string) (*Order, error) {
	return r.restock(ctx, "Release", orderID, SettlementFailed, &reason)
}

func (r *repository) restock(
	ctx context.Context,
	method string,
	orderID int64,
	final SettlementState,
	reason *string,
) (*Order, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var current *Order

	err := r.withTx(ctx, method, func(tx *sql.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		current = o

		if o.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		if o.Status != StatusPending ||
			o.PaymentStatus == PaymentCompleted ||
			o.PaymentStatus == PaymentRefunded ||
			o.SettlementState == SettlementVerifying ||
			o.Flagged() {
			return ErrNotCancellable
		}

		lines, err := lockedItems(ctx, tx, orderID)
		if err != nil {
			return err
		}

		// Same ascending product order as the reservation.
		for _, l := range lines {
			if _, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock_quantity = stock_quantity + $1, updated_at = NOW()
				WHERE id = $2
			`, l.Quantity, l.ProductID); err != nil {
				return storeUnavailable("restore stock", err)
			}
		}

		paymentStatus := o.PaymentStatus
		if paymentStatus == PaymentPending {
			paymentStatus = PaymentFailed
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1,
			    payment_status = $2,
			    settlement_state = $3,
			    failure_reason = COALESCE($4, failure_reason),
			    verifying_since = NULL,
			    updated_at = NOW()
			WHERE id = $5
		`, StatusCancelled, paymentStatus, final, reason, orderID); err != nil {
			return storeUnavailable("cancel order", err)
		}

		o.Status = StatusCancelled
		o.PaymentStatus = paymentStatus
		o.SettlementState = final
		if reason != nil {
			o.FailureReason = reason
		}
		o.VerifyingSince = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromCtx(ctx).Info("order cancelled and stock restored",
		zap.String("layer", "repository"),
		zap.String("method", method),
		zap.Int64("order_id", orderID),
	)
	return current, nil
}

func lockedItems(ctx context.Context, tx *sql.Tx, orderID int64) ([]ReserveLine, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, storeUnavailable("load order items", err)
	}
	defer rows.Close()

	var lines []ReserveLine
	for rows.Next() {
		var l ReserveLine
		if err := rows.Scan(&l.ProductID, &l.Quantity); err != nil {
			return nil, storeUnavailable("scan order item", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("load order items", err)
	}
	return lines, nil
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusProcessing:
		return to == StatusShipped
	case StatusShipped:
		return to == StatusDelivered
	default:
		return false
	}
}

func (r *repository) UpdateStatus(ctx context.Context, orderID int64, status Status) (*Order, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var current *Order

	err := r.withTx(ctx, "UpdateStatus", func(tx *sql.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		current = o

		if o.PaymentStatus != PaymentCompleted {
			return ErrPaymentNotCompleted
		}
		if !validTransition(o.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
		`, status, orderID); err != nil {
			return storeUnavailable("update order status", err)
		}

		o.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}
