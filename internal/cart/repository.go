package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-checkout/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	GetCartLines(ctx context.Context, userID int64) ([]Line, error)
	UpsertItem(ctx context.Context, params AddItemParams) (*Line, error)
	UpdateQuantity(ctx context.Context, userID, productID int64, quantity int) (*Line, error)
	RemoveItem(ctx context.Context, userID, productID int64) error
	ClearCart(ctx context.Context, userID int64) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const lineColumns = `id, user_id, product_id, quantity, created_at, updated_at`

func scanLine(row interface{ Scan(...any) error }) (*Line, error) {
	var l Line
	if err := row.Scan(&l.ID, &l.UserID, &l.ProductID, &l.Quantity, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// GetCartLines returns the user's cart in insertion order.
func (r *repository) GetCartLines(ctx context.Context, userID int64) ([]Line, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetCartLines"),
		zap.Int64("user_id", userID),
	)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM cart_items
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		log.Error("failed to query cart lines", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCartLines, err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			log.Error("failed to scan cart line", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrFailedGetCartLines, err)
		}
		lines = append(lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCartLines, err)
	}

	log.Debug("cart lines loaded", zap.Int("count", len(lines)))
	return lines, nil
}

// UpsertItem adds quantity to an existing line or creates it.
func (r *repository) UpsertItem(ctx context.Context, params AddItemParams) (*Line, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "UpsertItem"),
		zap.Int64("user_id", params.UserID),
		zap.Int64("product_id", params.ProductID),
	)

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
		              updated_at = NOW()
		RETURNING `+lineColumns,
		params.UserID, params.ProductID, params.Quantity,
	)

	l, err := scanLine(row)
	if err != nil {
		log.Error("failed to upsert cart item", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrFailedUpsertCart, err)
	}

	log.Info("cart item saved", zap.Int("quantity", l.Quantity))
	return l, nil
}

func (r *repository) UpdateQuantity(ctx context.Context, userID, productID int64, quantity int) (*Line, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE cart_items
		SET quantity = $1, updated_at = NOW()
		WHERE user_id = $2 AND product_id = $3
		RETURNING `+lineColumns,
		quantity, userID, productID,
	)

	l, err := scanLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedUpsertCart, err)
	}
	return l, nil
}

func (r *repository) RemoveItem(ctx context.Context, userID, productID int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE user_id = $1 AND product_id = $2
	`, userID, productID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedRemoveCart, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedRemoveCart, err)
	}
	if affected == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

// ClearCart is idempotent; clearing an empty cart is not an error.
func (r *repository) ClearCart(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		logger.FromCtx(ctx).Error("failed to clear cart",
			zap.String("layer", "repository"),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrFailedClearCart, err)
	}
	return nil
}
