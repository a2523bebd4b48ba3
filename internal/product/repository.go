package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-checkout/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	GetForCheckout(ctx context.Context, ids []int64) (map[int64]CheckoutProduct, error)
	GetByID(ctx context.Context, id int64, onlyActive bool) (*Product, error)
	List(ctx context.Context, opts ListOptions) ([]*Product, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// GetForCheckout loads every requested product in one round trip. Missing ids
// are simply absent from the result.
func (r *repository) GetForCheckout(
	ctx context.Context,
	ids []int64,
) (map[int64]CheckoutProduct, error) {

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetForCheckout"),
		zap.Int("id_count", len(ids)),
	)

	out := make(map[int64]CheckoutProduct, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, stock_quantity, is_active
		FROM products
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		log.Error("failed to query checkout products", zap.Error(err))
		return nil, fmt.Errorf("get checkout products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p CheckoutProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity, &p.IsActive); err != nil {
			log.Error("failed to scan checkout product", zap.Error(err))
			return nil, fmt.Errorf("scan checkout product: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		log.Error("rows iteration error", zap.Error(err))
		return nil, err
	}

	log.Debug("checkout products loaded", zap.Int("found", len(out)))
	return out, nil
}

func (r *repository) GetByID(ctx context.Context, id int64, onlyActive bool) (*Product, error) {
	query := `
		SELECT id, name, description, price, stock_quantity, is_active, created_at, updated_at
		FROM products
		WHERE id = $1
	`
	if onlyActive {
		query += " AND is_active = TRUE"
	}

	var p Product
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.StockQuantity,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to get product",
			zap.String("layer", "repository"),
			zap.Int64("product_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	return &p, nil
}

func (r *repository) List(ctx context.Context, opts ListOptions) ([]*Product, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "List"),
	)

	query := `
		SELECT id, name, description, price, stock_quantity, is_active, created_at, updated_at
		FROM products
		WHERE 1=1
	`
	args := []any{}
	argIndex := 1

	if opts.OnlyActive {
		query += " AND is_active = TRUE"
	}
	if opts.Search != nil && *opts.Search != "" {
		query += fmt.Sprintf(" AND name ILIKE $%d", argIndex)
		args = append(args, "%"+*opts.Search+"%")
		argIndex++
	}
	if opts.InStock != nil {
		if *opts.InStock {
			query += " AND stock_quantity > 0"
		} else {
			query += " AND stock_quantity = 0"
		}
	}

	offset := (opts.Page - 1) * opts.Limit
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, opts.Limit, offset)

	log.Debug("executing product list query", zap.Any("args", args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query products", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	products := []*Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Description,
			&p.Price,
			&p.StockQuantity,
			&p.IsActive,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			log.Error("failed to scan product row", zap.Error(err))
			return nil, err
		}
		products = append(products, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}
