package cart

import (
	"context"
	"fmt"

	"storefront-checkout/internal/logger"
	"storefront-checkout/internal/product"

	"go.uber.org/zap"
)

// Service defines the business logic for carts.
type Service interface {
	AddItem(ctx context.Context, params AddItemParams) (*Line, error)
	UpdateQuantity(ctx context.Context, userID, productID int64, quantity int) (*Line, error)
	RemoveItem(ctx context.Context, userID, productID int64) error
	Snapshot(ctx context.Context, userID int64) (*Snapshot, error)
	Clear(ctx context.Context, userID int64) error
}

type service struct {
	repo        Repository
	productRepo product.Repository
}

func NewService(repo Repository, productRepo product.Repository) Service {
	return &service{repo: repo, productRepo: productRepo}
}

// AddItem checks the product is purchasable before touching the cart. Stock
// is only advisory here; the reservation at checkout is authoritative.
func (s *service) AddItem(ctx context.Context, params AddItemParams) (*Line, error) {
	if params.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	products, err := s.productRepo.GetForCheckout(ctx, []int64{params.ProductID})
	if err != nil {
		return nil, err
	}
	p, ok := products[params.ProductID]
	if !ok || !p.IsActive {
		return nil, fmt.Errorf("%w: product %d", ErrProductUnavailable, params.ProductID)
	}

	return s.repo.UpsertItem(ctx, params)
}

// UpdateQuantity sets an absolute quantity; zero removes the line.
func (s *service) UpdateQuantity(ctx context.Context, userID, productID int64, quantity int) (*Line, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if quantity == 0 {
		return nil, s.repo.RemoveItem(ctx, userID, productID)
	}
	return s.repo.UpdateQuantity(ctx, userID, productID, quantity)
}

func (s *service) RemoveItem(ctx context.Context, userID, productID int64) error {
	return s.repo.RemoveItem(ctx, userID, productID)
}

// Snapshot prices the user's cart against the current catalog. It never
// mutates anything.
func (s *service) Snapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Snapshot"),
		zap.Int64("user_id", userID),
	)

	lines, err := s.repo.GetCartLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d", ErrInvalidQuantity, l.ProductID)
		}
		ids = append(ids, l.ProductID)
	}

	products, err := s.productRepo.GetForCheckout(ctx, ids)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{UserID: userID, Lines: make([]SnapshotLine, 0, len(lines))}
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.IsActive {
			log.Warn("cart references unavailable product", zap.Int64("product_id", l.ProductID))
			return nil, fmt.Errorf("%w: product %d", ErrProductUnavailable, l.ProductID)
		}
		snap.Lines = append(snap.Lines, SnapshotLine{
			ProductID: l.ProductID,
			Name:      p.Name,
			Quantity:  l.Quantity,
			UnitPrice: p.Price,
		})
	}

	log.Debug("cart snapshot taken",
		zap.Int("lines", len(snap.Lines)),
		zap.String("total", snap.Total().String()),
	)
	return snap, nil
}

func (s *service) Clear(ctx context.Context, userID int64) error {
	return s.repo.ClearCart(ctx, userID)
}
