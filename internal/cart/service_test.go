package cart

import (
	"context"
	"errors"
	"testing"

	"storefront-checkout/internal/product"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetCartLines(ctx context.Context, userID int64) ([]Line, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Line), args.Error(1)
}

func (m *MockRepository) UpsertItem(ctx context.Context, params AddItemParams) (*Line, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Line), args.Error(1)
}

func (m *MockRepository) UpdateQuantity(ctx context.Context, userID, productID int64, quantity int) (*Line, error) {
	args := m.Called(ctx, userID, productID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Line), args.Error(1)
}

func (m *MockRepository) RemoveItem(ctx context.Context, userID, productID int64) error {
	return m.Called(ctx, userID, productID).Error(0)
}

func (m *MockRepository) ClearCart(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetForCheckout(ctx context.Context, ids []int64) (map[int64]product.CheckoutProduct, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]product.CheckoutProduct), args.Error(1)
}

func (m *MockProductRepository) GetByID(ctx context.Context, id int64, onlyActive bool) (*product.Product, error) {
	args := m.Called(ctx, id, onlyActive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Product), args.Error(1)
}

func (m *MockProductRepository) List(ctx context.Context, opts product.ListOptions) ([]*product.Product, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*product.Product), args.Error(1)
}

// --- Helpers ---

func setupService() (Service, *MockRepository, *MockProductRepository) {
	repo := new(MockRepository)
	productRepo := new(MockProductRepository)
	return NewService(repo, productRepo), repo, productRepo
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- Tests ---

func TestService_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("PricesLinesAgainstCatalog", func(t *testing.T) {
		svc, repo, productRepo := setupService()

		repo.On("GetCartLines", ctx, int64(1)).Return([]Line{
			{ProductID: 10, Quantity: 2},
			{ProductID: 11, Quantity: 1},
		}, nil)
		productRepo.On("GetForCheckout", ctx, []int64{10, 11}).Return(map[int64]product.CheckoutProduct{
			10: {ID: 10, Name: "Mug", Price: price("10.00"), StockQuantity: 5, IsActive: true},
			11: {ID: 11, Name: "Tea", Price: price("4.25"), StockQuantity: 1, IsActive: true},
		}, nil)

		snap, err := svc.Snapshot(ctx, 1)
		require.NoError(t, err)
		require.Len(t, snap.Lines, 2)
		assert.Equal(t, "Mug", snap.Lines[0].Name)
		assert.True(t, snap.Total().Equal(price("24.25")), snap.Total().String())
		repo.AssertExpectations(t)
		productRepo.AssertExpectations(t)
	})

	t.Run("EmptyCart", func(t *testing.T) {
		svc, repo, productRepo := setupService()
		repo.On("GetCartLines", ctx, int64(1)).Return([]Line{}, nil)

		_, err := svc.Snapshot(ctx, 1)
		assert.ErrorIs(t, err, ErrEmptyCart)
		productRepo.AssertNotCalled(t, "GetForCheckout", mock.Anything, mock.Anything)
	})

	t.Run("InactiveProduct", func(t *testing.T) {
		svc, repo, productRepo := setupService()
		repo.On("GetCartLines", ctx, int64(1)).Return([]Line{{ProductID: 10, Quantity: 1}}, nil)
		productRepo.On("GetForCheckout", ctx, []int64{10}).Return(map[int64]product.CheckoutProduct{
			10: {ID: 10, Price: price("1"), IsActive: false},
		}, nil)

		_, err := svc.Snapshot(ctx, 1)
		assert.ErrorIs(t, err, ErrProductUnavailable)
		assert.Contains(t, err.Error(), "product 10")
	})

	t.Run("MissingProduct", func(t *testing.T) {
		svc, repo, productRepo := setupService()
		repo.On("GetCartLines", ctx, int64(1)).Return([]Line{{ProductID: 12, Quantity: 1}}, nil)
		productRepo.On("GetForCheckout", ctx, []int64{12}).Return(map[int64]product.CheckoutProduct{}, nil)

		_, err := svc.Snapshot(ctx, 1)
		assert.ErrorIs(t, err, ErrProductUnavailable)
	})

	t.Run("NonPositiveQuantity", func(t *testing.T) {
		svc, repo, _ := setupService()
		repo.On("GetCartLines", ctx, int64(1)).Return([]Line{{ProductID: 10, Quantity: 0}}, nil)

		_, err := svc.Snapshot(ctx, 1)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("RepoError", func(t *testing.T) {
		svc, repo, _ := setupService()
		repo.On("GetCartLines", ctx, int64(1)).Return(nil, ErrFailedGetCartLines)

		_, err := svc.Snapshot(ctx, 1)
		assert.ErrorIs(t, err, ErrFailedGetCartLines)
	})
}

func TestService_AddItem(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		svc, repo, productRepo := setupService()
		params := AddItemParams{UserID: 1, ProductID: 10, Quantity: 2}

		productRepo.On("GetForCheckout", ctx, []int64{10}).Return(map[int64]product.CheckoutProduct{
			10: {ID: 10, IsActive: true},
		}, nil)
		repo.On("UpsertItem", ctx, params).Return(&Line{ID: 1, ProductID: 10, Quantity: 2}, nil)

		l, err := svc.AddItem(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, 2, l.Quantity)
	})

	t.Run("InvalidQuantity", func(t *testing.T) {
		svc, _, _ := setupService()
		_, err := svc.AddItem(ctx, AddItemParams{UserID: 1, ProductID: 10, Quantity: 0})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("UnknownProduct", func(t *testing.T) {
		svc, repo, productRepo := setupService()
		productRepo.On("GetForCheckout", ctx, []int64{99}).Return(map[int64]product.CheckoutProduct{}, nil)

		_, err := svc.AddItem(ctx, AddItemParams{UserID: 1, ProductID: 99, Quantity: 1})
		assert.ErrorIs(t, err, ErrProductUnavailable)
		repo.AssertNotCalled(t, "UpsertItem", mock.Anything, mock.Anything)
	})

	t.Run("CatalogError", func(t *testing.T) {
		svc, _, productRepo := setupService()
		productRepo.On("GetForCheckout", ctx, []int64{10}).Return(nil, errors.New("db error"))

		_, err := svc.AddItem(ctx, AddItemParams{UserID: 1, ProductID: 10, Quantity: 1})
		assert.EqualError(t, err, "db error")
	})
}

func TestService_UpdateQuantity(t *testing.T) {
	ctx := context.Background()

	t.Run("ZeroRemoves", func(t *testing.T) {
		svc, repo, _ := setupService()
		repo.On("RemoveItem", ctx, int64(1), int64(10)).Return(nil)

		l, err := svc.UpdateQuantity(ctx, 1, 10, 0)
		assert.NoError(t, err)
		assert.Nil(t, l)
		repo.AssertExpectations(t)
	})

	t.Run("Negative", func(t *testing.T) {
		svc, _, _ := setupService()
		_, err := svc.UpdateQuantity(ctx, 1, 10, -1)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("Sets", func(t *testing.T) {
		svc, repo, _ := setupService()
		repo.On("UpdateQuantity", ctx, int64(1), int64(10), 3).Return(&Line{Quantity: 3}, nil)

		l, err := svc.UpdateQuantity(ctx, 1, 10, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, l.Quantity)
	})
}

func TestService_Clear(t *testing.T) {
	svc, repo, _ := setupService()
	repo.On("ClearCart", mock.Anything, int64(1)).Return(nil)

	assert.NoError(t, svc.Clear(context.Background(), 1))
	repo.AssertExpectations(t)
}
