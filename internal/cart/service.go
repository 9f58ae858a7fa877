package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
)

// Service manages the buyer's active cart. The cart is staging data only;
// prices and stock are resolved authoritatively at order creation.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.Cart, error)
}

type service struct {
	repo     CartRepository
	products productLoader
}

// NewService builds the cart service.
func NewService(repo CartRepository, products productLoader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	return &service{repo: repo, products: products}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	return s.getOrCreate(ctx, userID)
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeInactiveProduct, "product is no longer available")
	}

	record, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindItem(ctx, record.ID, productID)
	switch {
	case err == nil:
		merged := existing.Quantity + quantity
		if err := s.requireStock(product, merged); err != nil {
			return nil, err
		}
		if err := s.repo.UpdateItemQuantity(ctx, existing.ID, merged); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.requireStock(product, quantity); err != nil {
			return nil, err
		}
		item := &models.CartItem{
			CartID:    record.ID,
			ProductID: productID,
			Quantity:  quantity,
		}
		if _, err := s.repo.CreateItem(ctx, item); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart item")
		}
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
	}

	return s.repo.FindActiveByUser(ctx, userID)
}

func (s *service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id required")
	}

	record, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	removed, err := s.repo.DeleteItem(ctx, record.ID, itemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
	}
	if removed == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}

	return s.repo.FindActiveByUser(ctx, userID)
}

// requireStock is advisory only. The conditional reservation at order
// creation is the authoritative check; this keeps obviously unfillable lines
// out of the cart.
func (s *service) requireStock(product *models.Product, quantity int) error {
	if product.Stock >= quantity {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock available").
		WithDetails(map[string]any{
			"product_id": product.ID,
			"available":  product.Stock,
			"requested":  quantity,
		})
}

func (s *service) getOrCreate(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	record, err := s.repo.FindActiveByUser(ctx, userID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active cart")
	}
	created, err := s.repo.Create(ctx, &models.Cart{UserID: userID, IsActive: true})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return created, nil
}
