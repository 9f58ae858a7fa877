package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
)

type stubCartRepo struct {
	active      *models.Cart
	activeErr   error
	created     *models.Cart
	item        *models.CartItem
	itemErr     error
	createdItem *models.CartItem
	updatedQty  int
	updatedItem uuid.UUID
	deletedRows int64
	deleteErr   error
}

func (s *stubCartRepo) WithTx(tx *gorm.DB) CartRepository { return s }

func (s *stubCartRepo) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if s.activeErr != nil {
		return nil, s.activeErr
	}
	return s.active, nil
}

func (s *stubCartRepo) Create(ctx context.Context, record *models.Cart) (*models.Cart, error) {
	record.ID = uuid.New()
	s.created = record
	s.active = record
	s.activeErr = nil
	return record, nil
}

func (s *stubCartRepo) FindItem(ctx context.Context, cartID, productID uuid.UUID) (*models.CartItem, error) {
	if s.itemErr != nil {
		return nil, s.itemErr
	}
	return s.item, nil
}

func (s *stubCartRepo) CreateItem(ctx context.Context, item *models.CartItem) (*models.CartItem, error) {
	item.ID = uuid.New()
	s.createdItem = item
	return item, nil
}

func (s *stubCartRepo) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	s.updatedItem = itemID
	s.updatedQty = quantity
	return nil
}

func (s *stubCartRepo) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	return s.deletedRows, nil
}

func (s *stubCartRepo) ClearItems(ctx context.Context, cartID uuid.UUID) error { return nil }

func (s *stubCartRepo) Deactivate(ctx context.Context, cartID uuid.UUID) error { return nil }

type stubProductLoader struct {
	product *models.Product
	err     error
}

func (s *stubProductLoader) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.product, nil
}

func activeProduct(stock int) *models.Product {
	return &models.Product{
		ID:       uuid.New(),
		Name:     "drip kettle",
		Stock:    stock,
		IsActive: true,
	}
}

func TestGet_createsCartWhenMissing(t *testing.T) {
	repo := &stubCartRepo{activeErr: gorm.ErrRecordNotFound}
	svc, err := NewService(repo, &stubProductLoader{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	userID := uuid.New()
	record, err := svc.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if repo.created == nil {
		t.Fatal("expected a cart to be created")
	}
	if record.UserID != userID {
		t.Fatalf("unexpected cart owner: %s", record.UserID)
	}
	if !record.IsActive {
		t.Fatal("expected created cart to be active")
	}
}

func TestAddItem_createsNewLine(t *testing.T) {
	product := activeProduct(10)
	repo := &stubCartRepo{
		active:  &models.Cart{ID: uuid.New(), IsActive: true},
		itemErr: gorm.ErrRecordNotFound,
	}
	svc, err := NewService(repo, &stubProductLoader{product: product})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := svc.AddItem(context.Background(), uuid.New(), product.ID, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if repo.createdItem == nil {
		t.Fatal("expected item to be created")
	}
	if repo.createdItem.Quantity != 2 {
		t.Fatalf("unexpected quantity: %d", repo.createdItem.Quantity)
	}
	if repo.createdItem.ProductID != product.ID {
		t.Fatalf("unexpected product: %s", repo.createdItem.ProductID)
	}
}

func TestAddItem_mergesExistingLine(t *testing.T) {
	product := activeProduct(10)
	existing := &models.CartItem{ID: uuid.New(), ProductID: product.ID, Quantity: 3}
	repo := &stubCartRepo{
		active: &models.Cart{ID: uuid.New(), IsActive: true},
		item:   existing,
	}
	svc, err := NewService(repo, &stubProductLoader{product: product})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := svc.AddItem(context.Background(), uuid.New(), product.ID, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if repo.createdItem != nil {
		t.Fatal("expected merge, not a new line")
	}
	if repo.updatedItem != existing.ID {
		t.Fatalf("unexpected updated item: %s", repo.updatedItem)
	}
	if repo.updatedQty != 5 {
		t.Fatalf("expected merged quantity 5, got %d", repo.updatedQty)
	}
}

func TestAddItem_rejectsInactiveProduct(t *testing.T) {
	product := activeProduct(10)
	product.IsActive = false
	repo := &stubCartRepo{active: &models.Cart{ID: uuid.New(), IsActive: true}}
	svc, err := NewService(repo, &stubProductLoader{product: product})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = svc.AddItem(context.Background(), uuid.New(), product.ID, 1)
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeInactiveProduct {
		t.Fatalf("expected INACTIVE_PRODUCT, got %v", err)
	}
}

func TestAddItem_rejectsMissingProduct(t *testing.T) {
	repo := &stubCartRepo{active: &models.Cart{ID: uuid.New(), IsActive: true}}
	svc, err := NewService(repo, &stubProductLoader{err: gorm.ErrRecordNotFound})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = svc.AddItem(context.Background(), uuid.New(), uuid.New(), 1)
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestAddItem_rejectsMergeBeyondStock(t *testing.T) {
	product := activeProduct(4)
	existing := &models.CartItem{ID: uuid.New(), ProductID: product.ID, Quantity: 3}
	repo := &stubCartRepo{
		active: &models.Cart{ID: uuid.New(), IsActive: true},
		item:   existing,
	}
	svc, err := NewService(repo, &stubProductLoader{product: product})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = svc.AddItem(context.Background(), uuid.New(), product.ID, 2)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatal("expected shortfall details")
	}
	if details["available"] != 4 || details["requested"] != 5 {
		t.Fatalf("unexpected details: %v", details)
	}
}

func TestAddItem_rejectsNonPositiveQuantity(t *testing.T) {
	svc, err := NewService(&stubCartRepo{}, &stubProductLoader{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = svc.AddItem(context.Background(), uuid.New(), uuid.New(), 0)
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestRemoveItem_missingLineIsNotFound(t *testing.T) {
	repo := &stubCartRepo{
		active:      &models.Cart{ID: uuid.New(), IsActive: true},
		deletedRows: 0,
	}
	svc, err := NewService(repo, &stubProductLoader{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = svc.RemoveItem(context.Background(), uuid.New(), uuid.New())
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRemoveItem_deletesLine(t *testing.T) {
	repo := &stubCartRepo{
		active:      &models.Cart{ID: uuid.New(), IsActive: true},
		deletedRows: 1,
	}
	svc, err := NewService(repo, &stubProductLoader{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := svc.RemoveItem(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
}
