package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/internal/shipping"
	"github.com/hanseoyun/shopcore-backend/internal/stock"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox"
)

// Repository defines persistence operations for the order aggregate. The
// initial ready payment is created here because order, items and payment are
// persisted together; later payment transitions belong to the payments repo.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateItems(ctx context.Context, items []models.OrderItem) error
	CreatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, earnedPoints int64) (int64, error)
	MarkCanceled(ctx context.Context, id uuid.UUID, from enums.OrderStatus) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type productFinder interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

type stockLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []stock.Line) error
}

type pointLedger interface {
	ConsumeFIFO(ctx context.Context, tx *gorm.DB, input points.ConsumeInput) (*models.PointHistory, error)
}

type shippingQuoter interface {
	QuoteFor(subtotal decimal.Decimal, postalCode string) shipping.Quote
}
