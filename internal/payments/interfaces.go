package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/internal/stock"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox"
	"github.com/hanseoyun/shopcore-backend/pkg/toss"
)

// Repository defines persistence operations for payments and their audit
// trail. The Mark* methods are conditional transitions: the affected-row
// count decides which of any racing callers won.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	DeleteByOrderID(ctx context.Context, orderID uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	FindByPaymentKey(ctx context.Context, paymentKey string) (*models.Payment, error)
	MarkDone(ctx context.Context, id uuid.UUID, paymentKey *string, method *string, approvedAt time.Time, raw json.RawMessage) (int64, error)
	MarkAborted(ctx context.Context, id uuid.UUID, failReason string) (int64, error)
	MarkCanceled(ctx context.Context, id uuid.UUID, reason string, canceledAmount decimal.Decimal, at time.Time) (int64, error)
	AppendLog(ctx context.Context, log *models.PaymentLog) error
	FindAbortedForRelease(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gatewayClient interface {
	ConfirmPayment(ctx context.Context, params toss.ConfirmParams) (*toss.Payment, error)
	CancelPayment(ctx context.Context, paymentKey, cancelReason string) (*toss.Payment, error)
}

type stockLedger interface {
	MarkSold(ctx context.Context, tx *gorm.DB, lines []stock.Line) error
	Restore(ctx context.Context, tx *gorm.DB, lines []stock.Line, wasSold bool) error
}

type pointLedger interface {
	Grant(ctx context.Context, tx *gorm.DB, input points.GrantInput) (*models.PointHistory, error)
	ConsumeFIFO(ctx context.Context, tx *gorm.DB, input points.ConsumeInput) (*models.PointHistory, error)
	Refund(ctx context.Context, tx *gorm.DB, input points.RefundInput) (*models.PointHistory, error)
}
