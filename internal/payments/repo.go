package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts a payment row.
func (r *repository) Create(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, err
	}
	return payment, nil
}

// DeleteByOrderID removes the payment for an order. payment_logs cascade with
// the row; the caller recreates the payment in the same transaction.
func (r *repository) DeleteByOrderID(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Delete(&models.Payment{}).Error
}

// FindByID loads a payment by its UUID.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByOrderID loads the payment belonging to an order.
func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByGatewayOrderID loads a payment by the merchant order reference the
// gateway echoes back.
func (r *repository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "gateway_order_id = ?", gatewayOrderID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByPaymentKey loads a payment by the gateway's payment key.
func (r *repository) FindByPaymentKey(ctx context.Context, paymentKey string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "payment_key = ?", paymentKey).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkDone transitions ready -> done, recording the approval. Returns the
// affected-row count; zero means a racing caller already moved the payment.
func (r *repository) MarkDone(ctx context.Context, id uuid.UUID, paymentKey *string, method *string, approvedAt time.Time, raw json.RawMessage) (int64, error) {
	updates := map[string]any{
		"status":      enums.PaymentStatusDone,
		"approved_at": approvedAt,
	}
	if paymentKey != nil {
		updates["payment_key"] = *paymentKey
	}
	if method != nil {
		updates["method"] = *method
	}
	if len(raw) > 0 {
		updates["raw_response"] = raw
	}
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusReady).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// MarkAborted transitions ready -> aborted with the gateway failure reason.
func (r *repository) MarkAborted(ctx context.Context, id uuid.UUID, failReason string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusReady).
		Updates(map[string]any{
			"status":      enums.PaymentStatusAborted,
			"fail_reason": failReason,
		})
	return result.RowsAffected, result.Error
}

// MarkCanceled transitions done -> canceled, recording the reason and the
// refunded amount.
func (r *repository) MarkCanceled(ctx context.Context, id uuid.UUID, reason string, canceledAmount decimal.Decimal, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusDone).
		Updates(map[string]any{
			"status":          enums.PaymentStatusCanceled,
			"cancel_reason":   reason,
			"canceled_amount": canceledAmount,
			"canceled_at":     at,
		})
	return result.RowsAffected, result.Error
}

// AppendLog writes an audit row for a payment lifecycle step.
func (r *repository) AppendLog(ctx context.Context, log *models.PaymentLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// FindAbortedForRelease lists aborted payments older than the cutoff whose
// order is still pending, oldest first. These still hold stock reservations.
func (r *repository) FindAbortedForRelease(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	query := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("payments.status = ? AND payments.updated_at < ? AND orders.status = ?",
			enums.PaymentStatusAborted, cutoff, enums.OrderStatusPending).
		Order("payments.updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
