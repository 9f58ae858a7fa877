package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hanseoyun/shopcore-backend/pkg/enums"
)

// Payment tracks gateway progress for an order. Status transitions happen
// through conditional UPDATEs keyed on the current status, which is the only
// concurrency control the flow relies on. GatewayOrderID is the merchant
// order reference sent to the gateway; it outlives retried payment rows.
type Payment struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	GatewayOrderID string              `gorm:"column:gateway_order_id;not null;uniqueIndex"`
	PaymentKey     *string             `gorm:"column:payment_key;uniqueIndex"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(12,0);not null"`
	Status         enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'ready'"`
	Method         *string             `gorm:"column:method"`
	CanceledAmount decimal.Decimal     `gorm:"column:canceled_amount;type:numeric(12,0);not null;default:0"`
	CancelReason   *string             `gorm:"column:cancel_reason"`
	FailReason     *string             `gorm:"column:fail_reason"`
	ApprovedAt     *time.Time          `gorm:"column:approved_at"`
	CanceledAt     *time.Time          `gorm:"column:canceled_at"`
	RawResponse    json.RawMessage     `gorm:"column:raw_response;type:jsonb"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
