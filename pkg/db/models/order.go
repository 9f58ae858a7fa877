package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hanseoyun/shopcore-backend/pkg/enums"
)

// Order is the purchase aggregate. FinalAmount = TotalAmount + ShippingFee +
// AdditionalShippingFee - UsedPoints and is the figure the payment gateway
// must echo back.
type Order struct {
	ID                    uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	OrderNumber           string            `gorm:"column:order_number;not null;uniqueIndex"`
	Status                enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	TotalAmount           decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,0);not null"`
	ShippingFee           decimal.Decimal   `gorm:"column:shipping_fee;type:numeric(12,0);not null"`
	AdditionalShippingFee decimal.Decimal   `gorm:"column:additional_shipping_fee;type:numeric(12,0);not null"`
	UsedPoints            int64             `gorm:"column:used_points;not null;default:0"`
	EarnedPoints          int64             `gorm:"column:earned_points;not null;default:0"`
	FinalAmount           decimal.Decimal   `gorm:"column:final_amount;type:numeric(12,0);not null"`
	RecipientName         string            `gorm:"column:recipient_name;not null"`
	RecipientPhone        string            `gorm:"column:recipient_phone;not null"`
	PostalCode            string            `gorm:"column:postal_code;not null"`
	Address1              string            `gorm:"column:address1;not null"`
	Address2              *string           `gorm:"column:address2"`
	Memo                  *string           `gorm:"column:memo"`
	CanceledAt            *time.Time        `gorm:"column:canceled_at"`
	Items                 []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment               *Payment          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
