package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	"github.com/hanseoyun/shopcore-backend/pkg/types"
)

// PointHistory is the append-only point ledger. Points is signed: positive
// for earn and cancel_refund, negative for use, cancel_deduct and expire.
// Earn rows carry ExpiresAt and a metadata record tracking FIFO consumption;
// BalanceAfter snapshots the cached user balance after the row was applied.
type PointHistory struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	OrderID      *uuid.UUID           `gorm:"column:order_id;type:uuid;index"`
	Type         enums.PointEventType `gorm:"column:type;type:point_event_type;not null"`
	Points       int64                `gorm:"column:points;not null"`
	BalanceAfter int64                `gorm:"column:balance_after;not null"`
	Description  *string              `gorm:"column:description"`
	ExpiresAt    *time.Time           `gorm:"column:expires_at"`
	Metadata     types.PointMetadata  `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
}
