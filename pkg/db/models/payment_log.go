package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hanseoyun/shopcore-backend/pkg/enums"
)

// PaymentLog is an append-only audit row for payment lifecycle steps and
// gateway traffic.
type PaymentLog struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID uuid.UUID            `gorm:"column:payment_id;type:uuid;not null;index"`
	LogType   enums.PaymentLogType `gorm:"column:log_type;type:payment_log_type;not null"`
	Message   *string              `gorm:"column:message"`
	Data      json.RawMessage      `gorm:"column:data;type:jsonb"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
}
