package models

import (
	"time"

	"github.com/google/uuid"
)

// Cart is the buyer's working basket. At most one active cart exists per user;
// order creation deactivates it after clearing the items.
type Cart struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index"`
	IsActive  bool       `gorm:"column:is_active;not null;default:true"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
