package models

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors the identity service's view of a buyer plus the cached point
// balance this service owns. Points is denormalized from point_histories; the
// reconcile job keeps it honest.
type User struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;not null"`
	Phone     *string   `gorm:"column:phone"`
	Points    int64     `gorm:"column:points;not null;default:0"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
