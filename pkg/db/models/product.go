package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Product represents a sellable listing. Stock counts unreserved inventory;
// reservations decrement it immediately and SoldCount moves only when the
// order is actually paid.
type Product struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name        string          `gorm:"column:name;not null"`
	Description *string         `gorm:"column:description"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(12,0);not null"`
	Stock       int             `gorm:"column:stock;not null;default:0"`
	SoldCount   int             `gorm:"column:sold_count;not null;default:0"`
	IsActive    bool            `gorm:"column:is_active;not null;default:true"`
	Tags        pq.StringArray  `gorm:"column:tags;type:text[]"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
