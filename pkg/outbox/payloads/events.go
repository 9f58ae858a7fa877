package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderCreatedEvent signals a new order with its stock already reserved.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      uuid.UUID `json:"user_id"`
	FinalAmount int64     `json:"final_amount"`
	UsedPoints  int64     `json:"used_points"`
	ItemCount   int       `json:"item_count"`
}

// OrderPaidEvent is emitted when the gateway approves a payment and the
// order flips to paid.
type OrderPaidEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	UserID       uuid.UUID `json:"user_id"`
	PaymentID    uuid.UUID `json:"payment_id"`
	PaymentKey   string    `json:"payment_key"`
	Amount       int64     `json:"amount"`
	EarnedPoints int64     `json:"earned_points"`
	ApprovedAt   time.Time `json:"approved_at"`
}

// OrderCanceledEvent is emitted whenever a paid order is canceled and its
// compensations have been applied.
type OrderCanceledEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	UserID         uuid.UUID `json:"user_id"`
	CanceledAt     time.Time `json:"canceled_at"`
	Reason         string    `json:"reason,omitempty"`
	RefundedPoints int64     `json:"refunded_points"`
	DeductedPoints int64     `json:"deducted_points"`
}

// PaymentAbortedEvent carries the gateway failure that moved a payment to
// aborted.
type PaymentAbortedEvent struct {
	PaymentID  uuid.UUID `json:"paymentId"`
	OrderID    uuid.UUID `json:"orderId"`
	UserID     uuid.UUID `json:"userId"`
	FailReason string    `json:"failReason,omitempty"`
}

// PointsExpiredEvent reports the total points swept from a user by the
// expiry job.
type PointsExpiredEvent struct {
	UserID     uuid.UUID `json:"userId"`
	Amount     int64     `json:"amount"`
	GrantCount int       `json:"grantCount"`
	ExpiredAt  time.Time `json:"expiredAt"`
}
