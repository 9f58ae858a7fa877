package types

import (
	"time"

	"github.com/google/uuid"
)

// PointUsageDetail records how much a single consume drew from one grant row.
// The use row carries a list of these so a cancellation can hand the points
// back to the exact grants they came from.
type PointUsageDetail struct {
	HistoryID uuid.UUID `json:"historyId"`
	Amount    int64     `json:"amount"`
}

// PointMetadata rides on point ledger rows. On earn rows UsedAmount tracks how
// much of the grant FIFO consumption has taken and Expired marks grants the
// expiry sweep has written off. On use and cancel_deduct rows UsedDetails
// lists the grants the consume drew from. On expire rows OriginalHistoryID
// points at the grant that lapsed.
type PointMetadata struct {
	UsedAmount        int64              `json:"usedAmount,omitempty"`
	Expired           bool               `json:"expired,omitempty"`
	ExpiredAt         *time.Time         `json:"expiredAt,omitempty"`
	ExpiredAmount     int64              `json:"expiredAmount,omitempty"`
	OriginalHistoryID *uuid.UUID         `json:"originalHistoryId,omitempty"`
	UsedDetails       []PointUsageDetail `json:"usedDetails,omitempty"`
}

// Remaining returns the unspent part of a grant of the given size.
func (m PointMetadata) Remaining(granted int64) int64 {
	remaining := granted - m.UsedAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}
