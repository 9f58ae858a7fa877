package enums

import "fmt"

// PointEventType classifies ledger rows. Earn and cancel_refund credit the
// balance; use, cancel_deduct and expire debit it.
type PointEventType string

const (
	PointEventEarn         PointEventType = "earn"
	PointEventUse          PointEventType = "use"
	PointEventCancelRefund PointEventType = "cancel_refund"
	PointEventCancelDeduct PointEventType = "cancel_deduct"
	PointEventExpire       PointEventType = "expire"
)

var validPointEventTypes = []PointEventType{
	PointEventEarn,
	PointEventUse,
	PointEventCancelRefund,
	PointEventCancelDeduct,
	PointEventExpire,
}

// String implements fmt.Stringer.
func (p PointEventType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PointEventType.
func (p PointEventType) IsValid() bool {
	for _, candidate := range validPointEventTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePointEventType converts raw input into a PointEventType.
func ParsePointEventType(value string) (PointEventType, error) {
	for _, candidate := range validPointEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid point event type %q", value)
}
