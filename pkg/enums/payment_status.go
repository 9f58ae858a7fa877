package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a payment. A payment is created ready,
// moves to done on gateway approval, aborted on a failed attempt, and canceled
// only from done.
type PaymentStatus string

const (
	PaymentStatusReady    PaymentStatus = "ready"
	PaymentStatusDone     PaymentStatus = "done"
	PaymentStatusCanceled PaymentStatus = "canceled"
	PaymentStatusAborted  PaymentStatus = "aborted"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusReady,
	PaymentStatusDone,
	PaymentStatusCanceled,
	PaymentStatusAborted,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the status.
func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentStatusCanceled || p == PaymentStatusAborted
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
