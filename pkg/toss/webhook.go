package toss

import "encoding/json"

// SignatureHeader is where the gateway puts the HMAC of the raw body.
const SignatureHeader = "X-Toss-Webhook-Signature"

// Webhook event types the gateway emits for payment lifecycle changes.
const (
	WebhookPaymentDone     = "PAYMENT.DONE"
	WebhookPaymentCanceled = "PAYMENT.CANCELED"
	WebhookPaymentFailed   = "PAYMENT.FAILED"
)

// WebhookEvent is the envelope the gateway posts. Data stays raw so handlers
// can decode only the event shapes they understand.
type WebhookEvent struct {
	EventType string          `json:"eventType"`
	CreatedAt string          `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// WebhookPaymentData is the payment snapshot carried by payment events.
type WebhookPaymentData struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
	Method      string `json:"method"`
	ApprovedAt  string `json:"approvedAt"`
	FailReason  string `json:"failReason"`
}
