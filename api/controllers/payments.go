package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hanseoyun/shopcore-backend/api/responses"
	"github.com/hanseoyun/shopcore-backend/api/validators"
	paymentsvc "github.com/hanseoyun/shopcore-backend/internal/payments"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

// PaymentRequest opens a checkout session for a pending order.
func PaymentRequest(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentRequestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Request(r.Context(), userID, payload.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, paymentRequestResponse{
			PaymentID:      result.PaymentID,
			GatewayOrderID: result.GatewayOrderID,
			OrderName:      result.OrderName,
			Amount:         result.Amount,
		})
	}
}

// PaymentConfirm approves a payment after the buyer returns from the gateway
// widget.
func PaymentConfirm(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Confirm(r.Context(), paymentsvc.ConfirmInput{
			PaymentKey:     payload.PaymentKey,
			GatewayOrderID: payload.OrderID,
			Amount:         payload.Amount,
			ActorID:        &userID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// PaymentCancel voids a completed payment and unwinds its side effects.
func PaymentCancel(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentID, err := pathUUID(r, "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Cancel(r.Context(), paymentsvc.CancelInput{
			PaymentID: paymentID,
			ActorID:   &userID,
			Reason:    payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// PaymentFail records a gateway-side failure. The endpoint is called by
// anonymous browser redirects, so it acknowledges every well-formed request
// with 200 regardless of whether a matching payment exists.
func PaymentFail(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload failPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Fail(r.Context(), paymentsvc.FailInput{
			GatewayOrderID: payload.OrderID,
			ErrorCode:      payload.Code,
			ErrorMessage:   payload.Message,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "acknowledged"})
	}
}

type paymentRequestRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
}

type paymentRequestResponse struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	GatewayOrderID string    `json:"gateway_order_id"`
	OrderName      string    `json:"order_name"`
	Amount         int64     `json:"amount"`
}

type confirmPaymentRequest struct {
	// A zero-amount order is settled entirely with points and never visits
	// the gateway, so the key only accompanies a positive amount.
	PaymentKey string `json:"paymentKey" validate:"required_with=Amount"`
	OrderID    string `json:"orderId" validate:"required"`
	Amount     int64  `json:"amount" validate:"min=0"`
}

type cancelPaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type failPaymentRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type paymentResponse struct {
	ID             uuid.UUID  `json:"id"`
	OrderID        uuid.UUID  `json:"order_id"`
	GatewayOrderID string     `json:"gateway_order_id"`
	Status         string     `json:"status"`
	Amount         int64      `json:"amount"`
	Method         *string    `json:"method,omitempty"`
	CancelReason   *string    `json:"cancel_reason,omitempty"`
	FailReason     *string    `json:"fail_reason,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
}

func newPaymentResponse(payment *models.Payment) paymentResponse {
	return paymentResponse{
		ID:             payment.ID,
		OrderID:        payment.OrderID,
		GatewayOrderID: payment.GatewayOrderID,
		Status:         string(payment.Status),
		Amount:         payment.Amount.IntPart(),
		Method:         payment.Method,
		CancelReason:   payment.CancelReason,
		FailReason:     payment.FailReason,
		ApprovedAt:     payment.ApprovedAt,
		CanceledAt:     payment.CanceledAt,
	}
}
