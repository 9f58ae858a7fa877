package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hanseoyun/shopcore-backend/api/responses"
	"github.com/hanseoyun/shopcore-backend/api/validators"
	ordersvc "github.com/hanseoyun/shopcore-backend/internal/orders"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

// OrderCreate converts the buyer's active cart into an order aggregate.
func OrderCreate(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CreateFromCart(r.Context(), userID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

// OrderGet returns one of the buyer's orders with items and payment state.
func OrderGet(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := pathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type createOrderRequest struct {
	UsePoints      int64   `json:"use_points" validate:"min=0"`
	RecipientName  string  `json:"recipient_name" validate:"required"`
	RecipientPhone string  `json:"recipient_phone" validate:"required"`
	PostalCode     string  `json:"postal_code" validate:"required"`
	Address1       string  `json:"address1" validate:"required"`
	Address2       *string `json:"address2"`
	Memo           *string `json:"memo"`
}

func (p createOrderRequest) toInput() ordersvc.CreateInput {
	return ordersvc.CreateInput{
		UsePoints:      p.UsePoints,
		RecipientName:  validators.SanitizeString(p.RecipientName, 100),
		RecipientPhone: validators.SanitizeString(p.RecipientPhone, 20),
		PostalCode:     validators.SanitizeString(p.PostalCode, 10),
		Address1:       validators.SanitizeString(p.Address1, 200),
		Address2:       sanitizeOptional(p.Address2, 200),
		Memo:           sanitizeOptional(p.Memo, 500),
	}
}

func sanitizeOptional(value *string, maxLen int) *string {
	if value == nil {
		return nil
	}
	clean := validators.SanitizeString(*value, maxLen)
	if clean == "" {
		return nil
	}
	return &clean
}

type orderResponse struct {
	ID                    uuid.UUID           `json:"id"`
	OrderNumber           string              `json:"order_number"`
	Status                string              `json:"status"`
	TotalAmount           int64               `json:"total_amount"`
	ShippingFee           int64               `json:"shipping_fee"`
	AdditionalShippingFee int64               `json:"additional_shipping_fee"`
	UsedPoints            int64               `json:"used_points"`
	EarnedPoints          int64               `json:"earned_points"`
	FinalAmount           int64               `json:"final_amount"`
	RecipientName         string              `json:"recipient_name"`
	RecipientPhone        string              `json:"recipient_phone"`
	PostalCode            string              `json:"postal_code"`
	Address1              string              `json:"address1"`
	Address2              *string             `json:"address2,omitempty"`
	Memo                  *string             `json:"memo,omitempty"`
	Items                 []orderItemResponse `json:"items"`
	Payment               *paymentResponse    `json:"payment,omitempty"`
	CanceledAt            *time.Time          `json:"canceled_at,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
}

type orderItemResponse struct {
	ID          uuid.UUID  `json:"id"`
	ProductID   *uuid.UUID `json:"product_id,omitempty"`
	ProductName string     `json:"product_name"`
	Price       int64      `json:"price"`
	Quantity    int        `json:"quantity"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price.IntPart(),
			Quantity:    item.Quantity,
		})
	}

	resp := orderResponse{
		ID:                    order.ID,
		OrderNumber:           order.OrderNumber,
		Status:                string(order.Status),
		TotalAmount:           order.TotalAmount.IntPart(),
		ShippingFee:           order.ShippingFee.IntPart(),
		AdditionalShippingFee: order.AdditionalShippingFee.IntPart(),
		UsedPoints:            order.UsedPoints,
		EarnedPoints:          order.EarnedPoints,
		FinalAmount:           order.FinalAmount.IntPart(),
		RecipientName:         order.RecipientName,
		RecipientPhone:        order.RecipientPhone,
		PostalCode:            order.PostalCode,
		Address1:              order.Address1,
		Address2:              order.Address2,
		Memo:                  order.Memo,
		Items:                 items,
		CanceledAt:            order.CanceledAt,
		CreatedAt:             order.CreatedAt,
	}
	if order.Payment != nil {
		payment := newPaymentResponse(order.Payment)
		resp.Payment = &payment
	}
	return resp
}
