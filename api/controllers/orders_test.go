package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ordersvc "github.com/hanseoyun/shopcore-backend/internal/orders"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
)

type fakeOrderService struct {
	order       *models.Order
	createInput *ordersvc.CreateInput
	createErr   error
	getErr      error
}

func (f *fakeOrderService) CreateFromCart(ctx context.Context, userID uuid.UUID, input ordersvc.CreateInput) (*models.Order, error) {
	f.createInput = &input
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.order, nil
}

func (f *fakeOrderService) Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.order, nil
}

func orderFixture() *models.Order {
	productID := uuid.New()
	order := &models.Order{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		OrderNumber:    "20260830120000",
		Status:         enums.OrderStatusPending,
		TotalAmount:    decimal.NewFromInt(38000),
		ShippingFee:    decimal.NewFromInt(3000),
		UsedPoints:     1000,
		FinalAmount:    decimal.NewFromInt(40000),
		RecipientName:  "김하늘",
		RecipientPhone: "010-1234-5678",
		PostalCode:     "06236",
		Address1:       "서울 강남구 테헤란로 1",
		Items: []models.OrderItem{
			{
				ID:          uuid.New(),
				ProductID:   &productID,
				ProductName: "drip kettle",
				Price:       decimal.NewFromInt(38000),
				Quantity:    1,
			},
		},
		Payment: &models.Payment{
			ID:             uuid.New(),
			GatewayOrderID: "20260830120000",
			Amount:         decimal.NewFromInt(40000),
			Status:         enums.PaymentStatusReady,
		},
		CreatedAt: time.Now(),
	}
	order.Payment.OrderID = order.ID
	return order
}

func createOrderPayload() map[string]any {
	return map[string]any{
		"use_points":      1000,
		"recipient_name":  "김하늘",
		"recipient_phone": "010-1234-5678",
		"postal_code":     "06236",
		"address1":        "서울 강남구 테헤란로 1",
	}
}

func TestOrderCreate_success(t *testing.T) {
	svc := &fakeOrderService{order: orderFixture()}
	handler := OrderCreate(svc, testLogger())

	req := authedRequest(t, http.MethodPost, "/api/v1/orders", uuid.New(), createOrderPayload(), nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.createInput == nil || svc.createInput.UsePoints != 1000 {
		t.Fatalf("unexpected create input: %+v", svc.createInput)
	}
	var body struct {
		OrderNumber string `json:"order_number"`
		FinalAmount int64  `json:"final_amount"`
		Payment     *struct {
			Status string `json:"status"`
		} `json:"payment"`
	}
	decodeSuccess(t, rec, &body)
	if body.OrderNumber != "20260830120000" || body.FinalAmount != 40000 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Payment == nil || body.Payment.Status != "ready" {
		t.Fatalf("payment state missing from response: %+v", body.Payment)
	}
}

func TestOrderCreate_missingRecipient(t *testing.T) {
	svc := &fakeOrderService{order: orderFixture()}
	handler := OrderCreate(svc, testLogger())

	payload := createOrderPayload()
	delete(payload, "recipient_name")
	req := authedRequest(t, http.MethodPost, "/api/v1/orders", uuid.New(), payload, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.createInput != nil {
		t.Fatal("incomplete shipping forms must not reach the service")
	}
}

func TestOrderCreate_emptyCart(t *testing.T) {
	svc := &fakeOrderService{
		createErr: pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty"),
	}
	handler := OrderCreate(svc, testLogger())

	req := authedRequest(t, http.MethodPost, "/api/v1/orders", uuid.New(), createOrderPayload(), nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	if decodeError(t, rec).Error.Code != string(pkgerrors.CodeEmptyCart) {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestOrderCreate_insufficientStock(t *testing.T) {
	svc := &fakeOrderService{
		createErr: pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock"),
	}
	handler := OrderCreate(svc, testLogger())

	req := authedRequest(t, http.MethodPost, "/api/v1/orders", uuid.New(), createOrderPayload(), nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestOrderGet_success(t *testing.T) {
	order := orderFixture()
	svc := &fakeOrderService{order: order}
	handler := OrderGet(svc, testLogger())

	req := authedRequest(t, http.MethodGet, "/api/v1/orders/"+order.ID.String(), order.UserID, nil,
		map[string]string{"orderID": order.ID.String()})
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Items []struct {
			ProductName string `json:"product_name"`
			Price       int64  `json:"price"`
		} `json:"items"`
	}
	decodeSuccess(t, rec, &body)
	if len(body.Items) != 1 || body.Items[0].ProductName != "drip kettle" || body.Items[0].Price != 38000 {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
}

func TestOrderGet_notFound(t *testing.T) {
	svc := &fakeOrderService{
		getErr: pkgerrors.New(pkgerrors.CodeNotFound, "order not found"),
	}
	handler := OrderGet(svc, testLogger())

	id := uuid.New()
	req := authedRequest(t, http.MethodGet, "/api/v1/orders/"+id.String(), uuid.New(), nil,
		map[string]string{"orderID": id.String()})
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
}
