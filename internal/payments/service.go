package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/internal/orders"
	"github.com/hanseoyun/shopcore-backend/internal/stock"
	"github.com/hanseoyun/shopcore-backend/pkg/config"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

// Service is the payment state machine: ready -> done (confirm),
// ready -> aborted (fail), done -> canceled (cancel). Every transition is a
// conditional update; losing a race surfaces as AlreadyProcessed, never as a
// silent success.
type Service interface {
	Request(ctx context.Context, userID, orderID uuid.UUID) (*RequestResult, error)
	Confirm(ctx context.Context, input ConfirmInput) (*models.Payment, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Payment, error)
	Fail(ctx context.Context, input FailInput) error
	ReleaseAbortedReservations(ctx context.Context) (*ReleaseSummary, error)
}

// RequestResult carries what the payment widget needs to open a checkout
// session.
type RequestResult struct {
	PaymentID      uuid.UUID
	GatewayOrderID string
	OrderName      string
	Amount         int64
}

// ConfirmInput is the approval triple plus the acting buyer. ActorID is nil
// when the confirmation arrives through the gateway webhook; FromWebhook then
// also skips the REST approval call, because the event is the gateway's own
// record of an approval that already happened, and Method/ApprovedAt carry
// the event payload instead of the REST response.
type ConfirmInput struct {
	PaymentKey     string
	GatewayOrderID string
	Amount         int64
	ActorID        *uuid.UUID
	FromWebhook    bool
	Method         *string
	ApprovedAt     *time.Time
}

// CancelInput identifies the payment to void. ActorID is nil for
// gateway-originated cancels; FromWebhook suppresses the REST cancel call
// since the gateway already voided the payment on its side.
type CancelInput struct {
	PaymentID   uuid.UUID
	ActorID     *uuid.UUID
	Reason      string
	FromWebhook bool
}

// FailInput records a gateway-side failure for a payment attempt.
type FailInput struct {
	GatewayOrderID string
	ErrorCode      string
	ErrorMessage   string
}

// ReleaseSummary reports one aborted-reservation sweep run.
type ReleaseSummary struct {
	Scanned  int
	Released int
}

// ServiceParams wires the state machine's collaborators.
type ServiceParams struct {
	TxRunner    txRunner
	Repo        Repository
	Orders      orders.Repository
	Stock       stockLedger
	Points      pointLedger
	Gateway     gatewayClient
	Outbox      outboxPublisher
	Logger      *logger.Logger
	PointsCfg   config.PointsConfig
	PaymentsCfg config.PaymentsConfig
}

type service struct {
	tx               txRunner
	repo             Repository
	orders           orders.Repository
	stock            stockLedger
	points           pointLedger
	gateway          gatewayClient
	outbox           outboxPublisher
	logg             *logger.Logger
	earnRate         decimal.Decimal
	releaseOnFailure bool
	abortReleaseTTL  time.Duration
	releaseBatchSize int
	now              func() time.Time
}

// NewService builds the payment state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Points == nil {
		return nil, fmt.Errorf("point ledger required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:               params.TxRunner,
		repo:             params.Repo,
		orders:           params.Orders,
		stock:            params.Stock,
		points:           params.Points,
		gateway:          params.Gateway,
		outbox:           params.Outbox,
		logg:             params.Logger,
		earnRate:         params.PointsCfg.EarnRate,
		releaseOnFailure: params.PaymentsCfg.ReleasesImmediately(),
		abortReleaseTTL:  params.PaymentsCfg.AbortReleaseTTL,
		releaseBatchSize: 100,
		now:              time.Now,
	}, nil
}

// Request prepares the checkout session for a pending order. A payment
// aborted by an earlier attempt is recreated so the buyer can retry; a ready
// payment is served as-is.
func (s *service) Request(ctx context.Context, userID, orderID uuid.UUID) (*RequestResult, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}

	order, err := s.orders.FindByIDAndUser(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
	}
	if order.Payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order has no payment")
	}

	payment := order.Payment
	switch payment.Status {
	case enums.PaymentStatusReady:
		s.appendLog(ctx, payment.ID, enums.PaymentLogRequest, "payment requested", map[string]any{
			"gateway_order_id": payment.GatewayOrderID,
			"amount":           payment.Amount.IntPart(),
		})
	case enums.PaymentStatusAborted:
		recreated, err := s.recreatePayment(ctx, order, payment)
		if err != nil {
			return nil, err
		}
		payment = recreated
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is already settled")
	}

	return &RequestResult{
		PaymentID:      payment.ID,
		GatewayOrderID: payment.GatewayOrderID,
		OrderName:      orderDisplayName(order.Items),
		Amount:         payment.Amount.IntPart(),
	}, nil
}

// recreatePayment swaps an aborted payment for a fresh ready row. The audit
// trail of the aborted attempt cascades with the old row.
func (s *service) recreatePayment(ctx context.Context, order *models.Order, old *models.Payment) (*models.Payment, error) {
	fresh := &models.Payment{
		OrderID:        order.ID,
		GatewayOrderID: old.GatewayOrderID,
		Amount:         order.FinalAmount,
		Status:         enums.PaymentStatusReady,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeleteByOrderID(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete aborted payment")
		}
		if _, err := repo.Create(ctx, fresh); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recreate payment")
		}
		return repo.AppendLog(ctx, newPaymentLog(fresh.ID, enums.PaymentLogRequest, "payment re-requested after abort", map[string]any{
			"gateway_order_id": fresh.GatewayOrderID,
			"amount":           fresh.Amount.IntPart(),
			"previous_payment": old.ID.String(),
		}))
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID,
		"payment_id": fresh.ID,
	})
	s.logg.Info(logCtx, "aborted payment recreated")
	return fresh, nil
}

// orderDisplayName is the label the payment widget shows: the first line's
// product name, suffixed with the number of additional lines.
func orderDisplayName(items []models.OrderItem) string {
	if len(items) == 0 {
		return ""
	}
	if len(items) == 1 {
		return items[0].ProductName
	}
	return fmt.Sprintf("%s 외 %d건", items[0].ProductName, len(items)-1)
}

// stockLines converts order items into ledger lines, skipping lines whose
// product has been deleted since the order was placed.
func stockLines(items []models.OrderItem) []stock.Line {
	lines := make([]stock.Line, 0, len(items))
	for _, item := range items {
		if item.ProductID == nil {
			continue
		}
		lines = append(lines, stock.Line{ProductID: *item.ProductID, Qty: item.Quantity})
	}
	return lines
}

// earnFor computes the points earned on a paid amount: rate x amount,
// floored, zero for free orders.
func (s *service) earnFor(finalAmount decimal.Decimal) int64 {
	if !finalAmount.IsPositive() {
		return 0
	}
	return s.earnRate.Mul(finalAmount).Floor().IntPart()
}

// appendLog writes an audit row outside any transaction; failures are logged
// and swallowed so audit plumbing never fails a payment operation.
func (s *service) appendLog(ctx context.Context, paymentID uuid.UUID, logType enums.PaymentLogType, message string, data map[string]any) {
	if err := s.repo.AppendLog(ctx, newPaymentLog(paymentID, logType, message, data)); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("payment log write failed: %v", err))
	}
}

func newPaymentLog(paymentID uuid.UUID, logType enums.PaymentLogType, message string, data map[string]any) *models.PaymentLog {
	row := &models.PaymentLog{
		PaymentID: paymentID,
		LogType:   logType,
		Message:   &message,
	}
	if len(data) > 0 {
		if payload, err := json.Marshal(data); err == nil {
			row.Data = payload
		}
	}
	return row
}
