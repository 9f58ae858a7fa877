package tosswebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hanseoyun/shopcore-backend/internal/payments"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
	"github.com/hanseoyun/shopcore-backend/pkg/toss"
)

type paymentStateMachine interface {
	Confirm(ctx context.Context, input payments.ConfirmInput) (*models.Payment, error)
	Cancel(ctx context.Context, input payments.CancelInput) (*models.Payment, error)
	Fail(ctx context.Context, input payments.FailInput) error
}

type paymentFinder interface {
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
}

// Outcome reports how a webhook delivery was handled.
type Outcome int

const (
	// OutcomeProcessed means the event changed payment state.
	OutcomeProcessed Outcome = iota
	// OutcomeIgnored means the event type is not one this service handles.
	OutcomeIgnored
	// OutcomeAlreadyApplied means a racing caller (buyer confirm, earlier
	// delivery) had already applied the transition; the gateway should stop
	// retrying.
	OutcomeAlreadyApplied
)

// Service dispatches verified gateway events into the payment state machine.
// It carries no deduplication state of its own: the state machine's
// conditional transitions arbitrate duplicate and concurrent deliveries, so a
// replayed event simply loses the conditional update and is acknowledged.
type Service struct {
	payments paymentStateMachine
	finder   paymentFinder
	logg     *logger.Logger
}

// NewService builds the webhook dispatch service.
func NewService(stateMachine paymentStateMachine, finder paymentFinder, logg *logger.Logger) (*Service, error) {
	if stateMachine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment state machine required")
	}
	if finder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment finder required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{payments: stateMachine, finder: finder, logg: logg}, nil
}

// HandleEvent routes one verified event. The controller has already checked
// the signature and the envelope shape.
func (s *Service) HandleEvent(ctx context.Context, event *toss.WebhookEvent) (Outcome, error) {
	if event == nil || event.EventType == "" || len(event.Data) == 0 {
		return OutcomeIgnored, pkgerrors.New(pkgerrors.CodeValidation, "event type and data are required")
	}

	switch event.EventType {
	case toss.WebhookPaymentDone, toss.WebhookPaymentCanceled, toss.WebhookPaymentFailed:
	default:
		logCtx := s.logg.WithField(ctx, "event_type", event.EventType)
		s.logg.Info(logCtx, "unhandled gateway event ignored")
		return OutcomeIgnored, nil
	}

	var data toss.WebhookPaymentData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed payment data")
	}
	if data.OrderID == "" {
		return OutcomeIgnored, pkgerrors.New(pkgerrors.CodeValidation, "order id missing from payment data")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_type":       event.EventType,
		"gateway_order_id": data.OrderID,
	})

	var err error
	switch event.EventType {
	case toss.WebhookPaymentDone:
		err = s.handleDone(logCtx, &data)
	case toss.WebhookPaymentCanceled:
		err = s.handleCanceled(logCtx, &data)
	case toss.WebhookPaymentFailed:
		err = s.handleFailed(logCtx, &data)
	}
	if err != nil {
		if domainErr := pkgerrors.As(err); domainErr != nil && domainErr.Code() == pkgerrors.CodeAlreadyProcessed {
			s.logg.Info(logCtx, "gateway event already applied")
			return OutcomeAlreadyApplied, nil
		}
		return OutcomeIgnored, err
	}
	s.logg.Info(logCtx, "gateway event applied")
	return OutcomeProcessed, nil
}

func (s *Service) handleDone(ctx context.Context, data *toss.WebhookPaymentData) error {
	input := payments.ConfirmInput{
		PaymentKey:     data.PaymentKey,
		GatewayOrderID: data.OrderID,
		Amount:         data.TotalAmount,
		FromWebhook:    true,
	}
	if data.Method != "" {
		method := data.Method
		input.Method = &method
	}
	if at, err := time.Parse(time.RFC3339, data.ApprovedAt); err == nil {
		input.ApprovedAt = &at
	}
	_, err := s.payments.Confirm(ctx, input)
	return err
}

// handleCanceled converges a gateway-side cancellation. The compensations run
// locally; the REST cancel is skipped because the gateway already voided the
// payment.
func (s *Service) handleCanceled(ctx context.Context, data *toss.WebhookPaymentData) error {
	payment, err := s.finder.FindByGatewayOrderID(ctx, data.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment not found for gateway cancel")
	}
	_, err = s.payments.Cancel(ctx, payments.CancelInput{
		PaymentID:   payment.ID,
		Reason:      "canceled by payment gateway",
		FromWebhook: true,
	})
	return err
}

func (s *Service) handleFailed(ctx context.Context, data *toss.WebhookPaymentData) error {
	code := data.Status
	if code == "" {
		code = "PAYMENT_FAILED"
	}
	message := data.FailReason
	if message == "" {
		message = "payment failed at gateway"
	}
	return s.payments.Fail(ctx, payments.FailInput{
		GatewayOrderID: data.OrderID,
		ErrorCode:      code,
		ErrorMessage:   message,
	})
}
