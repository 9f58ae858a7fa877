package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox/payloads"
	"github.com/hanseoyun/shopcore-backend/pkg/toss"
)

// Confirm drives ready -> done. The amount check and the gateway approval
// happen before any row is touched; the conditional MarkDone then decides
// which of any racing callers applies the side effects. Stock mark-sold, the
// point grant, the order flip to paid and the outbox event all commit with
// the status transition, so a crash mid-confirm leaves no partial state.
func (s *service) Confirm(ctx context.Context, input ConfirmInput) (*models.Payment, error) {
	if input.GatewayOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order id required")
	}
	if input.Amount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount cannot be negative")
	}
	if input.PaymentKey == "" && input.Amount > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment key required")
	}

	payment, err := s.repo.FindByGatewayOrderID(ctx, input.GatewayOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if input.ActorID != nil && order.UserID != *input.ActorID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}

	// The pre-check keeps retries cheap; the conditional update below stays
	// the arbiter.
	if payment.Status != enums.PaymentStatusReady {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "payment already processed")
	}

	if input.Amount != payment.Amount.IntPart() {
		s.appendLog(ctx, payment.ID, enums.PaymentLogError, "confirm amount mismatch", map[string]any{
			"gateway_order_id": input.GatewayOrderID,
			"claimed_amount":   input.Amount,
		})
		return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment amount does not match")
	}

	approval, err := s.approve(ctx, payment, input)
	if err != nil {
		return nil, err
	}

	earned := s.earnFor(order.FinalAmount)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ordersRepo := s.orders.WithTx(tx)

		rows, err := repo.MarkDone(ctx, payment.ID, approval.paymentKey, approval.method, approval.approvedAt, approval.raw)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment done")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "payment already processed")
		}

		rows, err = ordersRepo.MarkPaid(ctx, order.ID, earned)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer awaiting payment")
		}

		if err := s.stock.MarkSold(ctx, tx, stockLines(order.Items)); err != nil {
			return err
		}

		if earned > 0 {
			_, err := s.points.Grant(ctx, tx, points.GrantInput{
				UserID:      order.UserID,
				Points:      earned,
				OrderID:     &order.ID,
				Description: fmt.Sprintf("points earned on order %s", order.OrderNumber),
			})
			if err != nil {
				return err
			}
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderPaidEvent{
				OrderID:      order.ID,
				OrderNumber:  order.OrderNumber,
				UserID:       order.UserID,
				PaymentID:    payment.ID,
				PaymentKey:   input.PaymentKey,
				Amount:       input.Amount,
				EarnedPoints: earned,
				ApprovedAt:   approval.approvedAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order paid event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendLog(ctx, payment.ID, enums.PaymentLogApprove, "payment approved", map[string]any{
		"gateway_order_id": input.GatewayOrderID,
		"amount":           input.Amount,
		"earned_points":    earned,
		"via_webhook":      input.FromWebhook,
	})

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id":    payment.ID,
		"order_id":      order.ID,
		"amount":        input.Amount,
		"earned_points": earned,
	})
	s.logg.Info(logCtx, "payment confirmed")

	return s.repo.FindByID(ctx, payment.ID)
}

// approval is what the confirm transition persists on the payment row.
type approval struct {
	paymentKey *string
	method     *string
	approvedAt time.Time
	raw        json.RawMessage
}

// approve obtains the gateway's approval for a confirm attempt. Zero-amount
// (full-points) payments and webhook deliveries never hit the REST API: the
// former have nothing to charge, the latter are already approved. A definitive
// gateway rejection aborts the payment so the buyer can retry from a clean
// ready row; transient gateway trouble leaves the payment ready.
func (s *service) approve(ctx context.Context, payment *models.Payment, input ConfirmInput) (*approval, error) {
	result := &approval{
		method:     input.Method,
		approvedAt: s.now(),
	}
	if input.PaymentKey != "" {
		key := input.PaymentKey
		result.paymentKey = &key
	}
	if input.ApprovedAt != nil {
		result.approvedAt = *input.ApprovedAt
	}

	if input.FromWebhook || input.Amount == 0 {
		return result, nil
	}

	gw, err := s.gateway.ConfirmPayment(ctx, toss.ConfirmParams{
		PaymentKey: input.PaymentKey,
		OrderID:    input.GatewayOrderID,
		Amount:     input.Amount,
	})
	if err != nil {
		s.abortOnRejection(ctx, payment, err)
		return nil, err
	}

	if gw.Method != "" {
		method := gw.Method
		result.method = &method
	}
	if at, parseErr := time.Parse(time.RFC3339, gw.ApprovedAt); parseErr == nil {
		result.approvedAt = at
	}
	if raw, marshalErr := json.Marshal(gw); marshalErr == nil {
		result.raw = raw
	}
	return result, nil
}

// abortOnRejection moves a payment to aborted after the gateway definitively
// refused the approval. Retryable trouble (gateway outage, rate limiting)
// leaves the payment ready so the buyer's next attempt can succeed.
func (s *service) abortOnRejection(ctx context.Context, payment *models.Payment, gatewayErr error) {
	if domainErr := pkgerrors.As(gatewayErr); domainErr != nil {
		switch domainErr.Code() {
		case pkgerrors.CodeDependency, pkgerrors.CodeRateLimit:
			return
		}
	}

	reason := failReasonFrom(gatewayErr)
	rows, err := s.repo.MarkAborted(ctx, payment.ID, reason)
	if err != nil {
		s.logg.Error(ctx, "abort after gateway rejection failed", err)
		return
	}
	if rows == 0 {
		return
	}
	s.appendLog(ctx, payment.ID, enums.PaymentLogError, "gateway rejected confirmation", map[string]any{
		"fail_reason": reason,
	})
}

// failReasonFrom renders the persisted "[CODE] message" form of a gateway
// error.
func failReasonFrom(err error) string {
	var apiErr *toss.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return err.Error()
}

// Cancel drives done -> canceled and applies the compensations: stock goes
// back (sold counters included), spent points are refunded and earned points
// are clawed back. A claw-back shortfall rejects the whole cancel and the
// payment stays done; the ledger is never allowed to go negative. The local
// transaction commits before the gateway cancel call, so a gateway failure is
// logged against the payment rather than re-selling already-released stock.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Payment, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancel reason required")
	}

	payment, err := s.repo.FindByID(ctx, input.PaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if input.ActorID != nil && order.UserID != *input.ActorID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}

	switch payment.Status {
	case enums.PaymentStatusDone:
	case enums.PaymentStatusCanceled:
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "payment already canceled")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only completed payments can be canceled")
	}

	canceledAt := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ordersRepo := s.orders.WithTx(tx)

		rows, err := repo.MarkCanceled(ctx, payment.ID, input.Reason, payment.Amount, canceledAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment canceled")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "payment already canceled")
		}

		rows, err = ordersRepo.MarkCanceled(ctx, order.ID, enums.OrderStatusPaid)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order canceled")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be canceled")
		}

		if err := s.stock.Restore(ctx, tx, stockLines(order.Items), true); err != nil {
			return err
		}

		if order.UsedPoints > 0 {
			_, err := s.points.Refund(ctx, tx, points.RefundInput{
				UserID:      order.UserID,
				Amount:      order.UsedPoints,
				OrderID:     order.ID,
				Description: fmt.Sprintf("points refunded for canceled order %s", order.OrderNumber),
			})
			if err != nil {
				return err
			}
		}

		if order.EarnedPoints > 0 {
			_, err := s.points.ConsumeFIFO(ctx, tx, points.ConsumeInput{
				UserID:      order.UserID,
				Amount:      order.EarnedPoints,
				Type:        enums.PointEventCancelDeduct,
				OrderID:     &order.ID,
				Description: fmt.Sprintf("earned points clawed back for canceled order %s", order.OrderNumber),
			})
			if err != nil {
				return clawbackError(err)
			}
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCanceledEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				UserID:         order.UserID,
				CanceledAt:     canceledAt,
				Reason:         input.Reason,
				RefundedPoints: order.UsedPoints,
				DeductedPoints: order.EarnedPoints,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order canceled event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cancelAtGateway(ctx, payment, input)

	s.appendLog(ctx, payment.ID, enums.PaymentLogCancel, "payment canceled", map[string]any{
		"reason":          input.Reason,
		"refunded_points": order.UsedPoints,
		"deducted_points": order.EarnedPoints,
		"via_webhook":     input.FromWebhook,
	})

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id": payment.ID,
		"order_id":   order.ID,
		"reason":     input.Reason,
	})
	s.logg.Info(logCtx, "payment canceled")

	return s.repo.FindByID(ctx, payment.ID)
}

// clawbackError turns an insufficient-points failure during earned-point
// claw-back into the cancellation-specific code the buyer sees.
func clawbackError(err error) error {
	if domainErr := pkgerrors.As(err); domainErr != nil && domainErr.Code() == pkgerrors.CodeInsufficientPoints {
		return pkgerrors.Wrap(pkgerrors.CodePointsClawbackBlocked, err,
			"earned points were already spent; cancellation refused")
	}
	return err
}

// cancelAtGateway voids the payment on the gateway after the local
// compensation committed. Webhook-delivered cancels skip it (the gateway
// already voided); failures are logged to the audit trail and surface through
// the gateway's own PAYMENT.CANCELED retry, never by reverting local state.
func (s *service) cancelAtGateway(ctx context.Context, payment *models.Payment, input CancelInput) {
	if input.FromWebhook || payment.PaymentKey == nil || !payment.Amount.IsPositive() {
		return
	}
	if _, err := s.gateway.CancelPayment(ctx, *payment.PaymentKey, input.Reason); err != nil {
		s.appendLog(ctx, payment.ID, enums.PaymentLogError, "gateway cancel failed after local cancel", map[string]any{
			"error": err.Error(),
		})
		logCtx := s.logg.WithPaymentID(ctx, payment.ID.String())
		s.logg.Error(logCtx, "gateway cancel failed; local cancellation stands", err)
	}
}

// Fail records a gateway-side failure: ready -> aborted. Anything but the
// conditional transition itself is a logged no-op, matching the gateway's
// at-least-once retry policy; the caller treats every outcome as success.
// Stock stays reserved unless immediate release is configured, in which case
// the order is closed and its reservation handed back in the same
// transaction.
func (s *service) Fail(ctx context.Context, input FailInput) error {
	if input.GatewayOrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway order id required")
	}

	payment, err := s.repo.FindByGatewayOrderID(ctx, input.GatewayOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logCtx := s.logg.WithField(ctx, "gateway_order_id", input.GatewayOrderID)
			s.logg.Warn(logCtx, "fail notification for unknown payment ignored")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	reason := fmt.Sprintf("[%s] %s", input.ErrorCode, input.ErrorMessage)
	var transitioned bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		rows, err := repo.MarkAborted(ctx, payment.ID, reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment aborted")
		}
		if rows == 0 {
			return nil
		}
		transitioned = true

		if s.releaseOnFailure {
			if err := s.releaseReservation(ctx, tx, payment, "released on payment failure"); err != nil {
				return err
			}
		}

		order, err := s.orders.WithTx(tx).FindByID(ctx, payment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventPaymentAborted,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: payloads.PaymentAbortedEvent{
				PaymentID:  payment.ID,
				OrderID:    payment.OrderID,
				UserID:     order.UserID,
				FailReason: reason,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment aborted event")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !transitioned {
		logCtx := s.logg.WithPaymentID(ctx, payment.ID.String())
		s.logg.Info(logCtx, "fail notification for settled payment ignored")
		return nil
	}

	s.appendLog(ctx, payment.ID, enums.PaymentLogError, "payment failed", map[string]any{
		"fail_reason": reason,
	})
	return nil
}

// ReleaseAbortedReservations is the deferred half of the stock-release
// policy: aborted payments whose order never retried within the TTL give
// their reservation back and the order closes. Each payment gets its own
// transaction; the conditional order transition makes the sweep safe to race
// against a buyer retrying at the same moment.
func (s *service) ReleaseAbortedReservations(ctx context.Context) (*ReleaseSummary, error) {
	cutoff := s.now().Add(-s.abortReleaseTTL)

	due, err := s.repo.FindAbortedForRelease(ctx, cutoff, s.releaseBatchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list aborted payments")
	}

	summary := &ReleaseSummary{Scanned: len(due)}
	var errs []error
	for i := range due {
		payment := due[i]
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.releaseReservation(ctx, tx, &payment, "released by abort sweep")
		})
		if err != nil {
			logCtx := s.logg.WithPaymentID(ctx, payment.ID.String())
			s.logg.Error(logCtx, "aborted reservation release failed", err)
			errs = append(errs, fmt.Errorf("release payment %s: %w", payment.ID, err))
			continue
		}
		summary.Released++
	}
	return summary, multierr.Combine(errs...)
}

// releaseReservation closes a pending order whose payment aborted and hands
// the reserved stock back. The conditional order transition arbitrates
// against concurrent buyer retries: zero rows means the order moved on and
// the reservation is still owned by whoever moved it.
func (s *service) releaseReservation(ctx context.Context, tx *gorm.DB, payment *models.Payment, note string) error {
	ordersRepo := s.orders.WithTx(tx)

	rows, err := ordersRepo.MarkCanceled(ctx, payment.OrderID, enums.OrderStatusPending)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close aborted order")
	}
	if rows == 0 {
		logCtx := s.logg.WithOrderID(ctx, payment.OrderID.String())
		s.logg.Info(logCtx, "aborted order already moved on; reservation left alone")
		return nil
	}

	order, err := ordersRepo.FindByID(ctx, payment.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	if err := s.stock.Restore(ctx, tx, stockLines(order.Items), false); err != nil {
		return err
	}

	return s.repo.WithTx(tx).AppendLog(ctx, newPaymentLog(payment.ID, enums.PaymentLogCancel, note, map[string]any{
		"order_id": payment.OrderID.String(),
	}))
}
