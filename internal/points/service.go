package points

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/pkg/config"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox"
	"github.com/hanseoyun/shopcore-backend/pkg/pagination"
	"github.com/hanseoyun/shopcore-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the point ledger. Grant, ConsumeFIFO and Refund run inside the
// caller's transaction so the cached balance and the history row always
// commit together; the expiry sweep and the reconcile backstop own their own
// transactions.
type Service interface {
	Grant(ctx context.Context, tx *gorm.DB, input GrantInput) (*models.PointHistory, error)
	ConsumeFIFO(ctx context.Context, tx *gorm.DB, input ConsumeInput) (*models.PointHistory, error)
	Refund(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.PointHistory, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	ListHistory(ctx context.Context, userID uuid.UUID, params pagination.Params, filter *enums.PointEventType) (*HistoryPage, error)
	ExpireDue(ctx context.Context) (*ExpireSummary, error)
	Reconcile(ctx context.Context) (*ReconcileSummary, error)
}

// GrantInput describes a positive earn entry. ExpiresAt defaults to the
// configured earn TTL when nil.
type GrantInput struct {
	UserID      uuid.UUID
	Points      int64
	OrderID     *uuid.UUID
	Description string
	ExpiresAt   *time.Time
}

// ConsumeInput describes a FIFO consumption of earn grants.
type ConsumeInput struct {
	UserID      uuid.UUID
	Amount      int64
	Type        enums.PointEventType
	OrderID     *uuid.UUID
	Description string
}

// RefundInput hands previously consumed points back after a cancellation.
type RefundInput struct {
	UserID      uuid.UUID
	Amount      int64
	OrderID     uuid.UUID
	Description string
}

// ExpireSummary reports one expiry sweep run.
type ExpireSummary struct {
	UsersSwept    int
	GrantsExpired int
	PointsExpired int64
}

// ReconcileSummary reports one reconcile run.
type ReconcileSummary struct {
	DriftsFound int
	DriftsFixed int
}

type service struct {
	repo           Repository
	tx             txRunner
	outbox         outboxPublisher
	logg           *logger.Logger
	earnTTL        time.Duration
	sweepBatchSize int
}

// NewService builds the point ledger service.
func NewService(repo Repository, tx txRunner, outboxPub outboxPublisher, logg *logger.Logger, cfg config.PointsConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("points repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxPub == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:           repo,
		tx:             tx,
		outbox:         outboxPub,
		logg:           logg,
		earnTTL:        cfg.EarnTTL(),
		sweepBatchSize: 500,
	}, nil
}

func (s *service) Grant(ctx context.Context, tx *gorm.DB, input GrantInput) (*models.PointHistory, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for point grant")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Points <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "grant amount must be positive")
	}

	repo := s.repo.WithTx(tx)

	rows, err := repo.CreditBalance(ctx, input.UserID, input.Points)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit point balance")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	balance, err := repo.UserBalance(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read point balance")
	}

	expiresAt := input.ExpiresAt
	if expiresAt == nil {
		at := time.Now().Add(s.earnTTL)
		expiresAt = &at
	}

	row := &models.PointHistory{
		UserID:       input.UserID,
		OrderID:      input.OrderID,
		Type:         enums.PointEventEarn,
		Points:       input.Points,
		BalanceAfter: balance,
		Description:  optionalText(input.Description),
		ExpiresAt:    expiresAt,
	}
	if _, err := repo.CreateHistory(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write earn history")
	}
	return row, nil
}

// ConsumeFIFO spends points against the user's live earn grants, earliest
// expiration first. The conditional balance debit both enforces sufficiency
// and serializes concurrent consumes on the user row; the grant walk then
// re-verifies that the unexpired remainders actually cover the amount, so a
// balance inflated by unspendable credit still fails cleanly before any
// metadata write.
func (s *service) ConsumeFIFO(ctx context.Context, tx *gorm.DB, input ConsumeInput) (*models.PointHistory, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for point consume")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "consume amount must be positive")
	}
	if input.Type != enums.PointEventUse && input.Type != enums.PointEventCancelDeduct {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "consume type must be use or cancel_deduct")
	}

	repo := s.repo.WithTx(tx)

	rows, err := repo.DebitBalanceIfSufficient(ctx, input.UserID, input.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit point balance")
	}
	if rows == 0 {
		balance, balErr := repo.UserBalance(ctx, input.UserID)
		if balErr == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		if balErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, balErr, "read point balance")
		}
		return nil, insufficientPoints(input.Amount, balance)
	}

	grants, err := repo.FindConsumableGrants(ctx, input.UserID, time.Now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load earn grants")
	}

	var available int64
	for _, grant := range grants {
		if grant.Metadata.Expired {
			continue
		}
		available += grant.Metadata.Remaining(grant.Points)
	}
	if available < input.Amount {
		return nil, insufficientPoints(input.Amount, available)
	}

	left := input.Amount
	details := make([]types.PointUsageDetail, 0, len(grants))
	for _, grant := range grants {
		if left == 0 {
			break
		}
		if grant.Metadata.Expired {
			continue
		}
		take := grant.Metadata.Remaining(grant.Points)
		if take == 0 {
			continue
		}
		if take > left {
			take = left
		}

		grant.Metadata.UsedAmount += take
		if err := repo.UpdateMetadata(ctx, grant.ID, grant.Metadata); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update grant usage")
		}
		details = append(details, types.PointUsageDetail{HistoryID: grant.ID, Amount: take})
		left -= take
	}

	balance, err := repo.UserBalance(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read point balance")
	}

	row := &models.PointHistory{
		UserID:       input.UserID,
		OrderID:      input.OrderID,
		Type:         input.Type,
		Points:       -input.Amount,
		BalanceAfter: balance,
		Description:  optionalText(input.Description),
		Metadata:     types.PointMetadata{UsedDetails: details},
	}
	if _, err := repo.CreateHistory(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write consume history")
	}
	return row, nil
}

// Refund credits back the points an order consumed and un-spends the grants
// the original use row drew from, so the refunded amount stays spendable
// under the FIFO availability check. Grants that expired in the meantime are
// left alone; the refunded balance then simply lacks FIFO backing, which a
// later consume reports as insufficient points.
func (s *service) Refund(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.PointHistory, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for point refund")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	repo := s.repo.WithTx(tx)

	rows, err := repo.CreditBalance(ctx, input.UserID, input.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit point balance")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	restored, err := s.restoreGrantUsage(ctx, repo, input)
	if err != nil {
		return nil, err
	}

	balance, err := repo.UserBalance(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read point balance")
	}

	row := &models.PointHistory{
		UserID:       input.UserID,
		OrderID:      &input.OrderID,
		Type:         enums.PointEventCancelRefund,
		Points:       input.Amount,
		BalanceAfter: balance,
		Description:  optionalText(input.Description),
		Metadata:     types.PointMetadata{UsedDetails: restored},
	}
	if _, err := repo.CreateHistory(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write refund history")
	}
	return row, nil
}

func (s *service) restoreGrantUsage(ctx context.Context, repo Repository, input RefundInput) ([]types.PointUsageDetail, error) {
	useRow, err := repo.FindUseByOrder(ctx, input.UserID, input.OrderID)
	if err == gorm.ErrRecordNotFound {
		logCtx := s.logg.WithOrderID(ctx, input.OrderID.String())
		s.logg.Warn(logCtx, "refund without matching use row; grant usage left as is")
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load use history")
	}

	ids := make([]uuid.UUID, 0, len(useRow.Metadata.UsedDetails))
	for _, detail := range useRow.Metadata.UsedDetails {
		ids = append(ids, detail.HistoryID)
	}
	grants, err := repo.FindGrantsByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load consumed grants")
	}
	grantsByID := make(map[uuid.UUID]*models.PointHistory, len(grants))
	for i := range grants {
		grantsByID[grants[i].ID] = &grants[i]
	}

	now := time.Now()
	left := input.Amount
	restored := make([]types.PointUsageDetail, 0, len(useRow.Metadata.UsedDetails))
	for _, detail := range useRow.Metadata.UsedDetails {
		if left == 0 {
			break
		}
		grant, ok := grantsByID[detail.HistoryID]
		if !ok || grant.Metadata.Expired || grant.ExpiresAt == nil || !grant.ExpiresAt.After(now) {
			logCtx := s.logg.WithField(ctx, "grant_id", detail.HistoryID.String())
			s.logg.Warn(logCtx, "refund target grant expired; points stay as balance-only credit")
			continue
		}

		give := detail.Amount
		if give > left {
			give = left
		}
		if give > grant.Metadata.UsedAmount {
			give = grant.Metadata.UsedAmount
		}
		if give <= 0 {
			continue
		}

		grant.Metadata.UsedAmount -= give
		if err := repo.UpdateMetadata(ctx, grant.ID, grant.Metadata); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore grant usage")
		}
		restored = append(restored, types.PointUsageDetail{HistoryID: grant.ID, Amount: give})
		left -= give
	}
	return restored, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	balance, err := s.repo.UserBalance(ctx, userID)
	if err == gorm.ErrRecordNotFound {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read point balance")
	}
	return balance, nil
}

func (s *service) ListHistory(ctx context.Context, userID uuid.UUID, params pagination.Params, filter *enums.PointEventType) (*HistoryPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if filter != nil && !filter.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown point event type")
	}
	page, err := s.repo.ListHistory(ctx, userID, params, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list point history")
	}
	return page, nil
}

func insufficientPoints(requested, available int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientPoints, "insufficient points").WithDetails(map[string]any{
		"requested": requested,
		"available": available,
	})
}

func optionalText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
