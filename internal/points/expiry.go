package points

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox/payloads"
	"github.com/hanseoyun/shopcore-backend/pkg/types"
)

// ExpireDue sweeps earn grants past their expiration. Each user gets one
// transaction: unspent remainders become negative expire rows, the grant
// metadata is flagged so FIFO consumption and later sweeps skip the row, and
// the cached balance is corrected with a floor at zero. A failing user is
// logged and skipped so one poisoned ledger cannot stall the whole sweep.
func (s *service) ExpireDue(ctx context.Context) (*ExpireSummary, error) {
	now := time.Now()

	userIDs, err := s.repo.DueGrantUserIDs(ctx, now, s.sweepBatchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list users with due grants")
	}

	summary := &ExpireSummary{}
	var errs []error
	for _, userID := range userIDs {
		expired, total, err := s.expireUser(ctx, userID, now)
		if err != nil {
			logCtx := s.logg.WithUserID(ctx, userID.String())
			s.logg.Error(logCtx, "point expiry failed for user", err)
			errs = append(errs, fmt.Errorf("expire user %s: %w", userID, err))
			continue
		}
		summary.UsersSwept++
		summary.GrantsExpired += expired
		summary.PointsExpired += total
	}
	return summary, multierr.Combine(errs...)
}

func (s *service) expireUser(ctx context.Context, userID uuid.UUID, now time.Time) (int, int64, error) {
	var grantsFlagged int
	var pointsExpired int64

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		grants, err := repo.FindDueGrants(ctx, userID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load due grants")
		}

		for _, grant := range grants {
			remaining := grant.Metadata.Remaining(grant.Points)

			if remaining > 0 {
				if _, err := repo.DebitBalanceClamped(ctx, userID, remaining); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit expired balance")
				}
				balance, err := repo.UserBalance(ctx, userID)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read point balance")
				}

				grantID := grant.ID
				expireRow := &models.PointHistory{
					UserID:       userID,
					OrderID:      grant.OrderID,
					Type:         enums.PointEventExpire,
					Points:       -remaining,
					BalanceAfter: balance,
					Description:  optionalText("points expired"),
					Metadata: types.PointMetadata{
						ExpiredAmount:     remaining,
						OriginalHistoryID: &grantID,
					},
				}
				if _, err := repo.CreateHistory(ctx, expireRow); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write expire history")
				}
				pointsExpired += remaining
			}

			expiredAt := now
			grant.Metadata.Expired = true
			grant.Metadata.ExpiredAt = &expiredAt
			grant.Metadata.ExpiredAmount = remaining
			if err := repo.UpdateMetadata(ctx, grant.ID, grant.Metadata); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag expired grant")
			}
			grantsFlagged++
		}

		if pointsExpired > 0 {
			event := outbox.DomainEvent{
				EventType:     enums.EventPointsExpired,
				AggregateType: enums.AggregateUser,
				AggregateID:   userID,
				Version:       1,
				Data: payloads.PointsExpiredEvent{
					UserID:     userID,
					Amount:     pointsExpired,
					GrantCount: grantsFlagged,
					ExpiredAt:  now,
				},
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return grantsFlagged, pointsExpired, nil
}

// Reconcile recomputes every cached balance from the ledger and repairs
// drift. Consumption already re-verifies grant availability, so drift cannot
// corrupt spending; this backstop exists to keep the displayed balance
// honest and to surface bugs early.
func (s *service) Reconcile(ctx context.Context) (*ReconcileSummary, error) {
	drifts, err := s.repo.FindBalanceDrift(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan balance drift")
	}

	summary := &ReconcileSummary{DriftsFound: len(drifts)}
	var errs []error
	for _, drift := range drifts {
		var rows int64
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var repairErr error
			rows, repairErr = s.repo.WithTx(tx).RepairBalance(ctx, drift.UserID, drift.Cached, drift.Ledger)
			return repairErr
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile user %s: %w", drift.UserID, err))
			continue
		}
		if rows == 0 {
			// Balance moved since the scan; the next run re-checks.
			continue
		}

		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":        drift.UserID.String(),
			"cached_balance": drift.Cached,
			"ledger_balance": drift.Ledger,
		})
		s.logg.Warn(logCtx, "cached point balance drifted; repaired from ledger")
		summary.DriftsFixed++
	}
	return summary, multierr.Combine(errs...)
}
