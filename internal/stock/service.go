package stock

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

// Line pairs a product with a quantity for a bulk stock mutation.
type Line struct {
	ProductID uuid.UUID
	Qty       int
}

// Ledger mutates the stock counters on product rows. All methods run inside
// the caller's transaction; the conditional updates arbitrate concurrent
// callers by affected-row count, so no row locks are taken up front.
type Ledger interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []Line) error
	MarkSold(ctx context.Context, tx *gorm.DB, lines []Line) error
	Restore(ctx context.Context, tx *gorm.DB, lines []Line, wasSold bool) error
}

type ledger struct {
	logg *logger.Logger
}

// NewLedger builds the stock ledger collaborator.
func NewLedger(logg *logger.Logger) (Ledger, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ledger{logg: logg}, nil
}

// Reserve decrements stock for every line, failing the whole batch when any
// product cannot cover its quantity. Rows are touched in ascending product-id
// order so concurrent multi-line reservations cannot deadlock.
func (l *ledger) Reserve(ctx context.Context, tx *gorm.DB, lines []Line) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock reserve")
	}

	for _, line := range sortedByProduct(lines) {
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "reserve quantity must be positive")
		}

		res := tx.WithContext(ctx).Exec(`
			UPDATE products
			SET stock = stock - ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND stock >= ?
		`, line.Qty, line.ProductID, line.Qty)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").WithDetails(map[string]any{
				"product_id": line.ProductID,
				"requested":  line.Qty,
			})
		}
	}
	return nil
}

// MarkSold moves reserved quantities into the sold counter once payment
// completes. A product deleted since reservation is logged and skipped; the
// sale itself already happened.
func (l *ledger) MarkSold(ctx context.Context, tx *gorm.DB, lines []Line) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock mark-sold")
	}

	for _, line := range sortedByProduct(lines) {
		if line.Qty <= 0 {
			continue
		}

		res := tx.WithContext(ctx).Exec(`
			UPDATE products
			SET sold_count = sold_count + ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, line.Qty, line.ProductID)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark stock sold")
		}
		if res.RowsAffected == 0 {
			logCtx := l.logg.WithField(ctx, "product_id", line.ProductID.String())
			l.logg.Warn(logCtx, "mark-sold skipped; product no longer exists")
		}
	}
	return nil
}

// Restore hands reserved quantities back after a cancellation or an aborted
// payment. wasSold indicates the reservation had already been marked sold, in
// which case the sold counter is walked back too. Missing products are logged
// and skipped rather than failing the surrounding cancellation.
func (l *ledger) Restore(ctx context.Context, tx *gorm.DB, lines []Line, wasSold bool) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock restore")
	}

	for _, line := range sortedByProduct(lines) {
		if line.Qty <= 0 {
			continue
		}

		var res *gorm.DB
		if wasSold {
			res = tx.WithContext(ctx).Exec(`
				UPDATE products
				SET stock = stock + ?,
				    sold_count = CASE WHEN sold_count > ? THEN sold_count - ? ELSE 0 END,
				    updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, line.Qty, line.Qty, line.Qty, line.ProductID)
		} else {
			res = tx.WithContext(ctx).Exec(`
				UPDATE products
				SET stock = stock + ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, line.Qty, line.ProductID)
		}
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restore stock")
		}
		if res.RowsAffected == 0 {
			logCtx := l.logg.WithField(ctx, "product_id", line.ProductID.String())
			l.logg.Warn(logCtx, "stock restore skipped; product no longer exists")
		}
	}
	return nil
}

func sortedByProduct(lines []Line) []Line {
	ordered := make([]Line, len(lines))
	copy(ordered, lines)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].ProductID[:], ordered[j].ProductID[:]) < 0
	})
	return ordered
}
