package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	"github.com/hanseoyun/shopcore-backend/pkg/pagination"
	"github.com/hanseoyun/shopcore-backend/pkg/types"
)

// Repository defines persistence operations for the point ledger and the
// cached balance on the user row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateHistory(ctx context.Context, row *models.PointHistory) (*models.PointHistory, error)
	FindUseByOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.PointHistory, error)
	FindGrantsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.PointHistory, error)
	FindConsumableGrants(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointHistory, error)
	FindDueGrants(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointHistory, error)
	DueGrantUserIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	UpdateMetadata(ctx context.Context, historyID uuid.UUID, metadata types.PointMetadata) error
	UserBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)
	DebitBalanceIfSufficient(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)
	DebitBalanceClamped(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)
	RepairBalance(ctx context.Context, userID uuid.UUID, from, to int64) (int64, error)
	FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error)
	ListHistory(ctx context.Context, userID uuid.UUID, params pagination.Params, filter *enums.PointEventType) (*HistoryPage, error)
}

// BalanceDrift reports a user whose cached balance disagrees with the ledger.
type BalanceDrift struct {
	UserID uuid.UUID
	Cached int64
	Ledger int64
}

// HistoryPage wraps one page of ledger rows plus the next page cursor.
type HistoryPage struct {
	Entries    []models.PointHistory `json:"entries"`
	NextCursor string                `json:"next_cursor,omitempty"`
}
