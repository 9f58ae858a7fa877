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

type repository struct {
	db *gorm.DB
}

// NewRepository builds a point ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateHistory(ctx context.Context, row *models.PointHistory) (*models.PointHistory, error) {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *repository) FindUseByOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.PointHistory, error) {
	var row models.PointHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND order_id = ? AND type = ?", userID, orderID, enums.PointEventUse).
		Order("created_at ASC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindGrantsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.PointHistory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.PointHistory
	err := r.db.WithContext(ctx).
		Where("id IN ? AND type = ?", ids, enums.PointEventEarn).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindConsumableGrants returns the user's live earn rows in FIFO order:
// earliest-expiring first, creation time as the tiebreak.
func (r *repository) FindConsumableGrants(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointHistory, error) {
	var rows []models.PointHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND expires_at > ?", userID, enums.PointEventEarn, now).
		Order("expires_at ASC, created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindDueGrants returns earn rows past their expiration that the sweep has
// not flagged yet.
func (r *repository) FindDueGrants(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointHistory, error) {
	var rows []models.PointHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND expires_at <= ?", userID, enums.PointEventEarn, now).
		Where("(metadata ->> 'expired') IS DISTINCT FROM 'true'").
		Order("expires_at ASC, created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) DueGrantUserIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.PointHistory{}).
		Distinct("user_id").
		Where("type = ? AND expires_at <= ?", enums.PointEventEarn, now).
		Where("(metadata ->> 'expired') IS DISTINCT FROM 'true'").
		Order("user_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) UpdateMetadata(ctx context.Context, historyID uuid.UUID, metadata types.PointMetadata) error {
	return r.db.WithContext(ctx).
		Model(&models.PointHistory{}).
		Where("id = ?", historyID).
		Update("metadata", metadata).Error
}

func (r *repository) UserBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("points").
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return 0, err
	}
	return user.Points, nil
}

// CreditBalance adds to the cached balance and locks the user row for the
// rest of the transaction. Returns the number of rows touched; zero means
// the user does not exist.
func (r *repository) CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET points = points + ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, amount, userID)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// DebitBalanceIfSufficient is the conditional update every consume starts
// with. Zero rows means the balance cannot cover the amount (or the user is
// missing); a hit also serializes concurrent consumes on the user row.
func (r *repository) DebitBalanceIfSufficient(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET points = points - ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND points >= ?
	`, amount, userID, amount)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// DebitBalanceClamped subtracts without a sufficiency guard, flooring at
// zero. The expiry sweep uses it because an expired remainder may exceed the
// cached balance after historical drift.
func (r *repository) DebitBalanceClamped(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET points = GREATEST(points - ?, 0), updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, amount, userID)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// RepairBalance rewrites the cached balance only when it still holds the
// value the drift scan observed, so a consume racing the reconcile job wins.
func (r *repository) RepairBalance(ctx context.Context, userID uuid.UUID, from, to int64) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET points = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND points = ?
	`, to, userID, from)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// FindBalanceDrift compares every cached balance against the ledger sum.
// The ledger side floors at zero to mirror the clamp the expiry sweep
// applies to the cached balance.
func (r *repository) FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error) {
	var drifts []BalanceDrift
	err := r.db.WithContext(ctx).Raw(`
		SELECT u.id AS user_id,
			u.points AS cached,
			GREATEST(COALESCE(SUM(ph.points), 0), 0) AS ledger
		FROM users u
		LEFT JOIN point_histories ph ON ph.user_id = u.id
		GROUP BY u.id, u.points
		HAVING u.points <> GREATEST(COALESCE(SUM(ph.points), 0), 0)
		ORDER BY u.id
	`).Scan(&drifts).Error
	if err != nil {
		return nil, err
	}
	return drifts, nil
}

func (r *repository) ListHistory(ctx context.Context, userID uuid.UUID, params pagination.Params, filter *enums.PointEventType) (*HistoryPage, error) {
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID)
	if filter != nil {
		query = query.Where("type = ?", *filter)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.PointHistory
	err = query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	page.Entries = rows
	return page, nil
}
