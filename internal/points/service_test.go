package points

import (
	"context"
	"testing"
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

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

// stubLedgerRepo keeps the cached balance and the grant rows in memory and
// mimics the conditional-update row counts of the real repository.
type stubLedgerRepo struct {
	userExists bool
	balance    int64
	grants     []*models.PointHistory
	created    []*models.PointHistory
	useRows    map[uuid.UUID]*models.PointHistory
	drifts     []BalanceDrift
	repairHits int64
}

func newStubLedgerRepo(balance int64) *stubLedgerRepo {
	return &stubLedgerRepo{
		userExists: true,
		balance:    balance,
		useRows:    map[uuid.UUID]*models.PointHistory{},
		repairHits: 1,
	}
}

func (s *stubLedgerRepo) addGrant(points int64, expiresAt time.Time, meta types.PointMetadata) *models.PointHistory {
	row := &models.PointHistory{
		ID:        uuid.New(),
		Type:      enums.PointEventEarn,
		Points:    points,
		ExpiresAt: &expiresAt,
		Metadata:  meta,
		CreatedAt: time.Now().Add(-time.Duration(len(s.grants)) * time.Minute),
	}
	s.grants = append(s.grants, row)
	return row
}

func (s *stubLedgerRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubLedgerRepo) CreateHistory(ctx context.Context, row *models.PointHistory) (*models.PointHistory, error) {
	row.ID = uuid.New()
	s.created = append(s.created, row)
	if row.Type == enums.PointEventUse && row.OrderID != nil {
		s.useRows[*row.OrderID] = row
	}
	return row, nil
}

func (s *stubLedgerRepo) FindUseByOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.PointHistory, error) {
	row, ok := s.useRows[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (s *stubLedgerRepo) FindGrantsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.PointHistory, error) {
	var rows []models.PointHistory
	for _, id := range ids {
		for _, grant := range s.grants {
			if grant.ID == id {
				rows = append(rows, *grant)
			}
		}
	}
	return rows, nil
}

func (s *stubLedgerRepo) FindConsumableGrants(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointHistory, error) {
	var rows []models.PointHistory
	for _, grant := range s.grants {
		if grant.ExpiresAt != nil && grant.ExpiresAt.After(now) {
			rows = append(rows, *grant)
		}
	}
	sortByExpiration(rows)
	return rows, nil
}

func (s *stubLedgerRepo) FindDueGrants(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointHistory, error) {
	var rows []models.PointHistory
	for _, grant := range s.grants {
		if grant.ExpiresAt != nil && !grant.ExpiresAt.After(now) && !grant.Metadata.Expired {
			rows = append(rows, *grant)
		}
	}
	sortByExpiration(rows)
	return rows, nil
}

func (s *stubLedgerRepo) DueGrantUserIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	due, _ := s.FindDueGrants(ctx, uuid.Nil, now)
	if len(due) == 0 {
		return nil, nil
	}
	return []uuid.UUID{due[0].UserID}, nil
}

func (s *stubLedgerRepo) UpdateMetadata(ctx context.Context, historyID uuid.UUID, metadata types.PointMetadata) error {
	for _, grant := range s.grants {
		if grant.ID == historyID {
			grant.Metadata = metadata
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *stubLedgerRepo) UserBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if !s.userExists {
		return 0, gorm.ErrRecordNotFound
	}
	return s.balance, nil
}

func (s *stubLedgerRepo) CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if !s.userExists {
		return 0, nil
	}
	s.balance += amount
	return 1, nil
}

func (s *stubLedgerRepo) DebitBalanceIfSufficient(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if !s.userExists || s.balance < amount {
		return 0, nil
	}
	s.balance -= amount
	return 1, nil
}

func (s *stubLedgerRepo) DebitBalanceClamped(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if !s.userExists {
		return 0, nil
	}
	s.balance -= amount
	if s.balance < 0 {
		s.balance = 0
	}
	return 1, nil
}

func (s *stubLedgerRepo) RepairBalance(ctx context.Context, userID uuid.UUID, from, to int64) (int64, error) {
	if s.repairHits == 0 {
		return 0, nil
	}
	s.balance = to
	return 1, nil
}

func (s *stubLedgerRepo) FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error) {
	return s.drifts, nil
}

func (s *stubLedgerRepo) ListHistory(ctx context.Context, userID uuid.UUID, params pagination.Params, filter *enums.PointEventType) (*HistoryPage, error) {
	var rows []models.PointHistory
	for _, row := range s.created {
		if filter != nil && row.Type != *filter {
			continue
		}
		rows = append(rows, *row)
	}
	return &HistoryPage{Entries: rows}, nil
}

func sortByExpiration(rows []models.PointHistory) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].ExpiresAt.Before(*rows[j-1].ExpiresAt); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func newLedger(t *testing.T, repo *stubLedgerRepo) (Service, *stubOutbox) {
	t.Helper()
	outboxStub := &stubOutbox{}
	svc, err := NewService(repo, fakeTxRunner{}, outboxStub, logger.New(logger.Options{ServiceName: "test"}), config.PointsConfig{
		EarnTTLDays: 365,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, outboxStub
}

func TestConsumeFIFO_spendsEarliestExpiringFirst(t *testing.T) {
	repo := newStubLedgerRepo(6000)
	day := 24 * time.Hour
	first := repo.addGrant(1000, time.Now().Add(1*day), types.PointMetadata{})
	second := repo.addGrant(2000, time.Now().Add(2*day), types.PointMetadata{})
	third := repo.addGrant(3000, time.Now().Add(3*day), types.PointMetadata{})
	svc, _ := newLedger(t, repo)

	row, err := svc.ConsumeFIFO(context.Background(), &gorm.DB{}, ConsumeInput{
		UserID: uuid.New(),
		Amount: 3500,
		Type:   enums.PointEventUse,
	})
	if err != nil {
		t.Fatalf("ConsumeFIFO: %v", err)
	}

	if row.Points != -3500 {
		t.Fatalf("unexpected ledger delta: %d", row.Points)
	}
	if row.BalanceAfter != 2500 {
		t.Fatalf("unexpected balance snapshot: %d", row.BalanceAfter)
	}
	if first.Metadata.UsedAmount != 1000 {
		t.Fatalf("first grant usage: %d", first.Metadata.UsedAmount)
	}
	if second.Metadata.UsedAmount != 2000 {
		t.Fatalf("second grant usage: %d", second.Metadata.UsedAmount)
	}
	if third.Metadata.UsedAmount != 500 {
		t.Fatalf("third grant usage: %d", third.Metadata.UsedAmount)
	}

	details := row.Metadata.UsedDetails
	if len(details) != 3 {
		t.Fatalf("expected 3 usage details, got %d", len(details))
	}
	if details[0].HistoryID != first.ID || details[0].Amount != 1000 {
		t.Fatalf("unexpected first detail: %+v", details[0])
	}
	if details[2].HistoryID != third.ID || details[2].Amount != 500 {
		t.Fatalf("unexpected last detail: %+v", details[2])
	}
}

func TestConsumeFIFO_partiallySpentGrant(t *testing.T) {
	repo := newStubLedgerRepo(1500)
	grant := repo.addGrant(2000, time.Now().Add(time.Hour), types.PointMetadata{UsedAmount: 500})
	svc, _ := newLedger(t, repo)

	_, err := svc.ConsumeFIFO(context.Background(), &gorm.DB{}, ConsumeInput{
		UserID: uuid.New(),
		Amount: 1500,
		Type:   enums.PointEventUse,
	})
	if err != nil {
		t.Fatalf("ConsumeFIFO: %v", err)
	}
	if grant.Metadata.UsedAmount != 2000 {
		t.Fatalf("expected grant fully drained, got %d", grant.Metadata.UsedAmount)
	}
}

func TestConsumeFIFO_insufficientBalance(t *testing.T) {
	repo := newStubLedgerRepo(100)
	svc, _ := newLedger(t, repo)

	_, err := svc.ConsumeFIFO(context.Background(), &gorm.DB{}, ConsumeInput{
		UserID: uuid.New(),
		Amount: 500,
		Type:   enums.PointEventUse,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientPoints {
		t.Fatalf("expected INSUFFICIENT_POINTS, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok || details["requested"] != int64(500) || details["available"] != int64(100) {
		t.Fatalf("unexpected details: %v", typed.Details())
	}
	if len(repo.created) != 0 {
		t.Fatal("no ledger row may be written on rejection")
	}
}

func TestConsumeFIFO_balanceNotBackedByGrants(t *testing.T) {
	// The cached balance covers the amount but the only grant expired, so the
	// FIFO walk must reject before any metadata write.
	repo := newStubLedgerRepo(1000)
	repo.addGrant(1000, time.Now().Add(-time.Hour), types.PointMetadata{})
	svc, _ := newLedger(t, repo)

	_, err := svc.ConsumeFIFO(context.Background(), &gorm.DB{}, ConsumeInput{
		UserID: uuid.New(),
		Amount: 800,
		Type:   enums.PointEventUse,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientPoints {
		t.Fatalf("expected INSUFFICIENT_POINTS, got %v", err)
	}
}

func TestConsumeFIFO_rejectsUnknownType(t *testing.T) {
	repo := newStubLedgerRepo(1000)
	svc, _ := newLedger(t, repo)

	_, err := svc.ConsumeFIFO(context.Background(), &gorm.DB{}, ConsumeInput{
		UserID: uuid.New(),
		Amount: 100,
		Type:   enums.PointEventEarn,
	})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestGrant_defaultsExpiration(t *testing.T) {
	repo := newStubLedgerRepo(0)
	svc, _ := newLedger(t, repo)

	before := time.Now()
	row, err := svc.Grant(context.Background(), &gorm.DB{}, GrantInput{
		UserID:      uuid.New(),
		Points:      150,
		Description: "purchase reward",
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if row.Type != enums.PointEventEarn || row.Points != 150 {
		t.Fatalf("unexpected earn row: %+v", row)
	}
	if row.BalanceAfter != 150 {
		t.Fatalf("unexpected balance snapshot: %d", row.BalanceAfter)
	}
	if row.ExpiresAt == nil {
		t.Fatal("expected a default expiration")
	}
	wantMin := before.Add(365 * 24 * time.Hour)
	if row.ExpiresAt.Before(wantMin.Add(-time.Minute)) || row.ExpiresAt.After(wantMin.Add(time.Hour)) {
		t.Fatalf("expiration not at configured TTL: %s", row.ExpiresAt)
	}
}

func TestGrant_unknownUser(t *testing.T) {
	repo := newStubLedgerRepo(0)
	repo.userExists = false
	svc, _ := newLedger(t, repo)

	_, err := svc.Grant(context.Background(), &gorm.DB{}, GrantInput{UserID: uuid.New(), Points: 10})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRefund_restoresGrantUsage(t *testing.T) {
	repo := newStubLedgerRepo(2000)
	userID := uuid.New()
	orderID := uuid.New()
	day := 24 * time.Hour
	first := repo.addGrant(1000, time.Now().Add(1*day), types.PointMetadata{})
	second := repo.addGrant(2000, time.Now().Add(2*day), types.PointMetadata{})
	svc, _ := newLedger(t, repo)

	if _, err := svc.ConsumeFIFO(context.Background(), &gorm.DB{}, ConsumeInput{
		UserID:  userID,
		Amount:  1500,
		Type:    enums.PointEventUse,
		OrderID: &orderID,
	}); err != nil {
		t.Fatalf("ConsumeFIFO: %v", err)
	}

	row, err := svc.Refund(context.Background(), &gorm.DB{}, RefundInput{
		UserID:  userID,
		Amount:  1500,
		OrderID: orderID,
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if row.Type != enums.PointEventCancelRefund || row.Points != 1500 {
		t.Fatalf("unexpected refund row: %+v", row)
	}
	if repo.balance != 2000 {
		t.Fatalf("balance not restored: %d", repo.balance)
	}
	if first.Metadata.UsedAmount != 0 {
		t.Fatalf("first grant usage not restored: %d", first.Metadata.UsedAmount)
	}
	if second.Metadata.UsedAmount != 0 {
		t.Fatalf("second grant usage not restored: %d", second.Metadata.UsedAmount)
	}
}

func TestRefund_skipsExpiredGrants(t *testing.T) {
	repo := newStubLedgerRepo(500)
	userID := uuid.New()
	orderID := uuid.New()
	grant := repo.addGrant(500, time.Now().Add(time.Minute), types.PointMetadata{})
	svc, _ := newLedger(t, repo)

	if _, err := svc.ConsumeFIFO(context.Background(), &gorm.DB{}, ConsumeInput{
		UserID:  userID,
		Amount:  500,
		Type:    enums.PointEventUse,
		OrderID: &orderID,
	}); err != nil {
		t.Fatalf("ConsumeFIFO: %v", err)
	}

	// The grant lapses between consumption and the cancel refund.
	past := time.Now().Add(-time.Minute)
	grant.ExpiresAt = &past

	row, err := svc.Refund(context.Background(), &gorm.DB{}, RefundInput{
		UserID:  userID,
		Amount:  500,
		OrderID: orderID,
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if repo.balance != 500 {
		t.Fatalf("balance must still be credited: %d", repo.balance)
	}
	if grant.Metadata.UsedAmount != 500 {
		t.Fatalf("expired grant must keep its usage: %d", grant.Metadata.UsedAmount)
	}
	if len(row.Metadata.UsedDetails) != 0 {
		t.Fatalf("no restoration details expected, got %+v", row.Metadata.UsedDetails)
	}
}

func TestRefund_withoutUseRowStillCredits(t *testing.T) {
	repo := newStubLedgerRepo(0)
	svc, _ := newLedger(t, repo)

	row, err := svc.Refund(context.Background(), &gorm.DB{}, RefundInput{
		UserID:  uuid.New(),
		Amount:  300,
		OrderID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if repo.balance != 300 || row.Points != 300 {
		t.Fatalf("refund must credit the balance, got balance=%d row=%+v", repo.balance, row)
	}
}

func TestExpireDue_writesExpireRowsAndFlagsGrants(t *testing.T) {
	repo := newStubLedgerRepo(1300)
	userID := uuid.New()
	spent := repo.addGrant(1000, time.Now().Add(-time.Hour), types.PointMetadata{UsedAmount: 700})
	spent.UserID = userID
	fresh := repo.addGrant(1000, time.Now().Add(time.Hour), types.PointMetadata{})
	fresh.UserID = userID
	svc, outboxStub := newLedger(t, repo)

	summary, err := svc.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if summary.UsersSwept != 1 || summary.GrantsExpired != 1 || summary.PointsExpired != 300 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if repo.balance != 1000 {
		t.Fatalf("expected 300 debited, balance %d", repo.balance)
	}
	if !spent.Metadata.Expired || spent.Metadata.ExpiredAmount != 300 {
		t.Fatalf("grant not flagged: %+v", spent.Metadata)
	}
	if fresh.Metadata.Expired {
		t.Fatal("live grant must not be flagged")
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one expire row, got %d", len(repo.created))
	}
	expireRow := repo.created[0]
	if expireRow.Type != enums.PointEventExpire || expireRow.Points != -300 {
		t.Fatalf("unexpected expire row: %+v", expireRow)
	}
	if expireRow.Metadata.OriginalHistoryID == nil || *expireRow.Metadata.OriginalHistoryID != spent.ID {
		t.Fatalf("expire row must reference the lapsed grant")
	}
	if len(outboxStub.events) != 1 || outboxStub.events[0].EventType != enums.EventPointsExpired {
		t.Fatalf("expected points_expired event, got %+v", outboxStub.events)
	}
}

func TestExpireDue_fullySpentGrantOnlyFlagged(t *testing.T) {
	repo := newStubLedgerRepo(0)
	grant := repo.addGrant(1000, time.Now().Add(-time.Hour), types.PointMetadata{UsedAmount: 1000})
	grant.UserID = uuid.New()
	svc, outboxStub := newLedger(t, repo)

	summary, err := svc.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if summary.PointsExpired != 0 || summary.GrantsExpired != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(repo.created) != 0 {
		t.Fatal("no expire row expected for a drained grant")
	}
	if len(outboxStub.events) != 0 {
		t.Fatal("no event expected when nothing expired")
	}
}

func TestReconcile_repairsDrift(t *testing.T) {
	repo := newStubLedgerRepo(900)
	repo.drifts = []BalanceDrift{{UserID: uuid.New(), Cached: 900, Ledger: 700}}
	svc, _ := newLedger(t, repo)

	summary, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if summary.DriftsFound != 1 || summary.DriftsFixed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if repo.balance != 700 {
		t.Fatalf("balance not repaired: %d", repo.balance)
	}
}

func TestReconcile_lostRaceIsNotAFix(t *testing.T) {
	repo := newStubLedgerRepo(900)
	repo.drifts = []BalanceDrift{{UserID: uuid.New(), Cached: 900, Ledger: 700}}
	repo.repairHits = 0
	svc, _ := newLedger(t, repo)

	summary, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if summary.DriftsFound != 1 || summary.DriftsFixed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestBalance_unknownUser(t *testing.T) {
	repo := newStubLedgerRepo(0)
	repo.userExists = false
	svc, _ := newLedger(t, repo)

	_, err := svc.Balance(context.Background(), uuid.New())
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestListHistory_rejectsUnknownFilter(t *testing.T) {
	repo := newStubLedgerRepo(0)
	svc, _ := newLedger(t, repo)

	bogus := enums.PointEventType("bogus")
	_, err := svc.ListHistory(context.Background(), uuid.New(), pagination.Params{}, &bogus)
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}
