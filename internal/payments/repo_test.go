package payments

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
)

// openTestDB opens a fresh in-memory database per test, pinned to a single
// pooled connection so concurrent callers share it.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	ddl := `CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		gateway_order_id TEXT NOT NULL UNIQUE,
		payment_key TEXT UNIQUE,
		amount NUMERIC NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'ready',
		method TEXT,
		canceled_amount NUMERIC NOT NULL DEFAULT 0,
		cancel_reason TEXT,
		fail_reason TEXT,
		approved_at DATETIME,
		canceled_at DATETIME,
		raw_response TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if err := conn.Exec(ddl).Error; err != nil {
		t.Fatalf("failed to create payments table: %v", err)
	}
	return conn
}

func mustCreateReadyPayment(t *testing.T, conn *gorm.DB, amount int64) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		ID:             uuid.New(),
		OrderID:        uuid.New(),
		GatewayOrderID: "20260830" + uuid.NewString()[:6],
		Amount:         decimal.NewFromInt(amount),
		Status:         enums.PaymentStatusReady,
	}
	if err := conn.Create(payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return payment
}

func reloadPayment(t *testing.T, conn *gorm.DB, id uuid.UUID) *models.Payment {
	t.Helper()
	var payment models.Payment
	if err := conn.Where("id = ?", id).First(&payment).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	return &payment
}

func TestRepositoryMarkDoneSingleWinner(t *testing.T) {
	conn := openTestDB(t)
	repo := NewRepository(conn)
	payment := mustCreateReadyPayment(t, conn, 15000)

	const callers = 5
	key := "pk_live_race"
	method := "카드"
	approvedAt := time.Now()

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := repo.MarkDone(context.Background(), payment.ID, &key, &method, approvedAt, nil)
			if err != nil {
				t.Errorf("mark done: %v", err)
				return
			}
			atomic.AddInt64(&wins, rows)
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one transition to done, got %d", wins)
	}
	got := reloadPayment(t, conn, payment.ID)
	if got.Status != enums.PaymentStatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
	if got.PaymentKey == nil || *got.PaymentKey != key {
		t.Fatalf("payment key not recorded: %+v", got.PaymentKey)
	}
}

func TestRepositoryMarkAbortedIgnoresSettledPayment(t *testing.T) {
	conn := openTestDB(t)
	repo := NewRepository(conn)
	payment := mustCreateReadyPayment(t, conn, 15000)

	if _, err := repo.MarkDone(context.Background(), payment.ID, nil, nil, time.Now(), nil); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	rows, err := repo.MarkAborted(context.Background(), payment.ID, "[PAY_PROCESS_CANCELED] buyer closed the widget")
	if err != nil {
		t.Fatalf("mark aborted: %v", err)
	}
	if rows != 0 {
		t.Fatalf("a settled payment must not abort, got %d rows", rows)
	}
	got := reloadPayment(t, conn, payment.ID)
	if got.Status != enums.PaymentStatusDone {
		t.Fatalf("expected status to stay done, got %s", got.Status)
	}
	if got.FailReason != nil {
		t.Fatalf("fail reason must stay empty, got %q", *got.FailReason)
	}
}

func TestRepositoryMarkCanceledRequiresDone(t *testing.T) {
	conn := openTestDB(t)
	repo := NewRepository(conn)
	payment := mustCreateReadyPayment(t, conn, 15000)
	canceledAt := time.Now()

	rows, err := repo.MarkCanceled(context.Background(), payment.ID, "changed my mind", payment.Amount, canceledAt)
	if err != nil {
		t.Fatalf("mark canceled: %v", err)
	}
	if rows != 0 {
		t.Fatalf("a ready payment must not cancel, got %d rows", rows)
	}

	if _, err := repo.MarkDone(context.Background(), payment.ID, nil, nil, time.Now(), nil); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	rows, err = repo.MarkCanceled(context.Background(), payment.ID, "changed my mind", payment.Amount, canceledAt)
	if err != nil {
		t.Fatalf("mark canceled: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected the done payment to cancel, got %d rows", rows)
	}
	got := reloadPayment(t, conn, payment.ID)
	if got.Status != enums.PaymentStatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
	if got.CancelReason == nil || *got.CancelReason != "changed my mind" {
		t.Fatalf("cancel reason not recorded: %+v", got.CancelReason)
	}
	if !got.CanceledAmount.Equal(payment.Amount) {
		t.Fatalf("expected canceled amount %s, got %s", payment.Amount, got.CanceledAmount)
	}
}
