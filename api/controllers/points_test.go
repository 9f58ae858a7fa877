package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pointsvc "github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	"github.com/hanseoyun/shopcore-backend/pkg/pagination"
)

type fakePointService struct {
	balance     int64
	page        *pointsvc.HistoryPage
	listedLimit int
	listedType  *enums.PointEventType
}

func (f *fakePointService) Grant(ctx context.Context, tx *gorm.DB, input pointsvc.GrantInput) (*models.PointHistory, error) {
	return nil, nil
}

func (f *fakePointService) ConsumeFIFO(ctx context.Context, tx *gorm.DB, input pointsvc.ConsumeInput) (*models.PointHistory, error) {
	return nil, nil
}

func (f *fakePointService) Refund(ctx context.Context, tx *gorm.DB, input pointsvc.RefundInput) (*models.PointHistory, error) {
	return nil, nil
}

func (f *fakePointService) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return f.balance, nil
}

func (f *fakePointService) ListHistory(ctx context.Context, userID uuid.UUID, params pagination.Params, filter *enums.PointEventType) (*pointsvc.HistoryPage, error) {
	f.listedLimit = params.Limit
	f.listedType = filter
	return f.page, nil
}

func (f *fakePointService) ExpireDue(ctx context.Context) (*pointsvc.ExpireSummary, error) {
	return &pointsvc.ExpireSummary{}, nil
}

func (f *fakePointService) Reconcile(ctx context.Context) (*pointsvc.ReconcileSummary, error) {
	return &pointsvc.ReconcileSummary{}, nil
}

func pointsPageFixture() *pointsvc.HistoryPage {
	desc := "points earned on order 20260830120000"
	expires := time.Now().Add(365 * 24 * time.Hour)
	return &pointsvc.HistoryPage{
		Entries: []models.PointHistory{
			{
				ID:           uuid.New(),
				Type:         enums.PointEventEarn,
				Points:       150,
				BalanceAfter: 1150,
				Description:  &desc,
				ExpiresAt:    &expires,
				CreatedAt:    time.Now(),
			},
			{
				ID:           uuid.New(),
				Type:         enums.PointEventUse,
				Points:       -1000,
				BalanceAfter: 1000,
				CreatedAt:    time.Now().Add(-time.Hour),
			},
		},
		NextCursor: "next-page-token",
	}
}

func TestPointsList_success(t *testing.T) {
	svc := &fakePointService{balance: 1150, page: pointsPageFixture()}
	handler := PointsList(svc, testLogger())

	req := authedRequest(t, http.MethodGet, "/api/v1/points", uuid.New(), nil, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Balance    int64  `json:"balance"`
		NextCursor string `json:"next_cursor"`
		Entries    []struct {
			Type   string `json:"type"`
			Points int64  `json:"points"`
		} `json:"entries"`
	}
	decodeSuccess(t, rec, &body)
	if body.Balance != 1150 {
		t.Fatalf("unexpected balance: %d", body.Balance)
	}
	if len(body.Entries) != 2 || body.Entries[0].Points != 150 || body.Entries[1].Points != -1000 {
		t.Fatalf("unexpected entries: %+v", body.Entries)
	}
	if body.NextCursor != "next-page-token" {
		t.Fatalf("unexpected cursor: %q", body.NextCursor)
	}
	if svc.listedLimit != pagination.DefaultLimit {
		t.Fatalf("unexpected default limit: %d", svc.listedLimit)
	}
	if svc.listedType != nil {
		t.Fatal("no type filter was requested")
	}
}

func TestPointsList_typeFilter(t *testing.T) {
	svc := &fakePointService{page: &pointsvc.HistoryPage{}}
	handler := PointsList(svc, testLogger())

	req := authedRequest(t, http.MethodGet, "/api/v1/points?type=earn&limit=10", uuid.New(), nil, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.listedType == nil || *svc.listedType != enums.PointEventEarn {
		t.Fatalf("unexpected filter: %v", svc.listedType)
	}
	if svc.listedLimit != 10 {
		t.Fatalf("unexpected limit: %d", svc.listedLimit)
	}
}

func TestPointsList_unknownTypeRejected(t *testing.T) {
	svc := &fakePointService{page: &pointsvc.HistoryPage{}}
	handler := PointsList(svc, testLogger())

	req := authedRequest(t, http.MethodGet, "/api/v1/points?type=bonus", uuid.New(), nil, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestPointsList_badLimitRejected(t *testing.T) {
	svc := &fakePointService{page: &pointsvc.HistoryPage{}}
	handler := PointsList(svc, testLogger())

	req := authedRequest(t, http.MethodGet, "/api/v1/points?limit=lots", uuid.New(), nil, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestPointsList_unauthenticated(t *testing.T) {
	handler := PointsList(&fakePointService{page: &pointsvc.HistoryPage{}}, testLogger())

	req := authedRequest(t, http.MethodGet, "/api/v1/points", uuid.Nil, nil, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
