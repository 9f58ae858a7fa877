package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/hanseoyun/shopcore-backend/internal/payments"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

type fakeReservationReleaser struct {
	summary *payments.ReleaseSummary
	err     error
	calls   int
}

func (f *fakeReservationReleaser) ReleaseAbortedReservations(context.Context) (*payments.ReleaseSummary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func TestStockReleaseJobRunsSweep(t *testing.T) {
	releaser := &fakeReservationReleaser{summary: &payments.ReleaseSummary{Scanned: 4, Released: 2}}
	job, err := NewStockReleaseJob(StockReleaseJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Payments: releaser,
	})
	if err != nil {
		t.Fatalf("NewStockReleaseJob: %v", err)
	}

	if got := job.Name(); got != "stock-release" {
		t.Fatalf("unexpected job name %q", got)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if releaser.calls != 1 {
		t.Fatalf("expected one sweep, got %d", releaser.calls)
	}
}

func TestStockReleaseJobPropagatesError(t *testing.T) {
	job, err := NewStockReleaseJob(StockReleaseJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Payments: &fakeReservationReleaser{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewStockReleaseJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
