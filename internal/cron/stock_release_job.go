package cron

import (
	"context"
	"fmt"

	"github.com/hanseoyun/shopcore-backend/internal/payments"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

type reservationReleaser interface {
	ReleaseAbortedReservations(ctx context.Context) (*payments.ReleaseSummary, error)
}

type StockReleaseJobParams struct {
	Logger   *logger.Logger
	Payments reservationReleaser
}

// NewStockReleaseJob returns reserved stock from payments that aborted and
// were never retried. It is the backstop for the deferred release mode.
func NewStockReleaseJob(params StockReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	return &stockReleaseJob{logg: params.Logger, payments: params.Payments}, nil
}

type stockReleaseJob struct {
	logg     *logger.Logger
	payments reservationReleaser
}

func (j *stockReleaseJob) Name() string { return "stock-release" }

func (j *stockReleaseJob) Run(ctx context.Context) error {
	summary, err := j.payments.ReleaseAbortedReservations(ctx)
	if err != nil {
		return fmt.Errorf("stock release: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":  summary.Scanned,
		"released": summary.Released,
	})
	j.logg.Info(logCtx, "aborted reservation sweep complete")
	return nil
}
