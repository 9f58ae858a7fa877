package cron

import (
	"context"
	"fmt"

	"github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

type pointReconciler interface {
	Reconcile(ctx context.Context) (*points.ReconcileSummary, error)
}

type PointReconcileJobParams struct {
	Logger *logger.Logger
	Points pointReconciler
}

// NewPointReconcileJob repairs cached balances that drifted from the ledger.
func NewPointReconcileJob(params PointReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Points == nil {
		return nil, fmt.Errorf("point service required")
	}
	return &pointReconcileJob{logg: params.Logger, points: params.Points}, nil
}

type pointReconcileJob struct {
	logg   *logger.Logger
	points pointReconciler
}

func (j *pointReconcileJob) Name() string { return "point-reconcile" }

func (j *pointReconcileJob) Run(ctx context.Context) error {
	summary, err := j.points.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("point reconcile: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"drifts_found": summary.DriftsFound,
		"drifts_fixed": summary.DriftsFixed,
	})
	if summary.DriftsFound > 0 {
		j.logg.Warn(logCtx, "point balance drift repaired")
		return nil
	}
	j.logg.Info(logCtx, "point balances consistent")
	return nil
}
