package cron

import (
	"context"
	"fmt"

	"github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

type pointExpirer interface {
	ExpireDue(ctx context.Context) (*points.ExpireSummary, error)
}

type PointExpiryJobParams struct {
	Logger *logger.Logger
	Points pointExpirer
}

// NewPointExpiryJob sweeps earn grants whose TTL has lapsed into expire rows.
func NewPointExpiryJob(params PointExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Points == nil {
		return nil, fmt.Errorf("point service required")
	}
	return &pointExpiryJob{logg: params.Logger, points: params.Points}, nil
}

type pointExpiryJob struct {
	logg   *logger.Logger
	points pointExpirer
}

func (j *pointExpiryJob) Name() string { return "point-expiry" }

func (j *pointExpiryJob) Run(ctx context.Context) error {
	summary, err := j.points.ExpireDue(ctx)
	if err != nil {
		return fmt.Errorf("point expiry: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"users_swept":    summary.UsersSwept,
		"grants_expired": summary.GrantsExpired,
		"points_expired": summary.PointsExpired,
	})
	j.logg.Info(logCtx, "point expiry sweep complete")
	return nil
}
