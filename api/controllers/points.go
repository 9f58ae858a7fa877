package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hanseoyun/shopcore-backend/api/responses"
	"github.com/hanseoyun/shopcore-backend/api/validators"
	pointsvc "github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
	"github.com/hanseoyun/shopcore-backend/pkg/pagination"
)

// PointsList returns the cached balance plus a page of ledger history.
func PointsList(svc pointsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "point service unavailable"))
			return
		}

		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filter *enums.PointEventType
		if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
			parsed, parseErr := enums.ParsePointEventType(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "unknown point event type"))
				return
			}
			filter = &parsed
		}

		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListHistory(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		}, filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPointsResponse(balance, page))
	}
}

type pointsResponse struct {
	Balance    int64                `json:"balance"`
	Entries    []pointEntryResponse `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type pointEntryResponse struct {
	ID           uuid.UUID  `json:"id"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	Type         string     `json:"type"`
	Points       int64      `json:"points"`
	BalanceAfter int64      `json:"balance_after"`
	Description  *string    `json:"description,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func newPointsResponse(balance int64, page *pointsvc.HistoryPage) pointsResponse {
	entries := make([]pointEntryResponse, 0, len(page.Entries))
	for _, row := range page.Entries {
		entries = append(entries, newPointEntryResponse(row))
	}
	return pointsResponse{Balance: balance, Entries: entries, NextCursor: page.NextCursor}
}

func newPointEntryResponse(row models.PointHistory) pointEntryResponse {
	return pointEntryResponse{
		ID:           row.ID,
		OrderID:      row.OrderID,
		Type:         string(row.Type),
		Points:       row.Points,
		BalanceAfter: row.BalanceAfter,
		Description:  row.Description,
		ExpiresAt:    row.ExpiresAt,
		CreatedAt:    row.CreatedAt,
	}
}
