package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hanseoyun/shopcore-backend/api/responses"
	"github.com/hanseoyun/shopcore-backend/api/validators"
	cartsvc "github.com/hanseoyun/shopcore-backend/internal/cart"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
)

// CartGet returns the buyer's active cart, creating an empty one on first use.
func CartGet(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Get(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(record))
	}
}

// CartAddItem adds a product to the cart, merging quantity on repeat adds.
func CartAddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.AddItem(r.Context(), userID, payload.ProductID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(record))
	}
}

// CartRemoveItem deletes a single line from the cart.
func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		itemID, err := pathUUID(r, "itemID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.RemoveItem(r.Context(), userID, itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(record))
	}
}

type addCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

type cartResponse struct {
	ID        uuid.UUID          `json:"id"`
	Items     []cartItemResponse `json:"items"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type cartItemResponse struct {
	ID          uuid.UUID `json:"id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	UnitPrice   int64     `json:"unit_price"`
	Quantity    int       `json:"quantity"`
	InStock     bool      `json:"in_stock"`
}

func newCartResponse(record *models.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(record.Items))
	for _, item := range record.Items {
		entry := cartItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
		if item.Product != nil {
			entry.ProductName = item.Product.Name
			entry.UnitPrice = item.Product.Price.IntPart()
			entry.InStock = item.Product.IsActive && item.Product.Stock >= item.Quantity
		}
		items = append(items, entry)
	}
	return cartResponse{ID: record.ID, Items: items, UpdatedAt: record.UpdatedAt}
}
