package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/print-market/internal/database"
	"github.com/safar/print-market/internal/models"
	"github.com/safar/print-market/internal/orderstatus"
	"github.com/safar/print-market/internal/store"
)

type UpdateStatusRequest struct {
	Status  string `json:"status"`
	Notes   string `json:"notes"`
	Version int    `json:"version"`
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := s.Orders.ListCustomerOrders(r.Context(), user.ID, r.URL.Query().Get("cursor"), limit)
	if errors.Is(err, store.ErrInvalidCursor) {
		respondError(w, http.StatusBadRequest, "invalid_cursor", "cursor is not valid; start again from the first page")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.visibleOrder(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) orderHistory(w http.ResponseWriter, r *http.Request) {
	order, ok := s.visibleOrder(w, r)
	if !ok {
		return
	}

	history, err := s.Orders.StatusHistory(r.Context(), order.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if history == nil {
		history = []models.OrderStatusHistory{}
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := userFrom(ctx)

	var req UpdateStatusRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, ok := s.visibleOrder(w, r)
	if !ok {
		return
	}

	updated, err := s.Orders.UpdateOrderStatus(ctx, store.StatusChange{
		OrderID:         order.ID,
		To:              req.Status,
		Actor:           user.Role,
		ChangedBy:       user.ID,
		Notes:           req.Notes,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// visibleOrder loads the order named in the path if the caller may see it.
// Orders the caller has no relation to are reported as missing.
func (s *Server) visibleOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	ctx := r.Context()
	user, _ := userFrom(ctx)

	order, err := s.Orders.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}

	allowed, err := s.canAccess(ctx, user, order)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if !allowed {
		s.fail(w, r, database.ErrOrderNotFound)
		return nil, false
	}
	return order, true
}

func (s *Server) canAccess(ctx context.Context, user User, order *models.Order) (bool, error) {
	switch user.Role {
	case orderstatus.ActorAdmin:
		return true, nil
	case orderstatus.ActorShop:
		shop, err := s.Catalog.GetShop(ctx, order.ShopID)
		if err != nil {
			return false, err
		}
		return shop.OwnerID == user.ID, nil
	default:
		return order.CustomerID == user.ID, nil
	}
}
