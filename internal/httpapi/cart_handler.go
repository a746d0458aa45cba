package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/safar/print-market/internal/customization"
	"github.com/safar/print-market/internal/models"
	"github.com/safar/print-market/internal/pricing"
	"github.com/shopspring/decimal"
)

type CartView struct {
	Items    []models.CartItem      `json:"items"`
	Shops    []pricing.ShopSubtotal `json:"shops"`
	Subtotal decimal.Decimal        `json:"subtotal"`
}

func cartView(items []models.CartItem) CartView {
	if items == nil {
		items = []models.CartItem{}
	}
	return CartView{
		Items:    items,
		Shops:    pricing.Subtotals(items),
		Subtotal: pricing.CartTotal(items),
	}
}

type AddItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	// Selections maps group id to chosen option ids. When omitted the
	// product's default options are used.
	Selections map[string][]string `json:"selections"`
	Notes      string              `json:"notes"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	items, err := s.Carts(user.ID).Items(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, cartView(items))
}

// addCartItem resolves the chosen options against the live catalog and
// stores a priced snapshot of the line.
func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := userFrom(ctx)

	var req AddItemRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	product, err := s.Catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shop, err := s.Catalog.GetShop(ctx, product.ShopID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	groups, err := s.Catalog.ListCustomizationGroups(ctx, product.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	selections := req.Selections
	if selections == nil {
		selections = customization.DefaultSelections(groups)
	}
	selected, err := customization.Resolve(groups, selections)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	c := s.Carts(user.ID)
	err = c.Add(ctx, models.CartItem{
		ProductID:      product.ID,
		ProductName:    product.Name,
		ShopID:         shop.ID,
		ShopName:       shop.Name,
		BasePrice:      product.BasePrice,
		Quantity:       req.Quantity,
		Customizations: selected,
		Notes:          strings.TrimSpace(req.Notes),
		ImageURL:       product.ImageURL,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	items, err := c.Items(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cartView(items))
}

func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := userFrom(ctx)

	index, ok := lineIndex(w, r)
	if !ok {
		return
	}
	var req UpdateQuantityRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	c := s.Carts(user.ID)
	if err := c.UpdateQuantity(ctx, index, req.Quantity); err != nil {
		s.fail(w, r, err)
		return
	}

	items, err := c.Items(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartView(items))
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := userFrom(ctx)

	index, ok := lineIndex(w, r)
	if !ok {
		return
	}

	c := s.Carts(user.ID)
	if err := c.Remove(ctx, index); err != nil {
		s.fail(w, r, err)
		return
	}

	items, err := c.Items(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartView(items))
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	if err := s.Carts(user.ID).Clear(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartView(nil))
}

func lineIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_index", "line index must be an integer")
		return 0, false
	}
	return index, true
}
