package httpapi

import (
	"net/http"
	"strings"

	"github.com/safar/print-market/internal/checkout"
	"go.uber.org/zap"
)

type ValidateDiscountRequest struct {
	Code   string `json:"code"`
	ShopID string `json:"shop_id"`
}

type CheckoutRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	FulfillmentType string `json:"fulfillment_type"`
	DeliveryAddress string `json:"delivery_address"`
	PaymentMethod   string `json:"payment_method"`
	Notes           string `json:"notes"`
	DiscountCode    string `json:"discount_code"`
}

// validateDiscount checks a code against the caller's current cart. A
// shop_id, or a code bound to a shop, prices it on that shop's lines only.
func (s *Server) validateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := userFrom(ctx)

	var req ValidateDiscountRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	items, err := s.Carts(user.ID).Items(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.Discounts.ValidateCart(ctx, req.Code, items, req.ShopID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := userFrom(ctx)

	var body CheckoutRequest
	if err := decode(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	s.prefill(r, user, &body)

	c := s.Carts(user.ID)
	req := checkout.Request{
		Customer:        checkout.Customer{ID: user.ID, Email: user.Email},
		FirstName:       body.FirstName,
		LastName:        body.LastName,
		Email:           body.Email,
		Phone:           body.Phone,
		FulfillmentType: body.FulfillmentType,
		DeliveryAddress: body.DeliveryAddress,
		PaymentMethod:   body.PaymentMethod,
		Notes:           body.Notes,
	}

	// The code is re-checked against the cart as it is now, not as it was
	// when the shopper applied it.
	if strings.TrimSpace(body.DiscountCode) != "" {
		items, err := c.Items(ctx)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		applied, err := s.Discounts.ValidateCart(ctx, body.DiscountCode, items, "")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		req.Discount = &applied
	}

	result, err := s.Checkout.Checkout(ctx, c, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// prefill fills blank contact fields from the caller's profile and account
// email.
func (s *Server) prefill(r *http.Request, user User, body *CheckoutRequest) {
	if body.Email == "" {
		body.Email = user.Email
	}
	if s.Profiles == nil {
		return
	}
	if body.FirstName != "" && body.LastName != "" && body.Phone != "" {
		return
	}

	profile, err := s.Profiles(r.Context(), user.ID)
	if err != nil {
		s.Logger.Debug("no profile to prefill checkout", zap.String("customer_id", user.ID), zap.Error(err))
		return
	}
	if body.FirstName == "" {
		body.FirstName = profile.FirstName
	}
	if body.LastName == "" {
		body.LastName = profile.LastName
	}
	if body.Phone == "" {
		body.Phone = profile.Phone
	}
	if body.Email == "" {
		body.Email = profile.Email
	}
}
