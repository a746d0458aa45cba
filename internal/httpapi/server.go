// Package httpapi exposes the cart, discount, checkout and order operations
// over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/print-market/internal/cart"
	"github.com/safar/print-market/internal/checkout"
	"github.com/safar/print-market/internal/customization"
	"github.com/safar/print-market/internal/database"
	"github.com/safar/print-market/internal/discount"
	"github.com/safar/print-market/internal/models"
	"github.com/safar/print-market/internal/orderstatus"
	"github.com/safar/print-market/internal/store"
	"go.uber.org/zap"
)

type Catalog interface {
	GetShop(ctx context.Context, id string) (*models.Shop, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListCustomizationGroups(ctx context.Context, productID string) ([]models.CustomizationGroup, error)
}

type Orders interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListCustomerOrders(ctx context.Context, customerID, cursor string, limit int) (*store.CursorPage[models.Order], error)
	UpdateOrderStatus(ctx context.Context, change store.StatusChange) (*models.Order, error)
	StatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error)
}

type Checkout interface {
	Checkout(ctx context.Context, c checkout.Cart, req checkout.Request) (*checkout.Result, error)
}

// Deps wires a Server. Profiles may be nil, in which case checkout forms are
// never prefilled.
type Deps struct {
	Catalog   Catalog
	Orders    Orders
	Checkout  Checkout
	Discounts *discount.Validator
	Carts     func(customerID string) *cart.Store
	Profiles  func(ctx context.Context, customerID string) (*models.Customer, error)
	Logger    *zap.Logger
}

type Server struct {
	Deps
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{Deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(Authenticate)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.getCart)
			r.Delete("/", s.clearCart)
			r.Post("/items", s.addCartItem)
			r.Patch("/items/{index}", s.updateCartItem)
			r.Delete("/items/{index}", s.removeCartItem)
		})

		r.Post("/discounts/validate", s.validateDiscount)
		r.Post("/checkout", s.checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.listOrders)
			r.Get("/{id}", s.getOrder)
			r.Get("/{id}/history", s.orderHistory)
			r.Post("/{id}/status", s.updateOrderStatus)
		})
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type ctxKey int

const userKey ctxKey = iota

// User is the caller identity taken from the upstream auth proxy headers.
type User struct {
	ID    string
	Email string
	Role  orderstatus.Actor
}

// Authenticate rejects requests without an X-User-ID header. X-User-Role
// defaults to customer.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if id == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", checkout.ErrNotAuthenticated.Error())
			return
		}

		role := orderstatus.Actor(strings.ToLower(r.Header.Get("X-User-Role")))
		switch role {
		case orderstatus.ActorShop, orderstatus.ActorAdmin:
		default:
			role = orderstatus.ActorCustomer
		}

		user := User{ID: id, Email: strings.TrimSpace(r.Header.Get("X-User-Email")), Role: role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func userFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Details any               `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// fail maps domain errors to responses. Unrecognised errors are logged and
// reported as 500 without their text.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		checkoutErr      *checkout.ValidationError
		customizationErr *customization.ValidationError
		discountErr      *discount.Error
		persistErr       *checkout.PersistenceError
		transitionErr    *orderstatus.TransitionError
	)

	switch {
	case errors.Is(err, checkout.ErrNotAuthenticated):
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.As(err, &checkoutErr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "checkout validation failed", Code: "validation_failed", Fields: checkoutErr.Fields,
		})
	case errors.As(err, &customizationErr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(), Code: "invalid_customization", Details: customizationErr.Problems,
		})
	case errors.Is(err, checkout.ErrDiscountStale):
		respondError(w, http.StatusConflict, "cart_changed", "your cart changed while checking out; review it and try again")
	case errors.As(err, &discountErr):
		respondError(w, http.StatusUnprocessableEntity, string(discountErr.Kind), err.Error())
	case errors.As(err, &persistErr):
		s.Logger.Error("checkout persistence failure",
			zap.String("step", persistErr.Step),
			zap.String("shop_id", persistErr.ShopID),
			zap.Strings("orphaned_orders", persistErr.Orphaned),
			zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "checkout_failed",
			"your order could not be placed and your cart was kept; please try again")
	case errors.As(err, &transitionErr), errors.Is(err, orderstatus.ErrTerminal):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, orderstatus.ErrUnknownStatus):
		respondError(w, http.StatusUnprocessableEntity, "unknown_status", err.Error())
	case errors.Is(err, database.ErrOptimisticLockFailed):
		respondError(w, http.StatusConflict, "version_conflict", "the order was changed by someone else; reload and retry")
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrShopNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
