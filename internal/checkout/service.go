// Package checkout turns a cart into one order per shop.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/print-market/internal/discount"
	"github.com/safar/print-market/internal/models"
	"github.com/safar/print-market/internal/notify"
	"github.com/safar/print-market/internal/orderstatus"
	"github.com/safar/print-market/internal/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderWriter persists the rows that make up an order. Calls are issued in
// dependency order: header, then items, then item customizations.
type OrderWriter interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	CreateOrderItemCustomization(ctx context.Context, c *models.OrderItemCustomization) error
	AddStatusHistory(ctx context.Context, h *models.OrderStatusHistory) error
	IncrementDiscountUsage(ctx context.Context, code string) error
	DeleteOrder(ctx context.Context, orderID string) error
}

// Transactor is implemented by writers that can run several writes as one
// atomic unit. When the writer supports it, every shop's order is created in
// a single transaction; otherwise checkout deletes what it created on failure.
type Transactor interface {
	InTx(ctx context.Context, fn func(w OrderWriter) error) error
}

// Cart is the part of the cart store checkout needs.
type Cart interface {
	Items(ctx context.Context) ([]models.CartItem, error)
	Clear(ctx context.Context) error
}

// Allocation decides how a cart-level discount lands on per-shop orders.
type Allocation string

const (
	// AllocatePerOrder records the full discount on every shop's order.
	AllocatePerOrder Allocation = "per_order"
	// AllocateProportional splits the discount by each shop's subtotal share.
	AllocateProportional Allocation = "proportional"
)

const DefaultPaymentMethod = "cash"

type Customer struct {
	ID    string
	Email string
}

type Request struct {
	Customer        Customer
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	FulfillmentType string
	DeliveryAddress string
	PaymentMethod   string
	Notes           string
	Discount        *discount.Result
}

type OrderSummary struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"order_number"`
	ShopID      string          `json:"shop_id"`
	ShopName    string          `json:"shop_name"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	AmountDue   decimal.Decimal `json:"amount_due"`
	ItemCount   int             `json:"item_count"`
}

type Result struct {
	Orders      []OrderSummary  `json:"orders"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	CartCleared bool            `json:"cart_cleared"`
}

type Service struct {
	writer     OrderWriter
	notifier   notify.Notifier
	logger     *zap.Logger
	allocation Allocation
	now        func() time.Time
	numbers    func(time.Time) string
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithAllocation(a Allocation) Option {
	return func(s *Service) { s.allocation = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithOrderNumbers(gen func(time.Time) string) Option {
	return func(s *Service) { s.numbers = gen }
}

func NewService(writer OrderWriter, opts ...Option) *Service {
	s := &Service{
		writer:     writer,
		notifier:   notify.Nop{},
		logger:     zap.NewNop(),
		allocation: AllocatePerOrder,
		now:        time.Now,
		numbers:    GenerateOrderNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateOrderNumber builds a human-readable number from the timestamp and
// a random suffix. Uniqueness is probabilistic; the store enforces it.
func GenerateOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102150405"), suffix)
}

type plannedOrder struct {
	group    pricing.ShopSubtotal
	discount decimal.Decimal
	order    *models.Order
}

// Checkout validates req, writes one order per shop in the cart and clears
// the cart once every order exists. On any failure the cart is left as is.
func (s *Service) Checkout(ctx context.Context, cart Cart, req Request) (*Result, error) {
	if strings.TrimSpace(req.Customer.ID) == "" {
		return nil, ErrNotAuthenticated
	}

	items, err := cart.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	if err := validate(req, items); err != nil {
		return nil, err
	}
	if err := checkDiscount(req.Discount, items); err != nil {
		return nil, err
	}

	plans := s.plan(items, req)

	if err := s.persist(ctx, plans, req); err != nil {
		s.logger.Warn("checkout failed",
			zap.String("customer_id", req.Customer.ID),
			zap.Int("shop_groups", len(plans)),
			zap.Error(err))
		return nil, err
	}

	result := summarize(plans, req)

	if err := cart.Clear(ctx); err != nil {
		s.logger.Error("clear cart after checkout",
			zap.String("customer_id", req.Customer.ID),
			zap.Error(err))
	} else {
		result.CartCleared = true
	}

	s.publish(ctx, plans)

	s.logger.Info("checkout completed",
		zap.String("customer_id", req.Customer.ID),
		zap.Int("orders", len(result.Orders)),
		zap.String("subtotal", result.Subtotal.String()),
		zap.String("discount", result.Discount.String()))

	return result, nil
}

func validate(req Request, items []models.CartItem) error {
	fields := make(map[string]string)

	if len(items) == 0 {
		fields["cart"] = "cart is empty"
	}
	if strings.TrimSpace(req.FirstName) == "" {
		fields["first_name"] = "first name is required"
	}
	if strings.TrimSpace(req.LastName) == "" {
		fields["last_name"] = "last name is required"
	}
	if strings.TrimSpace(req.Email) == "" {
		fields["email"] = "email is required"
	} else if _, err := mail.ParseAddress(req.Email); err != nil {
		fields["email"] = "email is not valid"
	}

	switch req.FulfillmentType {
	case models.FulfillmentDelivery:
		if strings.TrimSpace(req.DeliveryAddress) == "" {
			fields["delivery_address"] = "delivery address is required for delivery"
		}
	case models.FulfillmentPickup:
	default:
		fields["fulfillment_type"] = "fulfillment type must be delivery or pickup"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// checkDiscount rejects a discount priced on a different cart than the one
// being checked out.
func checkDiscount(d *discount.Result, items []models.CartItem) error {
	if d == nil || !d.Applied {
		return nil
	}

	base := pricing.CartTotal(items)
	if d.ShopID != "" {
		total, ok := pricing.ShopTotal(items, d.ShopID)
		if !ok {
			return ErrDiscountStale
		}
		base = total
	}
	if !base.Equal(d.Subtotal) {
		return ErrDiscountStale
	}
	return nil
}

func (s *Service) plan(items []models.CartItem, req Request) []plannedOrder {
	groups := pricing.Subtotals(items)
	plans := make([]plannedOrder, len(groups))

	cartDiscount := decimal.Zero
	if req.Discount != nil && req.Discount.Applied {
		cartDiscount = req.Discount.AppliedAmount
	}

	scope := ""
	if req.Discount != nil && req.Discount.Applied {
		scope = req.Discount.ShopID
	}

	shares := make([]decimal.Decimal, len(groups))
	switch {
	case scope != "":
		for i, g := range groups {
			shares[i] = decimal.Zero
			if g.ShopID == scope {
				shares[i] = cartDiscount
			}
		}
	case s.allocation == AllocateProportional:
		weights := make([]decimal.Decimal, len(groups))
		for i, g := range groups {
			weights[i] = g.Subtotal
		}
		shares = pricing.Allocate(cartDiscount, weights)
	default:
		for i := range shares {
			shares[i] = cartDiscount
		}
	}

	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = DefaultPaymentMethod
	}
	deliveryAddress := ""
	if req.FulfillmentType == models.FulfillmentDelivery {
		deliveryAddress = strings.TrimSpace(req.DeliveryAddress)
	}
	discountCode := ""
	if req.Discount != nil && req.Discount.Applied {
		discountCode = req.Discount.Code
	}

	for i, g := range groups {
		names := make([]string, len(g.Items))
		quantity := 0
		for j, item := range g.Items {
			names[j] = item.ProductName
			quantity += item.Quantity
		}

		code := discountCode
		if scope != "" && g.ShopID != scope {
			code = ""
		}

		plans[i] = plannedOrder{
			group:    g,
			discount: shares[i],
			order: &models.Order{
				ShopID:          g.ShopID,
				CustomerID:      req.Customer.ID,
				CustomerName:    strings.TrimSpace(req.FirstName + " " + req.LastName),
				CustomerEmail:   strings.TrimSpace(req.Email),
				CustomerPhone:   strings.TrimSpace(req.Phone),
				DeliveryAddress: deliveryAddress,
				ProductName:     strings.Join(names, ", "),
				Quantity:        quantity,
				TotalAmount:     g.Subtotal,
				DiscountAmount:  shares[i],
				DiscountCode:    code,
				PaymentMethod:   paymentMethod,
				FulfillmentType: req.FulfillmentType,
				Notes:           req.Notes,
				OrderStatus:     models.OrderStatusPending,
				PaymentStatus:   models.PaymentStatusPending,
			},
		}
	}

	return plans
}

func (s *Service) persist(ctx context.Context, plans []plannedOrder, req Request) error {
	if tx, ok := s.writer.(Transactor); ok {
		err := tx.InTx(ctx, func(w OrderWriter) error {
			return s.writeAll(ctx, w, plans, req, nil)
		})
		if err == nil {
			return nil
		}

		var perr *PersistenceError
		if errors.As(err, &perr) || isDiscountRejection(err) {
			return err
		}
		return &PersistenceError{Step: stepTransaction, Err: err}
	}

	var created []string
	err := s.writeAll(ctx, s.writer, plans, req, &created)
	if err == nil {
		return nil
	}

	return s.compensate(ctx, created, err)
}

func (s *Service) writeAll(ctx context.Context, w OrderWriter, plans []plannedOrder, req Request, created *[]string) error {
	for i := range plans {
		if err := s.writeOrder(ctx, w, &plans[i], req, created); err != nil {
			return err
		}
	}

	if req.Discount != nil && req.Discount.Applied && req.Discount.Code != "" {
		if err := w.IncrementDiscountUsage(ctx, req.Discount.Code); err != nil {
			if isDiscountRejection(err) {
				return err
			}
			return &PersistenceError{Step: stepDiscountUsage, Err: err}
		}
	}

	return nil
}

func (s *Service) writeOrder(ctx context.Context, w OrderWriter, p *plannedOrder, req Request, created *[]string) error {
	shopID := p.group.ShopID
	p.order.ID = ""
	p.order.Items = nil
	p.order.OrderNumber = s.numbers(s.now())

	if err := w.CreateOrder(ctx, p.order); err != nil {
		return &PersistenceError{Step: stepCreateOrder, ShopID: shopID, Err: err}
	}
	if created != nil {
		*created = append(*created, p.order.ID)
	}

	for i, cartItem := range p.group.Items {
		item := &models.OrderItem{
			OrderID:     p.order.ID,
			ProductID:   cartItem.ProductID,
			Position:    i,
			ProductName: cartItem.ProductName,
			Quantity:    cartItem.Quantity,
			UnitPrice:   cartItem.BasePrice,
			TotalPrice:  pricing.LineTotal(cartItem),
			Notes:       cartItem.Notes,
		}
		if err := w.CreateOrderItem(ctx, item); err != nil {
			return &PersistenceError{Step: stepCreateOrderItem, ShopID: shopID, Err: err}
		}

		for j, c := range cartItem.Customizations {
			row := &models.OrderItemCustomization{
				OrderItemID:   item.ID,
				Position:      j,
				GroupName:     c.GroupName,
				OptionName:    c.OptionName,
				PriceModifier: c.PriceModifier,
			}
			if err := w.CreateOrderItemCustomization(ctx, row); err != nil {
				return &PersistenceError{Step: stepCreateCustomization, ShopID: shopID, Err: err}
			}
			item.Customizations = append(item.Customizations, *row)
		}

		p.order.Items = append(p.order.Items, *item)
	}

	history := orderstatus.NewHistory(p.order.ID, models.OrderStatusPending, req.Customer.ID, "order placed", s.now())
	if err := w.AddStatusHistory(ctx, &history); err != nil {
		return &PersistenceError{Step: stepStatusHistory, ShopID: shopID, Err: err}
	}

	return nil
}

// compensate deletes created orders newest first. The original failure is
// always returned; deletion failures are attached to it.
func (s *Service) compensate(ctx context.Context, created []string, cause error) error {
	var errs []error
	var orphaned []string

	for i := len(created) - 1; i >= 0; i-- {
		if err := s.writer.DeleteOrder(ctx, created[i]); err != nil {
			errs = append(errs, fmt.Errorf("delete order %s: %w", created[i], err))
			orphaned = append(orphaned, created[i])
			continue
		}
		s.logger.Info("compensated order", zap.String("order_id", created[i]))
	}

	if len(errs) == 0 {
		return cause
	}

	var perr *PersistenceError
	if !errors.As(cause, &perr) {
		perr = &PersistenceError{Step: stepDiscountUsage, Err: cause}
	}
	perr.Compensation = errors.Join(errs...)
	perr.Orphaned = orphaned

	s.logger.Error("checkout compensation incomplete",
		zap.Strings("orphaned_orders", orphaned),
		zap.Error(perr.Compensation))

	return perr
}

func summarize(plans []plannedOrder, req Request) *Result {
	result := &Result{
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}
	if req.Discount != nil && req.Discount.Applied {
		result.Discount = req.Discount.AppliedAmount
	}

	for _, p := range plans {
		result.Subtotal = result.Subtotal.Add(p.group.Subtotal)
		result.Orders = append(result.Orders, OrderSummary{
			ID:          p.order.ID,
			OrderNumber: p.order.OrderNumber,
			ShopID:      p.group.ShopID,
			ShopName:    p.group.ShopName,
			Subtotal:    p.group.Subtotal,
			Discount:    p.discount,
			AmountDue:   decimal.Max(p.group.Subtotal.Sub(p.discount), decimal.Zero),
			ItemCount:   len(p.group.Items),
		})
	}

	result.Total = decimal.Max(result.Subtotal.Sub(result.Discount), decimal.Zero)
	return result
}

func (s *Service) publish(ctx context.Context, plans []plannedOrder) {
	for _, p := range plans {
		event := notify.OrderPlaced{
			OrderID:     p.order.ID,
			OrderNumber: p.order.OrderNumber,
			ShopID:      p.order.ShopID,
			CustomerID:  p.order.CustomerID,
			TotalAmount: p.order.TotalAmount,
			Discount:    p.order.DiscountAmount,
			ItemCount:   len(p.order.Items),
			PlacedAt:    s.now().UTC(),
		}
		if err := s.notifier.OrderPlaced(ctx, event); err != nil {
			s.logger.Warn("notify shop of new order",
				zap.String("order_number", p.order.OrderNumber),
				zap.String("shop_id", p.order.ShopID),
				zap.Error(err))
		}
	}
}

func isDiscountRejection(err error) bool {
	var derr *discount.Error
	return errors.As(err, &derr)
}
