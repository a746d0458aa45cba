package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Shop struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID          string          `json:"id"`
	ShopID      string          `json:"shop_id"`
	ShopName    string          `json:"shop_name,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	BasePrice   decimal.Decimal `json:"base_price"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
}

type SelectionMode string

const (
	SelectionSingle SelectionMode = "single"
	SelectionMulti  SelectionMode = "multi"
)

type CustomizationGroup struct {
	ID            string                `json:"id"`
	ProductID     string                `json:"product_id"`
	Name          string                `json:"name"`
	Description   string                `json:"description,omitempty"`
	Required      bool                  `json:"required"`
	SelectionMode SelectionMode         `json:"selection_mode"`
	DisplayOrder  int                   `json:"display_order"`
	Options       []CustomizationOption `json:"options,omitempty"`
}

type CustomizationOption struct {
	ID            string          `json:"id"`
	GroupID       string          `json:"group_id"`
	Name          string          `json:"name"`
	PriceModifier decimal.Decimal `json:"price_modifier"`
	IsDefault     bool            `json:"is_default"`
	DisplayOrder  int             `json:"display_order"`
}

// SelectedCustomization is a flattened snapshot of one chosen option. It is
// copied into carts and orders so later catalog edits do not change them.
type SelectedCustomization struct {
	GroupName     string          `json:"group_name"`
	OptionName    string          `json:"option_name"`
	PriceModifier decimal.Decimal `json:"price_modifier"`
}

type CartItem struct {
	ProductID      string                  `json:"product_id"`
	ProductName    string                  `json:"product_name"`
	ShopID         string                  `json:"shop_id"`
	ShopName       string                  `json:"shop_name"`
	BasePrice      decimal.Decimal         `json:"base_price"`
	Quantity       int                     `json:"quantity"`
	Customizations []SelectedCustomization `json:"customizations"`
	Notes          string                  `json:"notes,omitempty"`
	ImageURL       string                  `json:"image_url,omitempty"`
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type DiscountCode struct {
	ID             string           `json:"id"`
	Code           string           `json:"code"`
	DiscountType   DiscountType     `json:"discount_type"`
	DiscountValue  decimal.Decimal  `json:"discount_value"`
	IsActive       bool             `json:"is_active"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty"`
	MaxUses        *int             `json:"max_uses,omitempty"`
	UsedCount      int              `json:"used_count"`
	ValidFrom      *time.Time       `json:"valid_from,omitempty"`
	ValidUntil     *time.Time       `json:"valid_until,omitempty"`
	ShopID         *string          `json:"shop_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	ShopID          string          `json:"shop_id"`
	CustomerID      string          `json:"customer_id"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountCode    string          `json:"discount_code,omitempty"`
	PaymentMethod   string          `json:"payment_method"`
	FulfillmentType string          `json:"fulfillment_type"`
	Notes           string          `json:"notes,omitempty"`
	OrderStatus     string          `json:"order_status"`
	PaymentStatus   string          `json:"payment_status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
	Items           []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID             string                   `json:"id"`
	OrderID        string                   `json:"order_id"`
	ProductID      string                   `json:"product_id"`
	Position       int                      `json:"position"`
	ProductName    string                   `json:"product_name"`
	Quantity       int                      `json:"quantity"`
	UnitPrice      decimal.Decimal          `json:"unit_price"`
	TotalPrice     decimal.Decimal          `json:"total_price"`
	Notes          string                   `json:"notes,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	Customizations []OrderItemCustomization `json:"customizations,omitempty"`
}

type OrderItemCustomization struct {
	ID            string          `json:"id"`
	OrderItemID   string          `json:"order_item_id"`
	Position      int             `json:"position"`
	GroupName     string          `json:"group_name"`
	OptionName    string          `json:"option_name"`
	PriceModifier decimal.Decimal `json:"price_modifier"`
}

type OrderStatusHistory struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusReady      = "ready"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

const (
	FulfillmentDelivery = "delivery"
	FulfillmentPickup   = "pickup"
)
