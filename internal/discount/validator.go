// Package discount checks promotional codes against a cart subtotal and
// works out how much they take off.
package discount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/safar/print-market/internal/models"
	"github.com/safar/print-market/internal/pricing"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("discount code not found")
	ErrLookup   = errors.New("discount lookup failed")
)

type Kind string

const (
	InvalidCode       Kind = "invalid_code"
	BelowMinimumOrder Kind = "below_minimum_order"
	CodeExhausted     Kind = "code_exhausted"
	CodeNotYetValid   Kind = "code_not_yet_valid"
	CodeExpired       Kind = "code_expired"
)

type Error struct {
	Kind    Kind
	Code    string
	Minimum decimal.Decimal
}

func (e *Error) Error() string {
	switch e.Kind {
	case InvalidCode:
		return fmt.Sprintf("discount code %q is not valid", e.Code)
	case BelowMinimumOrder:
		return fmt.Sprintf("discount code %q requires a minimum order of %s", e.Code, e.Minimum.StringFixed(pricing.CurrencyPlaces))
	case CodeExhausted:
		return fmt.Sprintf("discount code %q has reached its usage limit", e.Code)
	case CodeNotYetValid:
		return fmt.Sprintf("discount code %q is not active yet", e.Code)
	case CodeExpired:
		return fmt.Sprintf("discount code %q has expired", e.Code)
	}
	return fmt.Sprintf("discount code %q rejected: %s", e.Code, e.Kind)
}

// IsKind reports whether err is a discount rejection of the given kind.
func IsKind(err error, kind Kind) bool {
	var derr *Error
	return errors.As(err, &derr) && derr.Kind == kind
}

// Repository finds an active code by its normalized (upper-case) value.
type Repository interface {
	FindActiveByCode(ctx context.Context, code string) (*models.DiscountCode, error)
}

type Result struct {
	Code          string              `json:"code"`
	DiscountType  models.DiscountType `json:"discount_type"`
	AppliedAmount decimal.Decimal     `json:"applied_amount"`
	Applied       bool                `json:"applied"`

	// ShopID is the only shop the amount applies to; empty means the whole
	// cart. Subtotal is what the amount was priced on.
	ShopID   string          `json:"shop_id,omitempty"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type Validator struct {
	repo Repository
	now  func() time.Time
}

func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// WithClock replaces the time source used for validity windows.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate applies the eligibility rules in order and stops at the first
// failing one. shopID scopes the check; empty means any shop.
func (v *Validator) Validate(ctx context.Context, code string, subtotal decimal.Decimal, shopID string) (Result, error) {
	normalized, dc, err := v.lookup(ctx, code)
	if err != nil {
		return Result{}, err
	}
	scope := scopeOf(dc)
	if scope != "" && shopID != "" && scope != shopID {
		return Result{}, &Error{Kind: InvalidCode, Code: normalized}
	}

	return v.check(dc, normalized, subtotal, scope)
}

// ValidateCart prices code against the lines of items it can apply to. A
// shop-scoped code, or a non-empty shopID, limits the eligible subtotal to
// that shop's lines; a scope with no line in the cart is InvalidCode.
func (v *Validator) ValidateCart(ctx context.Context, code string, items []models.CartItem, shopID string) (Result, error) {
	normalized, dc, err := v.lookup(ctx, code)
	if err != nil {
		return Result{}, err
	}

	scope := shopID
	if own := scopeOf(dc); own != "" {
		if shopID != "" && shopID != own {
			return Result{}, &Error{Kind: InvalidCode, Code: normalized}
		}
		scope = own
	}

	subtotal := pricing.CartTotal(items)
	if scope != "" {
		total, ok := pricing.ShopTotal(items, scope)
		if !ok {
			return Result{}, &Error{Kind: InvalidCode, Code: normalized}
		}
		subtotal = total
	}

	return v.check(dc, normalized, subtotal, scope)
}

func (v *Validator) lookup(ctx context.Context, code string) (string, *models.DiscountCode, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return "", nil, &Error{Kind: InvalidCode, Code: code}
	}

	dc, err := v.repo.FindActiveByCode(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		return "", nil, &Error{Kind: InvalidCode, Code: normalized}
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	if !dc.IsActive {
		return "", nil, &Error{Kind: InvalidCode, Code: normalized}
	}
	return normalized, dc, nil
}

func (v *Validator) check(dc *models.DiscountCode, normalized string, subtotal decimal.Decimal, scope string) (Result, error) {
	if dc.MinOrderAmount != nil && subtotal.LessThan(*dc.MinOrderAmount) {
		return Result{}, &Error{Kind: BelowMinimumOrder, Code: normalized, Minimum: *dc.MinOrderAmount}
	}

	if dc.MaxUses != nil && dc.UsedCount >= *dc.MaxUses {
		return Result{}, &Error{Kind: CodeExhausted, Code: normalized}
	}

	now := v.now()
	if dc.ValidFrom != nil && now.Before(*dc.ValidFrom) {
		return Result{}, &Error{Kind: CodeNotYetValid, Code: normalized}
	}
	if dc.ValidUntil != nil && now.After(*dc.ValidUntil) {
		return Result{}, &Error{Kind: CodeExpired, Code: normalized}
	}

	return Result{
		Code:          normalized,
		DiscountType:  dc.DiscountType,
		AppliedAmount: Amount(dc, subtotal),
		Applied:       true,
		ShopID:        scope,
		Subtotal:      subtotal,
	}, nil
}

func scopeOf(dc *models.DiscountCode) string {
	if dc.ShopID == nil {
		return ""
	}
	return *dc.ShopID
}

// Amount is the discount a code yields on subtotal, clamped to
// [0, subtotal].
func Amount(dc *models.DiscountCode, subtotal decimal.Decimal) decimal.Decimal {
	var raw decimal.Decimal
	switch dc.DiscountType {
	case models.DiscountPercentage:
		raw = pricing.Round(subtotal.Mul(dc.DiscountValue).Div(decimal.NewFromInt(100)))
	case models.DiscountFixed:
		raw = dc.DiscountValue
	default:
		raw = decimal.Zero
	}

	if raw.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(raw, subtotal)
}

// Session holds the code applied during one checkout. Once a code has been
// applied the session is locked and further applications return the same
// result without another lookup.
type Session struct {
	validator *Validator

	mu     sync.Mutex
	result *Result
}

func NewSession(v *Validator) *Session {
	return &Session{validator: v}
}

func (s *Session) Apply(ctx context.Context, code string, subtotal decimal.Decimal, shopID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result != nil {
		return *s.result, nil
	}

	res, err := s.validator.Validate(ctx, code, subtotal, shopID)
	if err != nil {
		return Result{}, err
	}
	s.result = &res
	return res, nil
}

// Applied returns the locked result, if any.
func (s *Session) Applied() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = nil
}
