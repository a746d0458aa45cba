package discount

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/safar/print-market/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	codes   map[string]*models.DiscountCode
	err     error
	lookups int
}

func (f *fakeRepo) FindActiveByCode(_ context.Context, code string) (*models.DiscountCode, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	dc, ok := f.codes[code]
	if !ok || !dc.IsActive {
		return nil, ErrNotFound
	}
	return dc, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(i int) *int { return &i }

func newRepo(codes ...*models.DiscountCode) *fakeRepo {
	repo := &fakeRepo{codes: make(map[string]*models.DiscountCode)}
	for _, c := range codes {
		repo.codes[c.Code] = c
	}
	return repo
}

func save10() *models.DiscountCode {
	return &models.DiscountCode{
		Code:           "SAVE10",
		DiscountType:   models.DiscountPercentage,
		DiscountValue:  dec("10"),
		IsActive:       true,
		MinOrderAmount: decPtr("500"),
	}
}

func TestValidatePercentage(t *testing.T) {
	v := NewValidator(newRepo(save10()))

	res, err := v.Validate(context.Background(), " save10 ", dec("950"), "")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", res.Code)
	assert.True(t, res.Applied)
	assert.True(t, res.AppliedAmount.Equal(dec("95")), "got %s", res.AppliedAmount)
}

func TestValidatePercentageRoundsToCents(t *testing.T) {
	dc := &models.DiscountCode{Code: "P15", DiscountType: models.DiscountPercentage, DiscountValue: dec("15"), IsActive: true}
	res, err := NewValidator(newRepo(dc)).Validate(context.Background(), "P15", dec("33.33"), "")
	require.NoError(t, err)
	assert.True(t, res.AppliedAmount.Equal(dec("5")), "got %s", res.AppliedAmount)
}

func TestValidateUnknownOrInactiveCode(t *testing.T) {
	inactive := save10()
	inactive.Code = "OLD"
	inactive.IsActive = false
	v := NewValidator(newRepo(save10(), inactive))

	for _, code := range []string{"NOPE", "old", "   "} {
		_, err := v.Validate(context.Background(), code, dec("1000"), "")
		assert.True(t, IsKind(err, InvalidCode), "code %q: %v", code, err)
	}
}

func TestValidateBelowMinimum(t *testing.T) {
	v := NewValidator(newRepo(save10()))

	_, err := v.Validate(context.Background(), "SAVE10", dec("499.99"), "")
	require.True(t, IsKind(err, BelowMinimumOrder))
	assert.Contains(t, err.Error(), "500.00")
}

func TestValidateExhausted(t *testing.T) {
	dc := &models.DiscountCode{
		Code:          "ONCE",
		DiscountType:  models.DiscountFixed,
		DiscountValue: dec("20"),
		IsActive:      true,
		MaxUses:       intPtr(1),
		UsedCount:     1,
	}
	v := NewValidator(newRepo(dc))

	for _, subtotal := range []string{"1", "100", "100000"} {
		_, err := v.Validate(context.Background(), "ONCE", dec(subtotal), "")
		assert.True(t, IsKind(err, CodeExhausted), "subtotal %s", subtotal)
	}
}

func TestValidateFixedIsClampedToSubtotal(t *testing.T) {
	dc := &models.DiscountCode{Code: "BIG", DiscountType: models.DiscountFixed, DiscountValue: dec("500"), IsActive: true}

	res, err := NewValidator(newRepo(dc)).Validate(context.Background(), "BIG", dec("300"), "")
	require.NoError(t, err)
	assert.True(t, res.AppliedAmount.Equal(dec("300")))
	assert.False(t, dec("300").Sub(res.AppliedAmount).IsNegative())
}

func TestValidateChecksRulesInOrder(t *testing.T) {
	dc := save10()
	dc.MaxUses = intPtr(1)
	dc.UsedCount = 1

	_, err := NewValidator(newRepo(dc)).Validate(context.Background(), "SAVE10", dec("10"), "")
	assert.True(t, IsKind(err, BelowMinimumOrder), "minimum is checked before usage: %v", err)
}

func TestValidateWindow(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
	dc := &models.DiscountCode{
		Code:          "JAN",
		DiscountType:  models.DiscountFixed,
		DiscountValue: dec("5"),
		IsActive:      true,
		ValidFrom:     &from,
		ValidUntil:    &until,
	}

	at := func(ts time.Time) *Validator {
		return NewValidator(newRepo(dc)).WithClock(func() time.Time { return ts })
	}

	_, err := at(from.Add(-time.Hour)).Validate(context.Background(), "JAN", dec("50"), "")
	assert.True(t, IsKind(err, CodeNotYetValid))

	_, err = at(until.Add(time.Second)).Validate(context.Background(), "JAN", dec("50"), "")
	assert.True(t, IsKind(err, CodeExpired))

	res, err := at(from.Add(48*time.Hour)).Validate(context.Background(), "JAN", dec("50"), "")
	require.NoError(t, err)
	assert.True(t, res.AppliedAmount.Equal(dec("5")))
}

func TestValidateShopScope(t *testing.T) {
	shop := "shop-a"
	dc := &models.DiscountCode{Code: "SHOPA", DiscountType: models.DiscountFixed, DiscountValue: dec("5"), IsActive: true, ShopID: &shop}
	v := NewValidator(newRepo(dc))

	_, err := v.Validate(context.Background(), "SHOPA", dec("50"), "shop-b")
	assert.True(t, IsKind(err, InvalidCode))

	_, err = v.Validate(context.Background(), "SHOPA", dec("50"), "shop-a")
	assert.NoError(t, err)

	_, err = v.Validate(context.Background(), "SHOPA", dec("50"), "")
	assert.NoError(t, err)
}

func TestValidateLookupFailureIsDistinguishable(t *testing.T) {
	boom := errors.New("connection reset")
	repo := newRepo()
	repo.err = boom

	_, err := NewValidator(repo).Validate(context.Background(), "SAVE10", dec("50"), "")
	assert.ErrorIs(t, err, ErrLookup)
	assert.ErrorIs(t, err, boom)

	var derr *Error
	assert.False(t, errors.As(err, &derr))
}

func TestSessionLocksAfterApply(t *testing.T) {
	repo := newRepo(save10())
	session := NewSession(NewValidator(repo))
	ctx := context.Background()

	_, ok := session.Applied()
	assert.False(t, ok)

	first, err := session.Apply(ctx, "SAVE10", dec("950"), "")
	require.NoError(t, err)

	second, err := session.Apply(ctx, "OTHER", dec("10"), "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.lookups)

	session.Reset()
	_, err = session.Apply(ctx, "OTHER", dec("10"), "")
	assert.True(t, IsKind(err, InvalidCode))
}

func TestSessionStaysUnlockedAfterRejection(t *testing.T) {
	session := NewSession(NewValidator(newRepo(save10())))
	ctx := context.Background()

	_, err := session.Apply(ctx, "SAVE10", dec("100"), "")
	require.True(t, IsKind(err, BelowMinimumOrder))

	res, err := session.Apply(ctx, "SAVE10", dec("600"), "")
	require.NoError(t, err)
	assert.True(t, res.AppliedAmount.Equal(dec("60")))
}

func line(shop, price string, qty int) models.CartItem {
	return models.CartItem{ProductID: "p-" + shop, ShopID: shop, BasePrice: dec(price), Quantity: qty}
}

func TestValidateCartScopedCodeUsesItsShopSubtotal(t *testing.T) {
	shop := "shop-a"
	dc := &models.DiscountCode{
		Code:           "SHOPA10",
		DiscountType:   models.DiscountPercentage,
		DiscountValue:  dec("10"),
		IsActive:       true,
		MinOrderAmount: decPtr("300"),
		ShopID:         &shop,
	}
	v := NewValidator(newRepo(dc))
	items := []models.CartItem{line("shop-a", "200", 1), line("shop-b", "500", 1)}

	_, err := v.ValidateCart(context.Background(), "SHOPA10", items, "")
	assert.True(t, IsKind(err, BelowMinimumOrder), "whole-cart subtotal must not satisfy a shop minimum")

	items = append(items, line("shop-a", "150", 1))
	res, err := v.ValidateCart(context.Background(), "SHOPA10", items, "")
	require.NoError(t, err)
	assert.Equal(t, "shop-a", res.ShopID)
	assert.True(t, res.Subtotal.Equal(dec("350")))
	assert.True(t, res.AppliedAmount.Equal(dec("35")))
}

func TestValidateCartScopedCodeWithoutShopLines(t *testing.T) {
	shop := "shop-other"
	dc := &models.DiscountCode{Code: "OTHER50", DiscountType: models.DiscountFixed, DiscountValue: dec("50"), IsActive: true, ShopID: &shop}
	v := NewValidator(newRepo(dc))
	items := []models.CartItem{line("shop-1", "400", 1)}

	_, err := v.ValidateCart(context.Background(), "OTHER50", items, "")
	assert.True(t, IsKind(err, InvalidCode))

	_, err = v.ValidateCart(context.Background(), "OTHER50", items, "shop-1")
	assert.True(t, IsKind(err, InvalidCode))
}

func TestValidateCartExplicitShopNarrowsUnscopedCode(t *testing.T) {
	v := NewValidator(newRepo(save10()))
	items := []models.CartItem{line("shop-a", "600", 1), line("shop-b", "100", 1)}

	res, err := v.ValidateCart(context.Background(), "SAVE10", items, "shop-a")
	require.NoError(t, err)
	assert.Equal(t, "shop-a", res.ShopID)
	assert.True(t, res.AppliedAmount.Equal(dec("60")))

	_, err = v.ValidateCart(context.Background(), "SAVE10", items, "shop-b")
	assert.True(t, IsKind(err, BelowMinimumOrder))

	res, err = v.ValidateCart(context.Background(), "SAVE10", items, "")
	require.NoError(t, err)
	assert.Empty(t, res.ShopID)
	assert.True(t, res.Subtotal.Equal(dec("700")))
}
