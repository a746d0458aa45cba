// Package pricing computes cart line and cart totals from snapshot prices.
// All arithmetic is exact decimal; nothing here touches storage.
package pricing

import (
	"github.com/safar/print-market/internal/models"
	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the number of minor-unit digits money is rounded to.
const CurrencyPlaces = 2

// UnitPrice is the base price plus every selected option's modifier.
func UnitPrice(item models.CartItem) decimal.Decimal {
	price := item.BasePrice
	for _, c := range item.Customizations {
		price = price.Add(c.PriceModifier)
	}
	return price
}

// LineTotal is (base price + modifiers) x quantity.
func LineTotal(item models.CartItem) decimal.Decimal {
	return UnitPrice(item).Mul(decimal.NewFromInt(int64(item.Quantity)))
}

func CartTotal(items []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(LineTotal(item))
	}
	return total
}

type ShopSubtotal struct {
	ShopID   string
	ShopName string
	Items    []models.CartItem
	Subtotal decimal.Decimal
}

// Subtotals partitions items by shop. Groups keep the order in which each
// shop first appears in the cart, and items keep their cart order.
func Subtotals(items []models.CartItem) []ShopSubtotal {
	var groups []ShopSubtotal
	index := make(map[string]int)

	for _, item := range items {
		i, ok := index[item.ShopID]
		if !ok {
			i = len(groups)
			index[item.ShopID] = i
			groups = append(groups, ShopSubtotal{
				ShopID:   item.ShopID,
				ShopName: item.ShopName,
				Subtotal: decimal.Zero,
			})
		}
		groups[i].Items = append(groups[i].Items, item)
		groups[i].Subtotal = groups[i].Subtotal.Add(LineTotal(item))
	}

	return groups
}

// ShopTotal is the subtotal of shopID's lines. ok is false when the cart has
// no line from that shop.
func ShopTotal(items []models.CartItem, shopID string) (total decimal.Decimal, ok bool) {
	total = decimal.Zero
	for _, item := range items {
		if item.ShopID == shopID {
			total = total.Add(LineTotal(item))
			ok = true
		}
	}
	return total, ok
}

func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// Allocate splits amount across parts in proportion to their weights.
// Each share is rounded to currency places and the rounding residue goes to
// the last part with a positive weight, so the shares always sum to amount.
// With no positive weight every share is zero.
func Allocate(amount decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	for i := range shares {
		shares[i] = decimal.Zero
	}

	total := decimal.Zero
	last := -1
	for i, w := range weights {
		if w.IsPositive() {
			total = total.Add(w)
			last = i
		}
	}
	if last < 0 {
		return shares
	}

	allocated := decimal.Zero
	for i, w := range weights {
		if !w.IsPositive() || i == last {
			continue
		}
		shares[i] = amount.Mul(w).Div(total).Round(CurrencyPlaces)
		allocated = allocated.Add(shares[i])
	}
	shares[last] = amount.Sub(allocated)

	return shares
}
