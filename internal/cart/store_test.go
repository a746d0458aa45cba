package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/safar/print-market/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperItem(option string, qty int) models.CartItem {
	return models.CartItem{
		ProductID:   "p1",
		ProductName: "Business Cards",
		ShopID:      "s1",
		ShopName:    "Quick Print",
		BasePrice:   decimal.NewFromInt(850),
		Quantity:    qty,
		Customizations: []models.SelectedCustomization{
			{GroupName: "Paper Type", OptionName: option, PriceModifier: decimal.NewFromInt(100)},
		},
	}
}

func newTestStore() (*Store, *MemoryBackend) {
	backend := NewMemoryBackend()
	return NewStore(backend, Key("customer-1")), backend
}

func requireSameItems(t *testing.T, want, got []models.CartItem) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, SameLine(want[i], got[i]), "line %d differs", i)
		assert.True(t, want[i].BasePrice.Equal(got[i].BasePrice), "line %d base price", i)
		assert.Equal(t, want[i].Quantity, got[i].Quantity, "line %d quantity", i)
		assert.Equal(t, want[i].ShopID, got[i].ShopID)
		assert.Equal(t, want[i].ShopName, got[i].ShopName)
		assert.Equal(t, want[i].ProductName, got[i].ProductName)
		assert.Equal(t, want[i].Notes, got[i].Notes)
		assert.Equal(t, want[i].ImageURL, got[i].ImageURL)
	}
}

func TestItemsEmptyWhenMissing(t *testing.T) {
	store, _ := newTestStore()

	items, err := store.Items(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestItemsEmptyWhenCorrupt(t *testing.T) {
	store, backend := newTestStore()
	ctx := context.Background()

	for _, raw := range []string{"{not json", "null", `{"product_id":"p1"}`, ""} {
		require.NoError(t, backend.Save(ctx, Key("customer-1"), []byte(raw)))

		items, err := store.Items(ctx)
		require.NoError(t, err, "raw %q", raw)
		assert.Empty(t, items, "raw %q", raw)
	}
}

type failingBackend struct{ err error }

func (f failingBackend) Load(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingBackend) Save(context.Context, string, []byte) error   { return f.err }
func (f failingBackend) Delete(context.Context, string) error         { return f.err }

func TestItemsReturnsBackendFailure(t *testing.T) {
	boom := errors.New("disk gone")
	store := NewStore(failingBackend{err: boom}, "k")

	_, err := store.Items(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSaveRoundTrip(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	want := []models.CartItem{
		paperItem("Premium", 1),
		{
			ProductID:   "p2",
			ProductName: "Poster",
			ShopID:      "s2",
			ShopName:    "Big Format",
			BasePrice:   decimal.RequireFromString("12.50"),
			Quantity:    4,
			Notes:       "matte please",
			ImageURL:    "https://cdn.example.com/poster.png",
		},
	}

	require.NoError(t, store.Save(ctx, want))

	got, err := store.Items(ctx)
	require.NoError(t, err)
	requireSameItems(t, want, got)
}

func TestAddMergesIdenticalLines(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, paperItem("Premium", 2)))
	require.NoError(t, store.Add(ctx, paperItem("Premium", 3)))

	items, err := store.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestAddKeepsDifferentConfigurationsApart(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, paperItem("Premium", 1)))
	require.NoError(t, store.Add(ctx, paperItem("Standard", 1)))

	other := paperItem("Premium", 1)
	other.ProductID = "p9"
	require.NoError(t, store.Add(ctx, other))

	items, err := store.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestAddFloorsQuantity(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, paperItem("Premium", 0)))

	items, err := store.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
}

func TestSameLineIsOrderSensitive(t *testing.T) {
	a := paperItem("Premium", 1)
	a.Customizations = append(a.Customizations, models.SelectedCustomization{
		GroupName: "Finish", OptionName: "Gloss", PriceModifier: decimal.NewFromInt(15),
	})

	b := a
	b.Customizations = []models.SelectedCustomization{a.Customizations[1], a.Customizations[0]}

	assert.True(t, SameLine(a, a))
	assert.False(t, SameLine(a, b))
}

func TestSameLineComparesModifierValues(t *testing.T) {
	a := paperItem("Premium", 1)
	b := paperItem("Premium", 1)
	b.Customizations[0].PriceModifier = decimal.RequireFromString("100.00")
	assert.True(t, SameLine(a, b))

	b.Customizations[0].PriceModifier = decimal.NewFromInt(90)
	assert.False(t, SameLine(a, b))
}

func TestUpdateQuantityFloorsAtOne(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, paperItem("Premium", 4)))

	for _, qty := range []int{0, -3} {
		require.NoError(t, store.UpdateQuantity(ctx, 0, qty))

		items, err := store.Items(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, items[0].Quantity, "quantity %d", qty)
	}

	require.NoError(t, store.UpdateQuantity(ctx, 0, 7))
	items, err := store.Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, items[0].Quantity)
}

func TestOutOfRangeIndexesAreIgnored(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, paperItem("Premium", 2)))

	assert.NoError(t, store.Remove(ctx, 5))
	assert.NoError(t, store.Remove(ctx, -1))
	assert.NoError(t, store.UpdateQuantity(ctx, 1, 9))

	items, err := store.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestRemove(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, paperItem("Premium", 1)))
	require.NoError(t, store.Add(ctx, paperItem("Standard", 1)))

	require.NoError(t, store.Remove(ctx, 0))

	items, err := store.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Standard", items[0].Customizations[0].OptionName)
}

func TestClear(t *testing.T) {
	store, backend := newTestStore()
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, paperItem("Premium", 1)))

	require.NoError(t, store.Clear(ctx))

	items, err := store.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = backend.Load(ctx, Key("customer-1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribersSeeEveryMutation(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	var seen []int
	unsubscribe := store.Subscribe(func(items []models.CartItem) {
		seen = append(seen, len(items))
	})

	require.NoError(t, store.Add(ctx, paperItem("Premium", 1)))
	require.NoError(t, store.Add(ctx, paperItem("Standard", 1)))
	require.NoError(t, store.Remove(ctx, 0))
	require.NoError(t, store.Clear(ctx))

	unsubscribe()
	require.NoError(t, store.Add(ctx, paperItem("Premium", 1)))

	assert.Equal(t, []int{1, 2, 1, 0}, seen)
}

func TestStoresWithDifferentKeysAreIsolated(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	alice := NewStore(backend, Key("alice"))
	bob := NewStore(backend, Key("bob"))

	require.NoError(t, alice.Add(ctx, paperItem("Premium", 1)))

	items, err := bob.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}
