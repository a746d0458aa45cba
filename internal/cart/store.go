// Package cart holds a customer's pending line items in a durable key/value
// backend. Every mutation rewrites the whole cart before returning.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/safar/print-market/internal/models"
)

// Listener is called with the cart contents after each successful mutation.
type Listener func(items []models.CartItem)

// Store is one customer's cart kept under key in backend. Each method loads
// the cart, applies its change and saves the result.
type Store struct {
	backend Backend
	key     string

	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

// NewStore binds a cart to key; use Key to derive it from a customer id.
func NewStore(backend Backend, key string) *Store {
	return &Store{
		backend:   backend,
		key:       key,
		listeners: make(map[int]Listener),
	}
}

// Key returns the backend key holding a customer's cart.
func Key(customerID string) string {
	return fmt.Sprintf("cart:%s", customerID)
}

// Items returns the persisted cart. A missing or unreadable value is an empty
// cart, not an error; only backend I/O failures are returned.
func (s *Store) Items(ctx context.Context) ([]models.CartItem, error) {
	data, err := s.backend.Load(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return []models.CartItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	var items []models.CartItem
	if err := json.Unmarshal(data, &items); err != nil || items == nil {
		return []models.CartItem{}, nil
	}
	return items, nil
}

// Save replaces the whole cart and notifies subscribers.
func (s *Store) Save(ctx context.Context, items []models.CartItem) error {
	if items == nil {
		items = []models.CartItem{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := s.backend.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}

	s.notify(items)
	return nil
}

// Add merges item into an existing line when SameLine holds, otherwise it
// appends a new line.
func (s *Store) Add(ctx context.Context, item models.CartItem) error {
	items, err := s.Items(ctx)
	if err != nil {
		return err
	}

	if item.Quantity < 1 {
		item.Quantity = 1
	}

	for i := range items {
		if SameLine(items[i], item) {
			items[i].Quantity += item.Quantity
			return s.Save(ctx, items)
		}
	}

	return s.Save(ctx, append(items, item))
}

// Remove drops the line at index. Out-of-range indexes are ignored.
func (s *Store) Remove(ctx context.Context, index int) error {
	items, err := s.Items(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(items) {
		return nil
	}

	return s.Save(ctx, append(items[:index], items[index+1:]...))
}

// UpdateQuantity sets the quantity of the line at index, raising anything
// below 1 to 1. Out-of-range indexes are ignored.
func (s *Store) UpdateQuantity(ctx context.Context, index, quantity int) error {
	items, err := s.Items(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(items) {
		return nil
	}

	items[index].Quantity = max(quantity, 1)
	return s.Save(ctx, items)
}

// Clear deletes the cart from the backend and notifies subscribers with an
// empty cart.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	s.notify([]models.CartItem{})
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(items []models.CartItem) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		snapshot := append([]models.CartItem(nil), items...)
		fn(snapshot)
	}
}

// SameLine reports whether two cart items describe the same configured
// product: equal product ids and customization lists that match element by
// element in the same order.
func SameLine(a, b models.CartItem) bool {
	if a.ProductID != b.ProductID {
		return false
	}
	if len(a.Customizations) != len(b.Customizations) {
		return false
	}
	for i := range a.Customizations {
		x, y := a.Customizations[i], b.Customizations[i]
		if x.GroupName != y.GroupName || x.OptionName != y.OptionName || !x.PriceModifier.Equal(y.PriceModifier) {
			return false
		}
	}
	return true
}
