package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/safar/print-market/internal/discount"
	"github.com/safar/print-market/internal/models"
	"github.com/safar/print-market/internal/notify"
)

var errInjected = errors.New("injected write failure")

// memoryWriter records rows in maps. failOn names a method that should fail
// on its failAfter+1-th call.
type memoryWriter struct {
	mu sync.Mutex

	seq            int
	orders         map[string]*models.Order
	items          map[string]*models.OrderItem
	customizations []*models.OrderItemCustomization
	history        []*models.OrderStatusHistory
	discountUses   map[string]int
	discountLimits map[string]int
	deleted        []string
	calls          []string

	failOn    string
	failAfter int
	failCount int
	failErr   error

	deleteErr error
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{
		orders:         make(map[string]*models.Order),
		items:          make(map[string]*models.OrderItem),
		discountUses:   make(map[string]int),
		discountLimits: make(map[string]int),
	}
}

func (m *memoryWriter) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memoryWriter) maybeFail(method string) error {
	m.calls = append(m.calls, method)
	if m.failOn != method {
		return nil
	}
	m.failCount++
	if m.failCount > m.failAfter {
		if m.failErr != nil {
			return m.failErr
		}
		return errInjected
	}
	return nil
}

func (m *memoryWriter) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail("CreateOrder"); err != nil {
		return err
	}
	order.ID = m.nextID("order")
	stored := *order
	m.orders[order.ID] = &stored
	return nil
}

func (m *memoryWriter) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail("CreateOrderItem"); err != nil {
		return err
	}
	item.ID = m.nextID("item")
	stored := *item
	m.items[item.ID] = &stored
	return nil
}

func (m *memoryWriter) CreateOrderItemCustomization(_ context.Context, c *models.OrderItemCustomization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail("CreateOrderItemCustomization"); err != nil {
		return err
	}
	c.ID = m.nextID("cust")
	stored := *c
	m.customizations = append(m.customizations, &stored)
	return nil
}

func (m *memoryWriter) AddStatusHistory(_ context.Context, h *models.OrderStatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail("AddStatusHistory"); err != nil {
		return err
	}
	h.ID = m.nextID("hist")
	stored := *h
	m.history = append(m.history, &stored)
	return nil
}

func (m *memoryWriter) IncrementDiscountUsage(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail("IncrementDiscountUsage"); err != nil {
		return err
	}
	if limit, ok := m.discountLimits[code]; ok && m.discountUses[code] >= limit {
		return &discount.Error{Kind: discount.CodeExhausted, Code: code}
	}
	m.discountUses[code]++
	return nil
}

func (m *memoryWriter) DeleteOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "DeleteOrder")
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.orders, orderID)
	for id, item := range m.items {
		if item.OrderID == orderID {
			delete(m.items, id)
		}
	}
	m.deleted = append(m.deleted, orderID)
	return nil
}

func (m *memoryWriter) itemsFor(orderID string) []*models.OrderItem {
	var out []*models.OrderItem
	for _, item := range m.items {
		if item.OrderID == orderID {
			out = append(out, item)
		}
	}
	return out
}

func (m *memoryWriter) orderForShop(shopID string) *models.Order {
	for _, o := range m.orders {
		if o.ShopID == shopID {
			return o
		}
	}
	return nil
}

// txWriter wraps memoryWriter with all-or-nothing semantics by snapshotting
// state before fn and restoring it when fn fails.
type txWriter struct {
	*memoryWriter
	txCount int
}

func (t *txWriter) InTx(ctx context.Context, fn func(w OrderWriter) error) error {
	t.txCount++

	t.mu.Lock()
	orders := make(map[string]*models.Order, len(t.orders))
	for k, v := range t.orders {
		orders[k] = v
	}
	items := make(map[string]*models.OrderItem, len(t.items))
	for k, v := range t.items {
		items[k] = v
	}
	customizations := append([]*models.OrderItemCustomization(nil), t.customizations...)
	history := append([]*models.OrderStatusHistory(nil), t.history...)
	uses := make(map[string]int, len(t.discountUses))
	for k, v := range t.discountUses {
		uses[k] = v
	}
	t.mu.Unlock()

	if err := fn(t.memoryWriter); err != nil {
		t.mu.Lock()
		t.orders, t.items, t.customizations, t.history, t.discountUses = orders, items, customizations, history, uses
		t.mu.Unlock()
		return err
	}
	return nil
}

type fakeCart struct {
	items    []models.CartItem
	cleared  bool
	loadErr  error
	clearErr error
}

func (f *fakeCart) Items(context.Context) ([]models.CartItem, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]models.CartItem(nil), f.items...), nil
}

func (f *fakeCart) Clear(context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.items = nil
	f.cleared = true
	return nil
}

type recordingNotifier struct {
	events []notify.OrderPlaced
	err    error
}

func (r *recordingNotifier) OrderPlaced(_ context.Context, e notify.OrderPlaced) error {
	r.events = append(r.events, e)
	return r.err
}

type staticCodes map[string]*models.DiscountCode

func (s staticCodes) FindActiveByCode(_ context.Context, code string) (*models.DiscountCode, error) {
	dc, ok := s[code]
	if !ok || !dc.IsActive {
		return nil, discount.ErrNotFound
	}
	return dc, nil
}

func ptr[T any](v T) *T { return &v }
