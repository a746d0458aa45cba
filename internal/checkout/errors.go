package checkout

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotAuthenticated = errors.New("checkout requires an authenticated customer")
	// ErrDiscountStale means the cart changed after its discount was priced.
	ErrDiscountStale = errors.New("cart changed since the discount was priced")
)

// ValidationError lists every request field that blocks checkout, keyed by
// field name. Nothing has been written when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "checkout validation failed: " + strings.Join(parts, "; ")
}

// PersistenceError reports a failed write. The cart is untouched, so the
// same request can be resubmitted.
type PersistenceError struct {
	Step   string
	ShopID string
	Err    error

	// Compensation is set when undoing already-created orders failed too.
	// Orphaned lists the orders that could not be removed.
	Compensation error
	Orphaned     []string
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("checkout failed at %s for shop %s: %v", e.Step, e.ShopID, e.Err)
	if e.Compensation != nil {
		msg += fmt.Sprintf(" (compensation failed, %d orphaned order(s): %v)", len(e.Orphaned), e.Compensation)
	}
	return msg
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

const (
	stepCreateOrder         = "create order"
	stepCreateOrderItem     = "create order item"
	stepCreateCustomization = "create order item customization"
	stepStatusHistory       = "record status history"
	stepDiscountUsage       = "record discount usage"
	stepTransaction         = "transaction"
)
