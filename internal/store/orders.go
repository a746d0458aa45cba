package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/print-market/internal/checkout"
	"github.com/safar/print-market/internal/database"
	"github.com/safar/print-market/internal/models"
	"github.com/safar/print-market/internal/orderstatus"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const orderNumberConstraint = "orders_order_number_key"

const orderColumns = `
	id, order_number, shop_id, customer_id, customer_name, customer_email,
	customer_phone, delivery_address, product_name, quantity, total_amount,
	discount_amount, discount_code, payment_method, fulfillment_type, notes,
	order_status, payment_status, created_at, updated_at, version`

// Orders writes and reads orders. A zero-value Orders is not usable; build
// one with NewOrders.
type Orders struct {
	db *sql.DB
	q  querier
}

func NewOrders(db *sql.DB) *Orders {
	return &Orders{db: db, q: db}
}

var (
	_ checkout.OrderWriter = (*Orders)(nil)
	_ checkout.Transactor  = (*Orders)(nil)
)

// InTx runs fn against a writer bound to one transaction. Transient
// conflicts rerun fn from the start.
func (o *Orders) InTx(ctx context.Context, fn func(w checkout.OrderWriter) error) error {
	return database.WithRetry(ctx, o.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return fn(&Orders{db: o.db, q: tx})
	})
}

func (o *Orders) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			order_number, shop_id, customer_id, customer_name, customer_email,
			customer_phone, delivery_address, product_name, quantity, total_amount,
			discount_amount, discount_code, payment_method, fulfillment_type, notes,
			order_status, payment_status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW(), 1)
		RETURNING id, created_at, updated_at, version`

	err := o.q.QueryRowContext(ctx, query,
		order.OrderNumber,
		order.ShopID,
		order.CustomerID,
		order.CustomerName,
		order.CustomerEmail,
		order.CustomerPhone,
		order.DeliveryAddress,
		order.ProductName,
		order.Quantity,
		order.TotalAmount,
		order.DiscountAmount,
		order.DiscountCode,
		order.PaymentMethod,
		order.FulfillmentType,
		order.Notes,
		order.OrderStatus,
		order.PaymentStatus,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		if database.IsUniqueViolation(err, orderNumberConstraint) {
			return fmt.Errorf("create order %s: %w", order.OrderNumber, database.ErrOrderNumberConflict)
		}
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("create order: %w", database.ErrShopNotFound)
		}
		return fmt.Errorf("create order: %w", err)
	}

	return nil
}

func (o *Orders) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, position, product_name, quantity, unit_price, total_price, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at`

	err := o.q.QueryRowContext(ctx, query,
		item.OrderID,
		nullString(item.ProductID),
		item.Position,
		item.ProductName,
		item.Quantity,
		item.UnitPrice,
		item.TotalPrice,
		item.Notes,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order item: %w", err)
	}

	return nil
}

func (o *Orders) CreateOrderItemCustomization(ctx context.Context, c *models.OrderItemCustomization) error {
	query := `
		INSERT INTO order_item_customizations (order_item_id, position, group_name, option_name, price_modifier)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := o.q.QueryRowContext(ctx, query, c.OrderItemID, c.Position, c.GroupName, c.OptionName, c.PriceModifier).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("create order item customization: %w", err)
	}

	return nil
}

func (o *Orders) AddStatusHistory(ctx context.Context, h *models.OrderStatusHistory) error {
	return addStatusHistory(ctx, o.q, h)
}

func addStatusHistory(ctx context.Context, q querier, h *models.OrderStatusHistory) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO order_status_history (order_id, status, changed_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := q.QueryRowContext(ctx, query, h.OrderID, h.Status, h.ChangedBy, h.Notes, h.CreatedAt).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("add status history: %w", err)
	}

	return nil
}

func (o *Orders) IncrementDiscountUsage(ctx context.Context, code string) error {
	return incrementDiscountUsage(ctx, o.q, code)
}

// DeleteOrder removes an order together with its items, customizations and
// history.
func (o *Orders) DeleteOrder(ctx context.Context, orderID string) error {
	if !validID(orderID) {
		return database.ErrOrderNotFound
	}
	result, err := o.q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}

func (o *Orders) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if !validID(id) {
		return nil, database.ErrOrderNotFound
	}
	order, err := scanOrder(o.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := o.orderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (o *Orders) orderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	query := `
		SELECT id, order_id, COALESCE(product_id::text, ''), position, product_name, quantity,
		       unit_price, total_price, notes, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position`

	rows, err := o.q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	var ids []string
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Position,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&item.Notes,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	custRows, err := o.q.QueryContext(ctx, `
		SELECT id, order_item_id, position, group_name, option_name, price_modifier
		FROM order_item_customizations
		WHERE order_item_id = ANY($1::uuid[])
		ORDER BY order_item_id, position`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get order item customizations: %w", err)
	}
	defer custRows.Close()

	byItem := make(map[string][]models.OrderItemCustomization)
	for custRows.Next() {
		var c models.OrderItemCustomization
		if err := custRows.Scan(&c.ID, &c.OrderItemID, &c.Position, &c.GroupName, &c.OptionName, &c.PriceModifier); err != nil {
			return nil, fmt.Errorf("scan order item customization: %w", err)
		}
		byItem[c.OrderItemID] = append(byItem[c.OrderItemID], c)
	}

	if err := custRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range items {
		items[i].Customizations = byItem[items[i].ID]
	}

	return items, nil
}

// ListCustomerOrders pages through a customer's orders, newest first.
func (o *Orders) ListCustomerOrders(ctx context.Context, customerID, cursor string, limit int) (*CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var after sql.NullTime
	var afterID sql.NullString
	if !cursorData.IsZero() {
		after = sql.NullTime{Time: cursorData.CreatedAt, Valid: true}
		afterID = sql.NullString{String: cursorData.ID, Valid: true}
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3::uuid))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := o.q.QueryContext(ctx, query, customerID, after, afterID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage[models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListShopOrders pages a shop's orders, optionally filtered by status.
func (o *Orders) ListShopOrders(ctx context.Context, shopID, status string, page, pageSize int) (*OffsetPage[models.Order], error) {
	page, pageSize = normalizePage(page, pageSize)
	if !validID(shopID) {
		return nil, database.ErrShopNotFound
	}

	var total int64
	err := o.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE shop_id = $1 AND ($2 = '' OR order_status = $2)`,
		shopID, status).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE shop_id = $1 AND ($2 = '' OR order_status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	rows, err := o.q.QueryContext(ctx, query, shopID, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}

	return &OffsetPage[models.Order]{
		Items:      orders,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

type StatusChange struct {
	OrderID string
	To      string
	Actor   orderstatus.Actor
	// ChangedBy is the user id recorded in the history row.
	ChangedBy string
	Notes     string
	// ExpectedVersion, when non-zero, must match the stored version.
	ExpectedVersion int
}

// UpdateOrderStatus moves an order along the status machine and records the
// change in its history, both in one transaction.
func (o *Orders) UpdateOrderStatus(ctx context.Context, change StatusChange) (*models.Order, error) {
	if !validID(change.OrderID) {
		return nil, database.ErrOrderNotFound
	}

	var updated *models.Order
	err := database.WithTransaction(ctx, o.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, change.OrderID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if change.ExpectedVersion != 0 && order.Version != change.ExpectedVersion {
			return database.ErrOptimisticLockFailed
		}
		if err := orderstatus.Transition(order.OrderStatus, change.To, change.Actor); err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET order_status = $1,
			     updated_at = NOW(),
			     version = version + 1
			 WHERE id = $2 AND version = $3
			 RETURNING updated_at, version`,
			change.To, order.ID, order.Version).Scan(&order.UpdatedAt, &order.Version)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOptimisticLockFailed
			}
			return fmt.Errorf("update order status: %w", err)
		}
		order.OrderStatus = change.To

		history := orderstatus.NewHistory(order.ID, change.To, change.ChangedBy, change.Notes, time.Now())
		if err := addStatusHistory(ctx, tx, &history); err != nil {
			return err
		}

		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (o *Orders) StatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, order_id, status, changed_by, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get status history: %w", err)
	}
	defer rows.Close()

	var history []models.OrderStatusHistory
	for rows.Next() {
		var h models.OrderStatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.ChangedBy, &h.Notes, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		history = append(history, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return history, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.ShopID,
		&order.CustomerID,
		&order.CustomerName,
		&order.CustomerEmail,
		&order.CustomerPhone,
		&order.DeliveryAddress,
		&order.ProductName,
		&order.Quantity,
		&order.TotalAmount,
		&order.DiscountAmount,
		&order.DiscountCode,
		&order.PaymentMethod,
		&order.FulfillmentType,
		&order.Notes,
		&order.OrderStatus,
		&order.PaymentStatus,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func scanOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// validID guards uuid columns so malformed ids read as missing rows instead
// of driver errors.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
