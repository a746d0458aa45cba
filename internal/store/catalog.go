package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/print-market/internal/customization"
	"github.com/safar/print-market/internal/database"
	"github.com/safar/print-market/internal/models"
	"github.com/shopspring/decimal"
)

// Catalog reads and writes shops, products and their customization
// groups.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) CreateShop(ctx context.Context, ownerID, name string) (*models.Shop, error) {
	shop := &models.Shop{}

	err := c.db.QueryRowContext(ctx,
		`INSERT INTO shops (owner_id, name, created_at)
		 VALUES ($1, $2, NOW())
		 RETURNING id, owner_id, name, created_at`,
		ownerID, name).Scan(&shop.ID, &shop.OwnerID, &shop.Name, &shop.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create shop: %w", err)
	}

	return shop, nil
}

func (c *Catalog) GetShop(ctx context.Context, id string) (*models.Shop, error) {
	if !validID(id) {
		return nil, database.ErrShopNotFound
	}

	shop := &models.Shop{}
	err := c.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, created_at FROM shops WHERE id = $1`,
		id).Scan(&shop.ID, &shop.OwnerID, &shop.Name, &shop.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrShopNotFound
		}
		return nil, fmt.Errorf("get shop: %w", err)
	}

	return shop, nil
}

func (c *Catalog) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (shop_id, name, description, base_price, image_url, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING id, created_at, updated_at, version`

	err := c.db.QueryRowContext(ctx, query, p.ShopID, p.Name, p.Description, p.BasePrice, p.ImageURL).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &p.Version)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return database.ErrShopNotFound
		}
		return fmt.Errorf("create product: %w", err)
	}

	return nil
}

const productColumns = `
	p.id, p.shop_id, s.name, p.name, p.description, p.base_price, p.image_url,
	p.created_at, p.updated_at, p.version`

func (c *Catalog) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if !validID(id) {
		return nil, database.ErrProductNotFound
	}

	query := `
		SELECT ` + productColumns + `
		FROM products p
		JOIN shops s ON s.id = p.shop_id
		WHERE p.id = $1`

	product, err := scanProduct(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// UpdateProductPrice changes a product's base price if version still
// matches. Carts and orders keep the price they captured.
func (c *Catalog) UpdateProductPrice(ctx context.Context, productID string, price decimal.Decimal, version int) error {
	if !validID(productID) {
		return database.ErrProductNotFound
	}

	result, err := c.db.ExecContext(ctx,
		`UPDATE products
		 SET base_price = $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2 AND version = $3`,
		price, productID, version)
	if err != nil {
		return fmt.Errorf("update product price: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

// ListProducts pages through products, optionally limited to one shop.
func (c *Catalog) ListProducts(ctx context.Context, shopID string, page, pageSize int) (*OffsetPage[models.Product], error) {
	page, pageSize = normalizePage(page, pageSize)
	if shopID != "" && !validID(shopID) {
		return nil, database.ErrShopNotFound
	}
	shop := nullString(shopID)

	var total int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE $1::uuid IS NULL OR shop_id = $1::uuid`,
		shop).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	query := `
		SELECT ` + productColumns + `
		FROM products p
		JOIN shops s ON s.id = p.shop_id
		WHERE $1::uuid IS NULL OR p.shop_id = $1::uuid
		ORDER BY p.created_at DESC, p.id
		LIMIT $2 OFFSET $3`

	rows, err := c.db.QueryContext(ctx, query, shop, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &OffsetPage[models.Product]{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

// CreateCustomizationGroup stores g. An empty SelectionMode is written as
// NULL, the legacy form that readers derive from Required.
func (c *Catalog) CreateCustomizationGroup(ctx context.Context, g *models.CustomizationGroup) error {
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO customization_groups (product_id, name, description, is_required, selection_mode, display_order)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		g.ProductID, g.Name, g.Description, g.Required, nullString(string(g.SelectionMode)), g.DisplayOrder,
	).Scan(&g.ID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return database.ErrProductNotFound
		}
		return fmt.Errorf("create customization group: %w", err)
	}

	if g.SelectionMode == "" {
		g.SelectionMode = customization.LegacyMode(g.Required)
	}
	return nil
}

func (c *Catalog) CreateCustomizationOption(ctx context.Context, o *models.CustomizationOption) error {
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO customization_options (group_id, name, price_modifier, is_default, display_order)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		o.GroupID, o.Name, o.PriceModifier, o.IsDefault, o.DisplayOrder,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("create customization option: %w", err)
	}

	return nil
}

// ListCustomizationGroups returns a product's groups with their options, both
// in display order.
func (c *Catalog) ListCustomizationGroups(ctx context.Context, productID string) ([]models.CustomizationGroup, error) {
	if !validID(productID) {
		return nil, database.ErrProductNotFound
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, product_id, name, description, is_required, selection_mode, display_order
		FROM customization_groups
		WHERE product_id = $1
		ORDER BY display_order, name`, productID)
	if err != nil {
		return nil, fmt.Errorf("list customization groups: %w", err)
	}
	defer rows.Close()

	var groups []models.CustomizationGroup
	var ids []string
	index := make(map[string]int)
	for rows.Next() {
		var g models.CustomizationGroup
		var mode sql.NullString
		if err := rows.Scan(&g.ID, &g.ProductID, &g.Name, &g.Description, &g.Required, &mode, &g.DisplayOrder); err != nil {
			return nil, fmt.Errorf("scan customization group: %w", err)
		}
		if mode.Valid {
			g.SelectionMode = models.SelectionMode(mode.String)
		} else {
			g.SelectionMode = customization.LegacyMode(g.Required)
		}
		index[g.ID] = len(groups)
		groups = append(groups, g)
		ids = append(ids, g.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(groups) == 0 {
		return groups, nil
	}

	optRows, err := c.db.QueryContext(ctx, `
		SELECT id, group_id, name, price_modifier, is_default, display_order
		FROM customization_options
		WHERE group_id = ANY($1::uuid[])
		ORDER BY display_order, name`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list customization options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var o models.CustomizationOption
		if err := optRows.Scan(&o.ID, &o.GroupID, &o.Name, &o.PriceModifier, &o.IsDefault, &o.DisplayOrder); err != nil {
			return nil, fmt.Errorf("scan customization option: %w", err)
		}
		i := index[o.GroupID]
		groups[i].Options = append(groups[i].Options, o)
	}

	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return groups, nil
}

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.ShopID,
		&product.ShopName,
		&product.Name,
		&product.Description,
		&product.BasePrice,
		&product.ImageURL,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}
