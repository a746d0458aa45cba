package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/print-market/internal/database"
	"github.com/safar/print-market/internal/discount"
	"github.com/safar/print-market/internal/models"
	"github.com/shopspring/decimal"
)

const discountColumns = `
	id, code, discount_type, discount_value, is_active, min_order_amount,
	max_uses, used_count, valid_from, valid_until, shop_id::text, created_at`

type Discounts struct {
	db *sql.DB
}

func NewDiscounts(db *sql.DB) *Discounts {
	return &Discounts{db: db}
}

var _ discount.Repository = (*Discounts)(nil)

func (d *Discounts) FindActiveByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+discountColumns+` FROM discount_codes WHERE code = $1 AND is_active`,
		discount.Normalize(code))

	dc, err := scanDiscount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("find discount code: %w", err)
	}

	return dc, nil
}

func (d *Discounts) CreateDiscount(ctx context.Context, dc *models.DiscountCode) error {
	dc.Code = discount.Normalize(dc.Code)

	var minOrder decimal.NullDecimal
	if dc.MinOrderAmount != nil {
		minOrder = decimal.NewNullDecimal(*dc.MinOrderAmount)
	}
	var maxUses sql.NullInt64
	if dc.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*dc.MaxUses), Valid: true}
	}
	var validFrom, validUntil sql.NullTime
	if dc.ValidFrom != nil {
		validFrom = sql.NullTime{Time: *dc.ValidFrom, Valid: true}
	}
	if dc.ValidUntil != nil {
		validUntil = sql.NullTime{Time: *dc.ValidUntil, Valid: true}
	}
	var shopID sql.NullString
	if dc.ShopID != nil {
		shopID = nullString(*dc.ShopID)
	}

	query := `
		INSERT INTO discount_codes (
			code, discount_type, discount_value, is_active, min_order_amount,
			max_uses, used_count, valid_from, valid_until, shop_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id, created_at`

	err := d.db.QueryRowContext(ctx, query,
		dc.Code,
		dc.DiscountType,
		dc.DiscountValue,
		dc.IsActive,
		minOrder,
		maxUses,
		dc.UsedCount,
		validFrom,
		validUntil,
		shopID,
	).Scan(&dc.ID, &dc.CreatedAt)
	if err != nil {
		return fmt.Errorf("create discount code %s: %w", dc.Code, err)
	}

	return nil
}

// incrementDiscountUsage consumes one use of code. The limit is checked in
// the same statement, so concurrent checkouts cannot overshoot max_uses.
func incrementDiscountUsage(ctx context.Context, q querier, code string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE discount_codes
		 SET used_count = used_count + 1
		 WHERE code = $1
		   AND (max_uses IS NULL OR used_count < max_uses)`,
		code)
	if err != nil {
		return fmt.Errorf("increment discount usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	err = q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM discount_codes WHERE code = $1)",
		code).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check discount exists: %w", err)
	}
	if !exists {
		return database.ErrDiscountNotFound
	}

	return &discount.Error{Kind: discount.CodeExhausted, Code: code}
}

func scanDiscount(row rowScanner) (*models.DiscountCode, error) {
	var (
		dc         models.DiscountCode
		minOrder   decimal.NullDecimal
		maxUses    sql.NullInt64
		validFrom  sql.NullTime
		validUntil sql.NullTime
		shopID     sql.NullString
	)

	err := row.Scan(
		&dc.ID,
		&dc.Code,
		&dc.DiscountType,
		&dc.DiscountValue,
		&dc.IsActive,
		&minOrder,
		&maxUses,
		&dc.UsedCount,
		&validFrom,
		&validUntil,
		&shopID,
		&dc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if minOrder.Valid {
		dc.MinOrderAmount = &minOrder.Decimal
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		dc.MaxUses = &n
	}
	if validFrom.Valid {
		dc.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		dc.ValidUntil = &validUntil.Time
	}
	if shopID.Valid {
		dc.ShopID = &shopID.String
	}

	return &dc, nil
}
