package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/print-market/internal/database"
	"github.com/safar/print-market/internal/models"
)

func CreateCustomer(ctx context.Context, db *sql.DB, c *models.Customer) error {
	query := `
		INSERT INTO customers (email, first_name, last_name, phone, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		RETURNING id, created_at, updated_at, version`

	err := db.QueryRowContext(ctx, query, c.Email, c.FirstName, c.LastName, c.Phone).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.Version)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}

	return nil
}

func GetCustomer(ctx context.Context, db *sql.DB, id string) (*models.Customer, error) {
	if !validID(id) {
		return nil, database.ErrCustomerNotFound
	}

	customer := &models.Customer{}

	query := `
		SELECT id, email, first_name, last_name, phone, created_at, updated_at, version
		FROM customers
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&customer.ID,
		&customer.Email,
		&customer.FirstName,
		&customer.LastName,
		&customer.Phone,
		&customer.CreatedAt,
		&customer.UpdatedAt,
		&customer.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	return customer, nil
}
