package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/print-market/internal/database"
	"github.com/safar/print-market/internal/models"
	"github.com/safar/print-market/internal/store"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const migrationsDir = "../../migrations"

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := database.Migrate(db, migrationsDir); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

type fixture struct {
	shop    *models.Shop
	product *models.Product
}

// seedShop creates a shop owned by owner with one product priced at price.
func seedShop(t *testing.T, catalog *store.Catalog, owner, name string, price int64) fixture {
	t.Helper()
	ctx := context.Background()

	shop, err := catalog.CreateShop(ctx, owner, name)
	if err != nil {
		t.Fatalf("Create shop %s: %v", name, err)
	}

	product := &models.Product{
		ShopID:    shop.ID,
		Name:      name + " Flyers",
		BasePrice: decimal.NewFromInt(price),
	}
	if err := catalog.CreateProduct(ctx, product); err != nil {
		t.Fatalf("Create product for %s: %v", name, err)
	}

	return fixture{shop: shop, product: product}
}

func cartLine(f fixture, qty int, mods ...models.SelectedCustomization) models.CartItem {
	return models.CartItem{
		ProductID:      f.product.ID,
		ProductName:    f.product.Name,
		ShopID:         f.shop.ID,
		ShopName:       f.shop.Name,
		BasePrice:      f.product.BasePrice,
		Quantity:       qty,
		Customizations: mods,
	}
}
