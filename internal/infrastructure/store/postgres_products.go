package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const productColumns = `id, platform_id, name, sku, price_cents, inventory_quantity,
	description, version, last_inventory_update, created_at, updated_at`

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanProduct(row)
}

func (s *PostgresStore) GetByPlatformID(ctx context.Context, platformID string) (*Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE platform_id = $1 AND deleted_at IS NULL`, platformID)
	return scanProduct(row)
}

func (s *PostgresStore) GetBySKU(ctx context.Context, sku string) (*Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE sku = $1 AND deleted_at IS NULL`, sku)
	return scanProduct(row)
}

// GetAllLinked returns every product mapped to a platform inventory item,
// for the reconciliation pass
func (s *PostgresStore) GetAllLinked(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE platform_id IS NOT NULL AND platform_id <> '' AND deleted_at IS NULL
		 ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, p *Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	if p.Version == 0 {
		p.Version = 1
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	p.LastInventoryUpdate = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, platform_id, name, sku, price_cents, inventory_quantity,
			description, version, last_inventory_update, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.PlatformID, p.Name, p.SKU, p.PriceCents, p.InventoryQuantity,
		p.Description, p.Version, p.LastInventoryUpdate, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrSKUExists
		}
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// UpdateDetails updates descriptive fields without touching quantity or version
func (s *PostgresStore) UpdateDetails(ctx context.Context, id uuid.UUID, name string, priceCents int64, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET name = $1, price_cents = $2, description = $3, updated_at = now()
		 WHERE id = $4 AND deleted_at IS NULL`,
		name, priceCents, description, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	var platformID sql.NullString
	err := row.Scan(&p.ID, &platformID, &p.Name, &p.SKU, &p.PriceCents, &p.InventoryQuantity,
		&p.Description, &p.Version, &p.LastInventoryUpdate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if platformID.Valid {
		p.PlatformID = &platformID.String
	}
	return &p, nil
}
