package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// EntriesForProduct returns a product's audit trail, newest first
func (s *PostgresStore) EntriesForProduct(ctx context.Context, productID uuid.UUID, limit int) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, previous_quantity, new_quantity, change,
			change_type, idempotency_key, notes, created_at
		 FROM inventory_log
		 WHERE product_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var key sql.NullString
		if err := rows.Scan(&e.ID, &e.ProductID, &e.PreviousQuantity, &e.NewQuantity,
			&e.Change, &e.ChangeType, &key, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		if key.Valid {
			e.IdempotencyKey = &key.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ChangeVolume aggregates ledger activity since the given time
func (s *PostgresStore) ChangeVolume(ctx context.Context, since time.Time) (*VolumeStats, error) {
	var stats VolumeStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(change) FILTER (WHERE change > 0), 0),
			COALESCE(ABS(SUM(change) FILTER (WHERE change < 0)), 0)
		 FROM inventory_log
		 WHERE created_at >= $1`,
		since).Scan(&stats.Entries, &stats.TotalIncrease, &stats.TotalDecrease)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// MostChanged returns the products with the most ledger entries in the window
func (s *PostgresStore) MostChanged(ctx context.Context, since time.Time, limit int) ([]ProductActivity, error) {
	return s.queryActivity(ctx,
		`SELECT p.id, p.sku, p.name, COUNT(l.id), COALESCE(SUM(l.change), 0)
		 FROM products p
		 JOIN inventory_log l ON l.product_id = p.id
		 WHERE l.created_at >= $1
		 GROUP BY p.id, p.sku, p.name
		 ORDER BY COUNT(l.id) DESC
		 LIMIT $2`,
		since, limit)
}

// MostRestocked returns products by largest positive net change in the window
func (s *PostgresStore) MostRestocked(ctx context.Context, since time.Time, limit int) ([]ProductActivity, error) {
	return s.queryActivity(ctx,
		`SELECT p.id, p.sku, p.name, COUNT(l.id), SUM(l.change)
		 FROM products p
		 JOIN inventory_log l ON l.product_id = p.id
		 WHERE l.created_at >= $1 AND l.change > 0
		 GROUP BY p.id, p.sku, p.name
		 HAVING SUM(l.change) > 0
		 ORDER BY SUM(l.change) DESC
		 LIMIT $2`,
		since, limit)
}

// FastestSelling returns products by largest negative net change in the window
func (s *PostgresStore) FastestSelling(ctx context.Context, since time.Time, limit int) ([]ProductActivity, error) {
	return s.queryActivity(ctx,
		`SELECT p.id, p.sku, p.name, COUNT(l.id), SUM(l.change)
		 FROM products p
		 JOIN inventory_log l ON l.product_id = p.id
		 WHERE l.created_at >= $1 AND l.change < 0
		 GROUP BY p.id, p.sku, p.name
		 HAVING SUM(l.change) < 0
		 ORDER BY SUM(l.change) ASC
		 LIMIT $2`,
		since, limit)
}

// StockSummary counts current stock levels across the catalog
func (s *PostgresStore) StockSummary(ctx context.Context, lowStockThreshold int) (*StockSummary, error) {
	var sum StockSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE inventory_quantity > 0 AND inventory_quantity < $1),
			COUNT(*) FILTER (WHERE inventory_quantity = 0)
		 FROM products
		 WHERE deleted_at IS NULL`,
		lowStockThreshold).Scan(&sum.TotalProducts, &sum.LowStock, &sum.OutOfStock)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *PostgresStore) queryActivity(ctx context.Context, query string, args ...any) ([]ProductActivity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activity []ProductActivity
	for rows.Next() {
		var a ProductActivity
		if err := rows.Scan(&a.ProductID, &a.SKU, &a.Name, &a.Entries, &a.NetChange); err != nil {
			return nil, err
		}
		activity = append(activity, a)
	}
	return activity, rows.Err()
}
