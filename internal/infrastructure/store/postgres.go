package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements ProductStore, MutationStore, ProcessedEventStore,
// LedgerStore and DeadLetterStore on a single PostgreSQL database. All three
// mutation rows live in one database so ApplyMutation can commit them in one
// transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	return db, nil
}

// EnsureSchema creates the tables if they do not exist yet
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY,
			platform_id TEXT UNIQUE,
			name TEXT NOT NULL,
			sku TEXT NOT NULL UNIQUE,
			price_cents BIGINT NOT NULL DEFAULT 0,
			inventory_quantity INT NOT NULL DEFAULT 0 CHECK (inventory_quantity >= 0),
			description TEXT NOT NULL DEFAULT '',
			version INT NOT NULL DEFAULT 1,
			last_inventory_update TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_log (
			id UUID PRIMARY KEY,
			product_id UUID NOT NULL REFERENCES products(id),
			previous_quantity INT NOT NULL,
			new_quantity INT NOT NULL,
			change INT NOT NULL,
			change_type TEXT NOT NULL,
			idempotency_key TEXT,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_log_product_created
			ON inventory_log (product_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_log_created
			ON inventory_log (created_at)`,
		`CREATE TABLE IF NOT EXISTS processed_events (
			idempotency_key TEXT PRIMARY KEY,
			log_entry_id UUID NOT NULL REFERENCES inventory_log(id),
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id UUID PRIMARY KEY,
			idempotency_key TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			payload BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
