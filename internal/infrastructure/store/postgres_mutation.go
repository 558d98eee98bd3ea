package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ApplyMutation applies one inventory mutation in a single transaction:
//
//  1. conditional product update (optimistic concurrency on version)
//  2. append of the audit log entry
//  3. insert of the idempotency marker
//
// A version mismatch returns ErrVersionConflict with nothing committed. A
// marker collision means some earlier delivery of the same logical event
// already applied; the transaction rolls back and the result reports
// Duplicate. This in-transaction recheck closes the race left open by the
// advisory front-door filter.
func (s *PostgresStore) ApplyMutation(ctx context.Context, m Mutation) (*ApplyResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET inventory_quantity = $1, version = version + 1,
		     last_inventory_update = now(), updated_at = now()
		 WHERE id = $2 AND version = $3 AND deleted_at IS NULL`,
		m.NewQuantity, m.ProductID, m.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrVersionConflict
	}

	entry := LogEntry{
		ID:               uuid.New(),
		ProductID:        m.ProductID,
		PreviousQuantity: m.PreviousQuantity,
		NewQuantity:      m.NewQuantity,
		Change:           m.NewQuantity - m.PreviousQuantity,
		ChangeType:       m.ChangeType,
		Notes:            m.Notes,
		CreatedAt:        time.Now(),
	}
	var key sql.NullString
	if m.IdempotencyKey != "" {
		key = sql.NullString{String: m.IdempotencyKey, Valid: true}
		entry.IdempotencyKey = &m.IdempotencyKey
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO inventory_log (id, product_id, previous_quantity, new_quantity,
			change, change_type, idempotency_key, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.ProductID, entry.PreviousQuantity, entry.NewQuantity,
		entry.Change, entry.ChangeType, key, entry.Notes, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append log entry: %w", err)
	}

	if m.IdempotencyKey != "" {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO processed_events (idempotency_key, log_entry_id, processed_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (idempotency_key) DO NOTHING`,
			m.IdempotencyKey, entry.ID, entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to record idempotency marker: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			// Someone applied this event between the advisory check and now.
			// Roll everything back and report a duplicate.
			return &ApplyResult{Duplicate: true}, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit mutation: %w", err)
	}
	return &ApplyResult{Entry: &entry}, nil
}

// Exists reports whether an idempotency key has already been applied.
// Advisory only: the authoritative check is the marker insert inside
// ApplyMutation.
func (s *PostgresStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE idempotency_key = $1`, idempotencyKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
