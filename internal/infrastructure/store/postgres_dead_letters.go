package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func (s *PostgresStore) Add(ctx context.Context, dl *DeadLetter) error {
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, idempotency_key, source, reason, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		dl.ID, dl.IdempotencyKey, dl.Source, dl.Reason, dl.Payload, dl.CreatedAt)
	return err
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, idempotency_key, source, reason, payload, created_at
		 FROM dead_letters
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.IdempotencyKey, &dl.Source, &dl.Reason, &dl.Payload, &dl.CreatedAt); err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
