package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func testMutation() Mutation {
	return Mutation{
		ProductID:        uuid.New(),
		ExpectedVersion:  3,
		PreviousQuantity: 50,
		NewQuantity:      45,
		ChangeType:       "webhook",
		IdempotencyKey:   "webhook:evt-1",
		Notes:            "platform notification evt-1",
	}
}

func TestApplyMutation_CommitsProductLogAndMarker(t *testing.T) {
	s, mock := newMockStore(t)
	m := testMutation()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WithArgs(m.NewQuantity, m.ProductID, m.ExpectedVersion).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO inventory_log")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := s.ApplyMutation(context.Background(), m)
	require.NoError(t, err)
	require.NotNil(t, result.Entry)

	assert.False(t, result.Duplicate)
	assert.Equal(t, -5, result.Entry.Change)
	assert.Equal(t, "webhook", result.Entry.ChangeType)
	require.NotNil(t, result.Entry.IdempotencyKey)
	assert.Equal(t, "webhook:evt-1", *result.Entry.IdempotencyKey)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMutation_VersionConflictRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	m := testMutation()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WithArgs(m.NewQuantity, m.ProductID, m.ExpectedVersion).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	result, err := s.ApplyMutation(context.Background(), m)

	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMutation_DuplicateMarkerRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	m := testMutation()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO inventory_log")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Marker already present: ON CONFLICT DO NOTHING affects zero rows
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	result, err := s.ApplyMutation(context.Background(), m)

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Nil(t, result.Entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMutation_NoKeySkipsMarker(t *testing.T) {
	s, mock := newMockStore(t)
	m := testMutation()
	m.IdempotencyKey = ""

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO inventory_log")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := s.ApplyMutation(context.Background(), m)

	require.NoError(t, err)
	require.NotNil(t, result.Entry)
	assert.Nil(t, result.Entry.IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM processed_events")).
		WithArgs("webhook:evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	seen, err := s.Exists(context.Background(), "webhook:evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestExists_Miss(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM processed_events")).
		WithArgs("webhook:evt-2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	seen, err := s.Exists(context.Background(), "webhook:evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
}
