package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ledgerInsert = InsertConfig{
	Table:        "processed_items",
	Columns:      []string{"item_id", "processed_at"},
	ConflictKeys: []string{"item_id"},
}

func TestBulkInsertIgnore_EmptyRows(t *testing.T) {
	n, err := BulkInsertIgnore(context.Background(), nil, ledgerInsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkInsertIgnore_NoColumns(t *testing.T) {
	_, err := BulkInsertIgnore(context.Background(), nil, InsertConfig{
		Table:        "processed_items",
		ConflictKeys: []string{"item_id"},
	}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkInsertIgnore_NoConflictKeys(t *testing.T) {
	_, err := BulkInsertIgnore(context.Background(), nil, InsertConfig{
		Table:   "processed_items",
		Columns: []string{"item_id"},
	}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkInsertIgnore_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_processed_items"}, []string{"item_id", "processed_at"}).WillReturnResult(3)
	mock.ExpectExec("ON CONFLICT").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{{"a", nil}, {"b", nil}, {"c", nil}}
	n, err := BulkInsertIgnore(context.Background(), mock, ledgerInsert, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertIgnore_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_processed_items"}, []string{"item_id", "processed_at"}).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkInsertIgnore(context.Background(), mock, ledgerInsert, [][]any{{"a", nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"leakscan.results", `"leakscan"."results"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"domain", "source_item_id"`, quoteAndJoin([]string{"domain", "source_item_id"}))
}
