package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLClient_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	client := NewSQLClient(db, DialectSQLite)

	rows := sqlmock.NewRows([]string{"cid", "code"}).
		AddRow("bafy123", "console.log('hi')")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT cid, code FROM codes WHERE cid = ?")).
		WithArgs("bafy123").
		WillReturnRows(rows)

	results, err := client.Execute(context.Background(), []Statement{
		{Q: "SELECT cid, code FROM codes WHERE cid = ?", Params: []any{"bafy123"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"cid", "code"}, results[0].Columns)
	require.Len(t, results[0].Rows, 1)
	assert.Equal(t, "bafy123", results[0].Rows[0][0])
	assert.Equal(t, int64(1), results[0].RowsRead)
}

func TestSQLClient_ExecBatchIsTransactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	client := NewSQLClient(db, DialectSQLite)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO logs")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	results, err := client.Execute(context.Background(), []Statement{
		{Q: "INSERT INTO logs (script_id, request_id, level, message, created_at) VALUES (?, ?, ?, ?, ?)", Params: []any{"s", "r", "REPORT", "START Request: GET /", int64(1)}},
		{Q: "INSERT INTO logs (script_id, request_id, level, message, created_at) VALUES (?, ?, ?, ?, ?)", Params: []any{"s", "r", "REPORT", "END Request: Duration: 3ms", int64(1)}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].RowsWritten)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLClient_ExecErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	client := NewSQLClient(db, DialectSQLite)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO logs")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = client.Execute(context.Background(), []Statement{
		{Q: "INSERT INTO logs (script_id) VALUES (?)", Params: []any{"s"}},
		{Q: "INSERT INTO logs (script_id) VALUES (?)", Params: []any{"s"}},
	})
	require.Error(t, err)
	var storeErr *Error
	assert.ErrorAs(t, err, &storeErr)
}

func TestRebind(t *testing.T) {
	assert.Equal(t,
		"SELECT * FROM vaults WHERE key = $1 AND cid = $2",
		Rebind("SELECT * FROM vaults WHERE key = ? AND cid = ?"))
	assert.Equal(t,
		"SELECT '?' AS q, $1 AS p",
		Rebind("SELECT '?' AS q, ? AS p"))
	assert.Equal(t, "SELECT 1", Rebind("SELECT 1"))
}
