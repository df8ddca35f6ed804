package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.MatchExpectationsInOrder(false)
	mock.ExpectPrepare("SELECT value FROM magi_kv")
	mock.ExpectPrepare("INSERT INTO magi_kv")
	mock.ExpectPrepare("DELETE FROM magi_kv")
	mock.ExpectPrepare("SELECT key FROM magi_kv")

	store := &PostgresStore{db: db}
	require.NoError(t, store.prepareStatements())
	return mock, store
}

func TestPostgresStoreGetFound(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectQuery("SELECT value FROM magi_kv").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"a":1}`)))

	val, err := store.Get(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(val))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectQuery("SELECT value FROM magi_kv").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresStoreGetDBError(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectQuery("SELECT value FROM magi_kv").WithArgs("p1").WillReturnError(errors.New("connection reset"))

	_, err := store.Get(context.Background(), "p1")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestPostgresStorePut(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectExec("INSERT INTO magi_kv").WithArgs("p1", []byte("data")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Put(context.Background(), "p1", []byte("data"))
	require.NoError(t, err)
}

func TestPostgresStorePutError(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectExec("INSERT INTO magi_kv").WithArgs("p1", []byte("data")).
		WillReturnError(errors.New("write failed"))

	err := store.Put(context.Background(), "p1", []byte("data"))
	require.Error(t, err)
}

func TestPostgresStoreDelete(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectExec("DELETE FROM magi_kv").WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "p1"))
}

func TestPostgresStoreKeys(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectQuery("SELECT key FROM magi_kv").WithArgs("history:%").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).
			AddRow("history:p1").
			AddRow("history:p2"))

	keys, err := store.Keys(context.Background(), "history:")
	require.NoError(t, err)
	require.Equal(t, []string{"history:p1", "history:p2"}, keys)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Put(ctx, "history:p1", []byte("hello")))
	val, err := s.Get(ctx, "history:p1")
	require.NoError(t, err)
	require.Equal(t, "hello", string(val))

	keys, err := s.Keys(ctx, "history:")
	require.NoError(t, err)
	require.Equal(t, []string{"history:p1"}, keys)

	require.NoError(t, s.Delete(ctx, "history:p1"))
	_, err = s.Get(ctx, "history:p1")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMessageHistoryStoreRoundTrip(t *testing.T) {
	hs := &MessageHistoryStore{Store: NewMemoryStore()}

	loaded, err := hs.Load("p1")
	require.NoError(t, err)
	require.Nil(t, loaded)
}
