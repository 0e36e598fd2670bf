package pgstore

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/store/storetest"
	"github.com/stretchr/testify/require"
)

// Set AUTHCORE_TEST_DATABASE_URL to a disposable database to run these.
func TestStoreContract(t *testing.T) {
	url := os.Getenv("AUTHCORE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AUTHCORE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db), "migrations must be idempotent")

	storetest.Run(t, func(t *testing.T) account.Store {
		_, err := db.ExecContext(ctx, `TRUNCATE accounts CASCADE`)
		require.NoError(t, err)
		return New(db)
	})
}

func TestColumnValuesMatchColumnList(t *testing.T) {
	acct := storetest.Fixture("acc-1", "ada@example.com", "")
	values := columnValues(acct, 7)
	require.Len(t, values, 32)
	require.Equal(t, int64(7), values[31])
	require.Equal(t, sql.NullString{}, values[2], "empty username must be NULL")
	require.Equal(t, sql.NullTime{}, values[12], "zero lock time must be NULL")
}
