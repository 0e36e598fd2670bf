package gormstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGormStoreTest(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "authcore.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) account.Store {
		return newGormStoreTest(t)
	})
}

func TestEmptyUsernamesDoNotCollide(t *testing.T) {
	s := newGormStoreTest(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, storetest.Fixture("acc-1", "a@example.com", "")))
	require.NoError(t, s.Create(ctx, storetest.Fixture("acc-2", "b@example.com", "")))

	got, err := s.FindByID(ctx, "acc-2")
	require.NoError(t, err)
	assert.Empty(t, got.Username)
}

func TestSaveKeepsInjectedTimestamps(t *testing.T) {
	s := newGormStoreTest(t)
	ctx := context.Background()
	acct := storetest.Fixture("acc-1", "a@example.com", "a")
	require.NoError(t, s.Create(ctx, acct))

	acct.UpdatedAt = acct.UpdatedAt.Add(90)
	require.NoError(t, s.Save(ctx, acct))

	got, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(acct.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(acct.UpdatedAt))
}
