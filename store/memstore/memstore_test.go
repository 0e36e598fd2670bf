package memstore

import (
	"context"
	"testing"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) account.Store {
		return New()
	})
}

func TestReturnedAccountsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := storetest.Fixture("acc-1", "ada@example.com", "ada")
	acct.UsedResetTokenHashes = []string{"h1"}
	require.NoError(t, s.Create(ctx, acct))

	acct.UsedResetTokenHashes[0] = "mutated"
	got, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, got.UsedResetTokenHashes)

	got.FailedLoginAttempts = 9
	again, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.FailedLoginAttempts)
	assert.Equal(t, 1, s.Len())
}
