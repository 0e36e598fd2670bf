package redisstore

import (
	"context"
	"testing"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/store/storetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test"), mr
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) account.Store {
		s, _ := newRedisStoreTest(t)
		return s
	})
}

func TestSaveRemovesStaleIndexKeys(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	ctx := context.Background()

	acct := storetest.Fixture("acc-1", "ada@example.com", "ada")
	acct.RefreshTokenHash = "r1"
	require.NoError(t, s.Create(ctx, acct))
	assert.True(t, mr.Exists("test:refresh:r1"))
	assert.True(t, mr.Exists("test:email:ada@example.com"))

	acct.RefreshTokenHash = "r2"
	require.NoError(t, s.Save(ctx, acct))

	assert.False(t, mr.Exists("test:refresh:r1"))
	got, err := mr.Get("test:refresh:r2")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got)
	assert.Equal(t, "2", mr.HGet("test:acct:acc-1", fieldVersion))
}

func TestCorruptDocument(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	mr.HSet("test:acct:bad", fieldDoc, "{not json")

	_, err := s.FindByID(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrRecordCorrupt)
}

func TestUnavailable(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	mr.Close()

	_, err := s.FindByEmail(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestRecordRoundTripKeepsFactor(t *testing.T) {
	acct := storetest.Fixture("acc-1", "ada@example.com", "ada")
	acct.SecondFactor = account.TOTPFactor{Secret: "JBSWY3DPEHPK3PXP"}
	acct.Identities = []account.ExternalIdentity{{Provider: "google", Subject: "s"}}

	data, err := encodeAccount(acct)
	require.NoError(t, err)
	got, err := decodeAccount(data)
	require.NoError(t, err)
	assert.Equal(t, acct.SecondFactor, got.SecondFactor)
	assert.Equal(t, acct.Identities, got.Identities)
	assert.True(t, got.LockedUntil.IsZero())
}
