// Package storetest holds the behavioral contract every account.Store must
// satisfy. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Cleanup belongs on t.
type Factory func(t *testing.T) account.Store

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("SaveRoundTrip", func(t *testing.T) { testSaveRoundTrip(t, newStore(t)) })
	t.Run("SaveConflict", func(t *testing.T) { testSaveConflict(t, newStore(t)) })
	t.Run("TokenIndexes", func(t *testing.T) { testTokenIndexes(t, newStore(t)) })
	t.Run("ExternalIdentity", func(t *testing.T) { testExternalIdentity(t, newStore(t)) })
	t.Run("ConcurrentSave", func(t *testing.T) { testConcurrentSave(t, newStore(t)) })
}

// Fixture returns a minimal valid account. Times are truncated to whole
// seconds so every backend round-trips them exactly.
func Fixture(id, email, username string) *account.Account {
	now := time.Unix(1_750_000_000, 0).UTC()
	return &account.Account{
		ID:           id,
		Email:        email,
		Username:     username,
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         account.RoleClient,
		SecondFactor: account.NoFactor{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testCreateAndFind(t *testing.T, s account.Store) {
	ctx := context.Background()
	acct := Fixture("acc-1", "ada@example.com", "ada")

	require.NoError(t, s.Create(ctx, acct))
	assert.Equal(t, int64(1), acct.Version)

	byID, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", byID.Email)
	assert.Equal(t, "ada", byID.Username)
	assert.Equal(t, account.RoleClient, byID.Role)
	assert.Equal(t, int64(1), byID.Version)
	assert.Equal(t, account.MethodNone, byID.Factor().Method())
	assert.True(t, byID.CreatedAt.Equal(acct.CreatedAt))

	byEmail, err := s.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", byEmail.ID)

	byName, err := s.FindByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", byName.ID)
}

func testCreateDuplicate(t *testing.T, s account.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Fixture("acc-1", "ada@example.com", "ada")))

	err := s.Create(ctx, Fixture("acc-2", "ada@example.com", "other"))
	assert.ErrorIs(t, err, account.ErrDuplicate)

	err = s.Create(ctx, Fixture("acc-3", "grace@example.com", "ada"))
	assert.ErrorIs(t, err, account.ErrDuplicate)

	require.NoError(t, s.Create(ctx, Fixture("acc-4", "grace@example.com", "grace")))
}

func testNotFound(t *testing.T, s account.Store) {
	ctx := context.Background()

	_, err := s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = s.FindByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = s.FindByUsername(ctx, "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = s.FindByRefreshTokenHash(ctx, "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = s.FindByResetTokenHash(ctx, "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = s.FindByVerificationTokenHash(ctx, "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = s.FindByExternalIdentity(ctx, "google", "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)

	err = s.Save(ctx, Fixture("missing", "missing@example.com", "missing"))
	assert.True(t, errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrConflict),
		"expected not found or conflict, got %v", err)
}

func testSaveRoundTrip(t *testing.T, s account.Store) {
	ctx := context.Background()
	acct := Fixture("acc-1", "ada@example.com", "ada")
	require.NoError(t, s.Create(ctx, acct))

	locked := time.Unix(1_750_000_600, 0).UTC()
	expires := time.Unix(1_750_003_600, 0).UTC()

	acct.IsActive = true
	acct.EmailVerified = true
	acct.FailedLoginAttempts = 3
	acct.LockedUntil = locked
	acct.TwoFactorEnabled = true
	acct.SecondFactor = account.EmailFactor{CodeHash: "code-hash", ExpiresAt: expires}
	acct.FailedTwoFactorAttempts = 1
	acct.OTPCodeHash = "otp-hash"
	acct.OTPExpiresAt = expires
	acct.OTPFailedAttempts = 2
	acct.UsedResetTokenHashes = []string{"used-1", "used-2"}
	acct.RefreshTokenHash = "refresh-hash"
	acct.RefreshTokenExpiresAt = expires
	acct.LastHeartbeatAt = locked
	acct.LastLoginAt = locked
	acct.Username = "ada2"
	acct.Email = "ada.l@example.com"

	require.NoError(t, s.Save(ctx, acct))
	assert.Equal(t, int64(2), acct.Version)

	got, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.IsActive)
	assert.True(t, got.EmailVerified)
	assert.Equal(t, 3, got.FailedLoginAttempts)
	assert.True(t, got.LockedUntil.Equal(locked))
	assert.True(t, got.TwoFactorEnabled)
	factor, ok := got.Factor().(account.EmailFactor)
	require.True(t, ok, "expected email factor, got %T", got.Factor())
	assert.Equal(t, "code-hash", factor.CodeHash)
	assert.True(t, factor.ExpiresAt.Equal(expires))
	assert.Equal(t, 1, got.FailedTwoFactorAttempts)
	assert.Equal(t, "otp-hash", got.OTPCodeHash)
	assert.Equal(t, 2, got.OTPFailedAttempts)
	assert.Equal(t, []string{"used-1", "used-2"}, got.UsedResetTokenHashes)
	assert.True(t, got.RefreshTokenExpiresAt.Equal(expires))
	assert.True(t, got.PasswordResetExpiresAt.IsZero())

	_, err = s.FindByEmail(ctx, "ada@example.com")
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = s.FindByUsername(ctx, "ada")
	assert.ErrorIs(t, err, account.ErrNotFound)
	byEmail, err := s.FindByEmail(ctx, "ada.l@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", byEmail.ID)

	got.SecondFactor = account.TOTPFactor{Secret: "JBSWY3DPEHPK3PXP"}
	require.NoError(t, s.Save(ctx, got))
	again, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, account.TOTPFactor{Secret: "JBSWY3DPEHPK3PXP"}, again.Factor())
}

func testSaveConflict(t *testing.T, s account.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Fixture("acc-1", "ada@example.com", "ada")))

	first, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	second, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)

	first.FailedLoginAttempts = 1
	require.NoError(t, s.Save(ctx, first))

	second.FailedLoginAttempts = 5
	assert.ErrorIs(t, s.Save(ctx, second), account.ErrConflict)

	got, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedLoginAttempts)
}

func testTokenIndexes(t *testing.T, s account.Store) {
	ctx := context.Background()
	acct := Fixture("acc-1", "ada@example.com", "ada")
	acct.RefreshTokenHash = "refresh-1"
	acct.EmailVerificationTokenHash = "verify-1"
	acct.PasswordResetTokenHash = "reset-1"
	require.NoError(t, s.Create(ctx, acct))

	for name, find := range map[string]func() (*account.Account, error){
		"refresh": func() (*account.Account, error) { return s.FindByRefreshTokenHash(ctx, "refresh-1") },
		"verify":  func() (*account.Account, error) { return s.FindByVerificationTokenHash(ctx, "verify-1") },
		"reset":   func() (*account.Account, error) { return s.FindByResetTokenHash(ctx, "reset-1") },
	} {
		got, err := find()
		require.NoError(t, err, name)
		assert.Equal(t, "acc-1", got.ID, name)
	}

	acct.RefreshTokenHash = "refresh-2"
	acct.EmailVerificationTokenHash = ""
	acct.ClearPasswordReset()
	acct.RememberResetHash("reset-1", 10)
	require.NoError(t, s.Save(ctx, acct))

	_, err := s.FindByRefreshTokenHash(ctx, "refresh-1")
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = s.FindByVerificationTokenHash(ctx, "verify-1")
	assert.ErrorIs(t, err, account.ErrNotFound)

	got, err := s.FindByRefreshTokenHash(ctx, "refresh-2")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.ID)

	used, err := s.FindByResetTokenHash(ctx, "reset-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", used.ID)
	assert.True(t, used.ResetHashUsed("reset-1"))
}

func testExternalIdentity(t *testing.T, s account.Store) {
	ctx := context.Background()
	acct := Fixture("acc-1", "ada@example.com", "ada")
	require.NoError(t, s.Create(ctx, acct))

	acct.Identities = append(acct.Identities, account.ExternalIdentity{Provider: "google", Subject: "sub-1"})
	require.NoError(t, s.Save(ctx, acct))

	got, err := s.FindByExternalIdentity(ctx, "google", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.ID)
	assert.Equal(t, []account.ExternalIdentity{{Provider: "google", Subject: "sub-1"}}, got.Identities)

	_, err = s.FindByExternalIdentity(ctx, "github", "sub-1")
	assert.ErrorIs(t, err, account.ErrNotFound)

	other := Fixture("acc-2", "grace@example.com", "grace")
	other.Identities = []account.ExternalIdentity{{Provider: "google", Subject: "sub-1"}}
	assert.ErrorIs(t, s.Create(ctx, other), account.ErrDuplicate)
}

// testConcurrentSave checks that of many writers holding the same version
// exactly one wins.
func testConcurrentSave(t *testing.T, s account.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Fixture("acc-1", "ada@example.com", "ada")))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		acct, err := s.FindByID(ctx, "acc-1")
		require.NoError(t, err)
		wg.Add(1)
		go func(a *account.Account, n int) {
			defer wg.Done()
			a.FailedLoginAttempts = n
			err := s.Save(ctx, a)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, account.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected save error: %v", err)
			}
		}(acct, i+1)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	got, err := s.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}
