package account

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Find* methods when no account matches.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicate is returned by Create when the email or username is taken.
	ErrDuplicate = errors.New("account already exists")
	// ErrConflict is returned by Save when the stored version moved on.
	ErrConflict = errors.New("account version conflict")
)

// Store is the durable identity store. Any error other than the sentinels
// above is treated by the engine as an infrastructure failure.
type Store interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByRefreshTokenHash(ctx context.Context, hash string) (*Account, error)
	// FindByResetTokenHash matches the active reset token hash or any entry
	// of the used reset token list.
	FindByResetTokenHash(ctx context.Context, hash string) (*Account, error)
	FindByVerificationTokenHash(ctx context.Context, hash string) (*Account, error)
	FindByExternalIdentity(ctx context.Context, provider, subject string) (*Account, error)

	// Create inserts a new record with Version 1.
	Create(ctx context.Context, acct *Account) error
	// Save writes acct if the stored Version equals acct.Version, then
	// increments acct.Version.
	Save(ctx context.Context, acct *Account) error
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
