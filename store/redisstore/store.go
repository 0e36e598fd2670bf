// Package redisstore is an account.Store backed by Redis.
//
// Each account lives in a hash at <prefix>:acct:<id> holding its version and
// a JSON document. Every lookup key (email, username, token hashes and
// external identities) is a plain string key pointing at the account id.
// Create and Save run inside WATCH/MULTI so index keys and the document
// change together.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/account"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps client and transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	defaultPrefix = "authcore"
	maxRetries    = 4

	fieldVersion = "version"
	fieldDoc     = "doc"
)

// Store is a Redis-backed identity store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ account.Store = (*Store)(nil)

// New returns a Store using client. An empty prefix defaults to "authcore".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) accountKey(id string) string {
	return s.prefix + ":acct:" + id
}

func (s *Store) indexKey(kind, value string) string {
	return s.prefix + ":" + kind + ":" + value
}

// uniqueKeys are the index keys that must not point at another account.
func (s *Store) uniqueKeys(a *account.Account) []string {
	keys := []string{s.indexKey("email", a.Email)}
	if a.Username != "" {
		keys = append(keys, s.indexKey("user", a.Username))
	}
	for _, id := range a.Identities {
		keys = append(keys, s.indexKey("ext", id.Provider+":"+id.Subject))
	}
	return keys
}

func (s *Store) tokenKeys(a *account.Account) []string {
	var keys []string
	if a.RefreshTokenHash != "" {
		keys = append(keys, s.indexKey("refresh", a.RefreshTokenHash))
	}
	if a.EmailVerificationTokenHash != "" {
		keys = append(keys, s.indexKey("verify", a.EmailVerificationTokenHash))
	}
	if a.PasswordResetTokenHash != "" {
		keys = append(keys, s.indexKey("reset", a.PasswordResetTokenHash))
	}
	for _, used := range a.UsedResetTokenHashes {
		keys = append(keys, s.indexKey("reset", used))
	}
	return keys
}

func (s *Store) allKeys(a *account.Account) []string {
	return append(s.uniqueKeys(a), s.tokenKeys(a)...)
}

/*
====================================
LOOKUPS
====================================
*/

func (s *Store) FindByID(ctx context.Context, id string) (*account.Account, error) {
	if id == "" {
		return nil, account.ErrNotFound
	}
	return s.load(ctx, s.redis, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.findBy(ctx, "email", email)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	return s.findBy(ctx, "user", username)
}

func (s *Store) FindByRefreshTokenHash(ctx context.Context, hash string) (*account.Account, error) {
	return s.findBy(ctx, "refresh", hash)
}

func (s *Store) FindByResetTokenHash(ctx context.Context, hash string) (*account.Account, error) {
	return s.findBy(ctx, "reset", hash)
}

func (s *Store) FindByVerificationTokenHash(ctx context.Context, hash string) (*account.Account, error) {
	return s.findBy(ctx, "verify", hash)
}

func (s *Store) FindByExternalIdentity(ctx context.Context, provider, subject string) (*account.Account, error) {
	if provider == "" || subject == "" {
		return nil, account.ErrNotFound
	}
	return s.findBy(ctx, "ext", provider+":"+subject)
}

// findBy resolves an index key. An index entry left behind by a crashed
// writer can point at a row that no longer carries the value, so callers
// re-check the decoded row in the flows that care.
func (s *Store) findBy(ctx context.Context, kind, value string) (*account.Account, error) {
	if value == "" {
		return nil, account.ErrNotFound
	}
	id, err := s.redis.Get(ctx, s.indexKey(kind, value)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.load(ctx, s.redis, id)
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, id string) (*account.Account, error) {
	data, err := c.HGet(ctx, s.accountKey(id), fieldDoc).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeAccount(data)
}

/*
====================================
WRITES
====================================
*/

// Create inserts acct with Version 1.
func (s *Store) Create(ctx context.Context, acct *account.Account) error {
	next := acct.Clone()
	next.Version = 1
	data, err := encodeAccount(next)
	if err != nil {
		return err
	}

	key := s.accountKey(next.ID)
	unique := s.uniqueKeys(next)
	watched := append([]string{key}, unique...)

	for i := 0; i < maxRetries; i++ {
		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, watched...).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return account.ErrDuplicate
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldVersion, next.Version, fieldDoc, data)
				for _, k := range s.allKeys(next) {
					pipe.Set(ctx, k, next.ID, 0)
				}
				return nil
			})
			return err
		}, watched...)

		switch {
		case err == nil:
			acct.Version = next.Version
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, account.ErrDuplicate):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return account.ErrDuplicate
}

// Save writes acct when the stored version equals acct.Version. Index keys
// the new row no longer carries are removed in the same transaction.
func (s *Store) Save(ctx context.Context, acct *account.Account) error {
	next := acct.Clone()
	next.Version = acct.Version + 1
	data, err := encodeAccount(next)
	if err != nil {
		return err
	}

	key := s.accountKey(acct.ID)
	watched := append([]string{key}, s.uniqueKeys(next)...)

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, acct.ID)
		if err != nil {
			return err
		}
		if current.Version != acct.Version {
			return account.ErrConflict
		}

		for _, k := range s.uniqueKeys(next) {
			owner, err := tx.Get(ctx, k).Result()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			case owner != acct.ID:
				return account.ErrDuplicate
			}
		}

		keep := make(map[string]struct{})
		for _, k := range s.allKeys(next) {
			keep[k] = struct{}{}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range s.allKeys(current) {
				if _, ok := keep[k]; !ok {
					pipe.Del(ctx, k)
				}
			}
			pipe.HSet(ctx, key, fieldVersion, next.Version, fieldDoc, data)
			for k := range keep {
				pipe.Set(ctx, k, next.ID, 0)
			}
			return nil
		})
		return err
	}, watched...)

	switch {
	case err == nil:
		acct.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, account.ErrConflict):
		return account.ErrConflict
	case errors.Is(err, account.ErrNotFound), errors.Is(err, account.ErrDuplicate), errors.Is(err, ErrRecordCorrupt):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
}

// Ping checks the redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
