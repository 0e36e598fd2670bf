// Package memstore is an in-process account.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/MrEthical07/authcore/account"
)

// Store keeps accounts in memory. Email and username lookups are indexed;
// token lookups scan. Every value crossing the API is a deep copy.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*account.Account
	byEmail    map[string]string
	byUsername map[string]string
}

var _ account.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:       make(map[string]*account.Account),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

// Len returns the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) FindByID(_ context.Context, id string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneOf(id)
}

func (s *Store) FindByEmail(_ context.Context, email string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneOf(s.byEmail[email])
}

func (s *Store) FindByUsername(_ context.Context, username string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneOf(s.byUsername[username])
}

func (s *Store) FindByRefreshTokenHash(_ context.Context, hash string) (*account.Account, error) {
	return s.scan(hash, func(a *account.Account) bool {
		return a.RefreshTokenHash == hash
	})
}

func (s *Store) FindByResetTokenHash(_ context.Context, hash string) (*account.Account, error) {
	return s.scan(hash, func(a *account.Account) bool {
		return a.PasswordResetTokenHash == hash || a.ResetHashUsed(hash)
	})
}

func (s *Store) FindByVerificationTokenHash(_ context.Context, hash string) (*account.Account, error) {
	return s.scan(hash, func(a *account.Account) bool {
		return a.EmailVerificationTokenHash == hash
	})
}

func (s *Store) FindByExternalIdentity(_ context.Context, provider, subject string) (*account.Account, error) {
	return s.scan(provider+subject, func(a *account.Account) bool {
		return a.HasIdentity(provider, subject)
	})
}

// Create inserts acct with Version 1.
func (s *Store) Create(_ context.Context, acct *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[acct.ID]; ok {
		return account.ErrDuplicate
	}
	if _, ok := s.byEmail[acct.Email]; ok {
		return account.ErrDuplicate
	}
	if acct.Username != "" {
		if _, ok := s.byUsername[acct.Username]; ok {
			return account.ErrDuplicate
		}
	}
	for _, id := range acct.Identities {
		if s.identityTaken(id, "") {
			return account.ErrDuplicate
		}
	}

	acct.Version = 1
	s.put(acct.Clone())
	return nil
}

// Save replaces the stored row when its Version equals acct.Version.
func (s *Store) Save(_ context.Context, acct *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[acct.ID]
	if !ok {
		return account.ErrNotFound
	}
	if current.Version != acct.Version {
		return account.ErrConflict
	}
	if owner, ok := s.byEmail[acct.Email]; ok && owner != acct.ID {
		return account.ErrDuplicate
	}
	if owner, ok := s.byUsername[acct.Username]; ok && acct.Username != "" && owner != acct.ID {
		return account.ErrDuplicate
	}
	for _, id := range acct.Identities {
		if s.identityTaken(id, acct.ID) {
			return account.ErrDuplicate
		}
	}

	delete(s.byEmail, current.Email)
	if current.Username != "" {
		delete(s.byUsername, current.Username)
	}

	acct.Version++
	s.put(acct.Clone())
	return nil
}

func (s *Store) put(acct *account.Account) {
	s.byID[acct.ID] = acct
	s.byEmail[acct.Email] = acct.ID
	if acct.Username != "" {
		s.byUsername[acct.Username] = acct.ID
	}
}

func (s *Store) identityTaken(id account.ExternalIdentity, owner string) bool {
	for accountID, a := range s.byID {
		if accountID != owner && a.HasIdentity(id.Provider, id.Subject) {
			return true
		}
	}
	return false
}

// cloneOf must be called with s.mu held.
func (s *Store) cloneOf(id string) (*account.Account, error) {
	if id == "" {
		return nil, account.ErrNotFound
	}
	a, ok := s.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Store) scan(key string, match func(*account.Account) bool) (*account.Account, error) {
	if key == "" {
		return nil, account.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.byID {
		if match(a) {
			return a.Clone(), nil
		}
	}
	return nil, account.ErrNotFound
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}
