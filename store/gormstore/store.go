// Package gormstore is an account.Store built on gorm. It is exercised
// against SQLite; any gorm dialect with unique indexes works.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/account"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is a gorm-backed identity store.
type Store struct {
	db *gorm.DB
}

var _ account.Store = (*Store)(nil)

// OpenSQLite opens a SQLite database at path with error translation on.
// SQLite allows a single writer, so the pool is capped at one connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// New returns a Store on db after migrating its tables.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&accountModel{}, &usedResetTokenModel{}, &identityModel{}); err != nil {
		return nil, fmt.Errorf("migrate accounts: %w", err)
	}
	return &Store{db: db}, nil
}

/*
====================================
LOOKUPS
====================================
*/

func (s *Store) FindByID(ctx context.Context, id string) (*account.Account, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.findOne(ctx, "email = ?", email)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	return s.findOne(ctx, "username = ?", username)
}

func (s *Store) FindByRefreshTokenHash(ctx context.Context, hash string) (*account.Account, error) {
	return s.findOne(ctx, "refresh_token_hash = ?", hash)
}

func (s *Store) FindByResetTokenHash(ctx context.Context, hash string) (*account.Account, error) {
	used := s.db.Model(&usedResetTokenModel{}).Select("account_id").Where("token_hash = ?", hash)
	return s.findOne(ctx, "reset_token_hash = ? OR id IN (?)", hash, used)
}

func (s *Store) FindByVerificationTokenHash(ctx context.Context, hash string) (*account.Account, error) {
	return s.findOne(ctx, "verification_token_hash = ?", hash)
}

func (s *Store) FindByExternalIdentity(ctx context.Context, provider, subject string) (*account.Account, error) {
	if provider == "" || subject == "" {
		return nil, account.ErrNotFound
	}
	owner := s.db.Model(&identityModel{}).Select("account_id").Where("provider = ? AND subject = ?", provider, subject)
	return s.findOne(ctx, "id IN (?)", owner)
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (*account.Account, error) {
	if v, ok := args[0].(string); ok && v == "" {
		return nil, account.ErrNotFound
	}

	var row accountModel
	err := s.db.WithContext(ctx).Where(query, args...).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("query account: %w", err)
	}

	acct, err := row.toAccount()
	if err != nil {
		return nil, err
	}

	var used []usedResetTokenModel
	if err := s.db.WithContext(ctx).Where("account_id = ?", acct.ID).Order("position").Find(&used).Error; err != nil {
		return nil, fmt.Errorf("query used reset tokens: %w", err)
	}
	for _, u := range used {
		acct.UsedResetTokenHashes = append(acct.UsedResetTokenHashes, u.TokenHash)
	}

	var ids []identityModel
	if err := s.db.WithContext(ctx).Where("account_id = ?", acct.ID).Order("position").Find(&ids).Error; err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	for _, id := range ids {
		acct.Identities = append(acct.Identities, account.ExternalIdentity{Provider: id.Provider, Subject: id.Subject})
	}
	return acct, nil
}

/*
====================================
WRITES
====================================
*/

// Create inserts acct with Version 1.
func (s *Store) Create(ctx context.Context, acct *account.Account) error {
	row := toModel(acct, 1)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return writeChildren(tx, acct)
	})
	if err != nil {
		return mapWriteError("create account", err)
	}
	acct.Version = 1
	return nil
}

// Save writes acct when the stored version equals acct.Version.
func (s *Store) Save(ctx context.Context, acct *account.Account) error {
	next := acct.Version + 1
	row := toModel(acct, next)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&accountModel{}).
			Where("id = ? AND version = ?", acct.ID, acct.Version).
			Select("*").Omit("id").
			Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&accountModel{}).Where("id = ?", acct.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return account.ErrNotFound
			}
			return account.ErrConflict
		}

		if err := tx.Where("account_id = ?", acct.ID).Delete(&usedResetTokenModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", acct.ID).Delete(&identityModel{}).Error; err != nil {
			return err
		}
		return writeChildren(tx, acct)
	})
	if err != nil {
		return mapWriteError("save account", err)
	}
	acct.Version = next
	return nil
}

func writeChildren(tx *gorm.DB, acct *account.Account) error {
	if len(acct.UsedResetTokenHashes) > 0 {
		used := make([]usedResetTokenModel, 0, len(acct.UsedResetTokenHashes))
		for i, hash := range acct.UsedResetTokenHashes {
			used = append(used, usedResetTokenModel{AccountID: acct.ID, Position: i, TokenHash: hash})
		}
		if err := tx.Create(&used).Error; err != nil {
			return err
		}
	}
	if len(acct.Identities) > 0 {
		ids := make([]identityModel, 0, len(acct.Identities))
		for i, id := range acct.Identities {
			ids = append(ids, identityModel{Provider: id.Provider, Subject: id.Subject, AccountID: acct.ID, Position: i})
		}
		if err := tx.Create(&ids).Error; err != nil {
			return err
		}
	}
	return nil
}

func mapWriteError(op string, err error) error {
	switch {
	case errors.Is(err, account.ErrNotFound), errors.Is(err, account.ErrConflict):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return account.ErrDuplicate
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Ping checks the underlying database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
