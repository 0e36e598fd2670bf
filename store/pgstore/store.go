// Package pgstore is an account.Store on PostgreSQL, reached through pgx's
// database/sql driver.
//
// Scalar fields live in the accounts table. Used reset token hashes and
// external identities live in child tables rewritten on every Save. Saves
// are conditional: UPDATE ... WHERE id = $1 AND version = $2.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

const accountColumns = `
	id, email, username, password_hash, first_name, last_name, role,
	is_active, email_verified, verification_token_hash, verification_expires_at,
	failed_login_attempts, locked_until,
	two_factor_enabled, factor_method, factor_secret, factor_code_hash, factor_code_expires_at,
	failed_two_factor_attempts,
	otp_code_hash, otp_expires_at, otp_failed_attempts,
	reset_token_hash, reset_expires_at, reset_requested_at,
	refresh_token_hash, refresh_token_expires_at, last_heartbeat_at, last_login_at,
	created_at, updated_at, version`

// Store is a PostgreSQL identity store.
type Store struct {
	db *sql.DB
}

var _ account.Store = (*Store)(nil)

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// New returns a Store on db. Run Migrate first.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

/*
====================================
LOOKUPS
====================================
*/

func (s *Store) FindByID(ctx context.Context, id string) (*account.Account, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.findOne(ctx, `WHERE email = $1`, email)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	return s.findOne(ctx, `WHERE username = $1`, username)
}

func (s *Store) FindByRefreshTokenHash(ctx context.Context, hash string) (*account.Account, error) {
	return s.findOne(ctx, `WHERE refresh_token_hash = $1`, hash)
}

func (s *Store) FindByResetTokenHash(ctx context.Context, hash string) (*account.Account, error) {
	return s.findOne(ctx, `
		WHERE reset_token_hash = $1
		   OR id IN (SELECT account_id FROM account_used_reset_tokens WHERE token_hash = $1)
		LIMIT 1`, hash)
}

func (s *Store) FindByVerificationTokenHash(ctx context.Context, hash string) (*account.Account, error) {
	return s.findOne(ctx, `WHERE verification_token_hash = $1`, hash)
}

func (s *Store) FindByExternalIdentity(ctx context.Context, provider, subject string) (*account.Account, error) {
	if provider == "" || subject == "" {
		return nil, account.ErrNotFound
	}
	return s.findOne(ctx, `
		WHERE id = (SELECT account_id FROM account_identities WHERE provider = $1 AND subject = $2)`,
		provider, subject)
}

func (s *Store) findOne(ctx context.Context, where string, args ...any) (*account.Account, error) {
	for _, arg := range args {
		if v, ok := arg.(string); ok && v == "" {
			return nil, account.ErrNotFound
		}
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts `+where, args...)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	if err := s.loadChildren(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Store) loadChildren(ctx context.Context, acct *account.Account) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_hash FROM account_used_reset_tokens
		WHERE account_id = $1 ORDER BY position`, acct.ID)
	if err != nil {
		return fmt.Errorf("query used reset tokens: %w", err)
	}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			rows.Close()
			return fmt.Errorf("scan used reset token: %w", err)
		}
		acct.UsedResetTokenHashes = append(acct.UsedResetTokenHashes, hash)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate used reset tokens: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT provider, subject FROM account_identities
		WHERE account_id = $1 ORDER BY position`, acct.ID)
	if err != nil {
		return fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id account.ExternalIdentity
		if err := rows.Scan(&id.Provider, &id.Subject); err != nil {
			return fmt.Errorf("scan identity: %w", err)
		}
		acct.Identities = append(acct.Identities, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate identities: %w", err)
	}
	return nil
}

/*
====================================
WRITES
====================================
*/

// Create inserts acct with Version 1.
func (s *Store) Create(ctx context.Context, acct *account.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	v := columnValues(acct, 1)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
	`, v...)
	if err != nil {
		return mapWriteError("insert account", err)
	}
	if err := writeChildren(ctx, tx, acct); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapWriteError("commit create", err)
	}

	acct.Version = 1
	return nil
}

// Save writes acct when the stored version equals acct.Version.
func (s *Store) Save(ctx context.Context, acct *account.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	next := acct.Version + 1
	v := columnValues(acct, next)
	// v[0] is id and v[31] the new version; the WHERE clause takes the old one.
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET
			email = $2, username = $3, password_hash = $4, first_name = $5, last_name = $6, role = $7,
			is_active = $8, email_verified = $9, verification_token_hash = $10, verification_expires_at = $11,
			failed_login_attempts = $12, locked_until = $13,
			two_factor_enabled = $14, factor_method = $15, factor_secret = $16, factor_code_hash = $17,
			factor_code_expires_at = $18, failed_two_factor_attempts = $19,
			otp_code_hash = $20, otp_expires_at = $21, otp_failed_attempts = $22,
			reset_token_hash = $23, reset_expires_at = $24, reset_requested_at = $25,
			refresh_token_hash = $26, refresh_token_expires_at = $27, last_heartbeat_at = $28, last_login_at = $29,
			created_at = $30, updated_at = $31, version = $32
		WHERE id = $1 AND version = $33
	`, append(v, acct.Version)...)
	if err != nil {
		return mapWriteError("update account", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, acct.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check account: %w", err)
		}
		if !exists {
			return account.ErrNotFound
		}
		return account.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM account_used_reset_tokens WHERE account_id = $1`, acct.ID); err != nil {
		return fmt.Errorf("clear used reset tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM account_identities WHERE account_id = $1`, acct.ID); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}
	if err := writeChildren(ctx, tx, acct); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapWriteError("commit save", err)
	}

	acct.Version = next
	return nil
}

func writeChildren(ctx context.Context, tx *sql.Tx, acct *account.Account) error {
	for i, hash := range acct.UsedResetTokenHashes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO account_used_reset_tokens (account_id, position, token_hash)
			VALUES ($1, $2, $3)
		`, acct.ID, i, hash); err != nil {
			return mapWriteError("insert used reset token", err)
		}
	}
	for i, id := range acct.Identities {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO account_identities (provider, subject, account_id, position)
			VALUES ($1, $2, $3, $4)
		`, id.Provider, id.Subject, acct.ID, i); err != nil {
			return mapWriteError("insert identity", err)
		}
	}
	return nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return account.ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

/*
====================================
ROW MAPPING
====================================
*/

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var (
		a                                                    account.Account
		role, method                                         string
		username, verifyHash, factorSecret, factorCode       sql.NullString
		otpHash, resetHash, refreshHash                      sql.NullString
		verifyExp, lockedUntil, factorExp, otpExp            sql.NullTime
		resetExp, resetReq, refreshExp, heartbeat, lastLogin sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Email, &username, &a.PasswordHash, &a.FirstName, &a.LastName, &role,
		&a.IsActive, &a.EmailVerified, &verifyHash, &verifyExp,
		&a.FailedLoginAttempts, &lockedUntil,
		&a.TwoFactorEnabled, &method, &factorSecret, &factorCode, &factorExp,
		&a.FailedTwoFactorAttempts,
		&otpHash, &otpExp, &a.OTPFailedAttempts,
		&resetHash, &resetExp, &resetReq,
		&refreshHash, &refreshExp, &heartbeat, &lastLogin,
		&a.CreatedAt, &a.UpdatedAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}

	factor, err := account.DecodeSecondFactor(account.EncodedFactor{
		Method:        account.Method(method),
		Secret:        factorSecret.String,
		CodeHash:      factorCode.String,
		CodeExpiresAt: timeOf(factorExp),
	})
	if err != nil {
		return nil, err
	}

	a.Username = username.String
	a.Role = account.Role(role)
	a.EmailVerificationTokenHash = verifyHash.String
	a.EmailVerificationExpiresAt = timeOf(verifyExp)
	a.LockedUntil = timeOf(lockedUntil)
	a.SecondFactor = factor
	a.OTPCodeHash = otpHash.String
	a.OTPExpiresAt = timeOf(otpExp)
	a.PasswordResetTokenHash = resetHash.String
	a.PasswordResetExpiresAt = timeOf(resetExp)
	a.PasswordResetRequestedAt = timeOf(resetReq)
	a.RefreshTokenHash = refreshHash.String
	a.RefreshTokenExpiresAt = timeOf(refreshExp)
	a.LastHeartbeatAt = timeOf(heartbeat)
	a.LastLoginAt = timeOf(lastLogin)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// columnValues lists acct in accountColumns order with version as the last
// value.
func columnValues(a *account.Account, version int64) []any {
	factor := account.EncodeSecondFactor(a.SecondFactor)
	return []any{
		a.ID, a.Email, nullString(a.Username), a.PasswordHash, a.FirstName, a.LastName, string(a.Role),
		a.IsActive, a.EmailVerified, nullString(a.EmailVerificationTokenHash), nullTime(a.EmailVerificationExpiresAt),
		a.FailedLoginAttempts, nullTime(a.LockedUntil),
		a.TwoFactorEnabled, string(factor.Method), nullString(factor.Secret), nullString(factor.CodeHash), nullTime(factor.CodeExpiresAt),
		a.FailedTwoFactorAttempts,
		nullString(a.OTPCodeHash), nullTime(a.OTPExpiresAt), a.OTPFailedAttempts,
		nullString(a.PasswordResetTokenHash), nullTime(a.PasswordResetExpiresAt), nullTime(a.PasswordResetRequestedAt),
		nullString(a.RefreshTokenHash), nullTime(a.RefreshTokenExpiresAt), nullTime(a.LastHeartbeatAt), nullTime(a.LastLoginAt),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(), version,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func timeOf(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
