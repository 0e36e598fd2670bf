// Package store groups the account.Store implementations.
//
// Every implementation follows the same contract, exercised by
// store/storetest: Find* methods return account.ErrNotFound for missing rows,
// Create returns account.ErrDuplicate for a taken email, username or external
// identity, and Save is conditional on Account.Version, returning
// account.ErrConflict when the stored row moved on.
//
// Subpackages:
//   - memstore: in-process map guarded by a mutex, for tests and single-node demos
//   - redisstore: Redis hashes with secondary index keys and WATCH/MULTI saves
//   - pgstore: PostgreSQL through pgx's database/sql driver with embedded migrations
//   - gormstore: gorm, tested against SQLite
package store
