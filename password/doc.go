// Package password implements password hashing, verification and the
// composition policy for new passwords.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify also accepts bcrypt hashes carried over from older deployments.
// [Argon2.NeedsUpgrade] returns true for those and for argon2id hashes made
// with weaker parameters, so the caller can re-hash on the next successful
// login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
