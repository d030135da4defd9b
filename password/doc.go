// Package password implements credential hashing and verification with
// Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The [Hasher] supports transparent parameter upgrades: when a stored hash
// was produced with weaker parameters than the configured ones,
// [Hasher.NeedsUpgrade] returns true so the caller can re-hash on the next
// successful login.
//
// This package owns hashing and comparison only. Password policy and
// storage belong to the engine and the directory.
package password
