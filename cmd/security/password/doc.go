// Package password hashes and verifies operator console passwords with Argon2id.
//
// Hashes use the PHC-style string
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// and are produced offline by `cowork hash-password`; the gateway only verifies.
// Encoded hashes are untrusted input: Verify refuses parameters far above the configured cost.
package password
